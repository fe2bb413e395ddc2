package chat

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// RelayFunc delivers one relayed message into a room.
type RelayFunc func(displayName, body string) error

// StartTwitchRelay joins channel over Twitch IRC and delivers every chat message to deliver
// until ctx is cancelled. Delivery errors (typically the room being offline) are logged at debug.
func StartTwitchRelay(ctx context.Context, channel, username, oauth string, deliver RelayFunc) {
	if channel == "" || username == "" || oauth == "" {
		slog.Info("twitch creds not set; skipping chat relay")
		return
	}
	client := twitch.NewClient(username, oauth)
	client.OnPrivateMessage(relayHandler(channel, deliver))
	client.OnConnect(func() {
		slog.Info("twitch chat relay connected", slog.String("component", "twitch_relay"), slog.String("channel", channel))
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	client.Join(channel)
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch chat connect error", slog.Any("err", err), slog.String("component", "twitch_relay"))
	}
	<-done
}

func relayHandler(channel string, deliver RelayFunc) func(twitch.PrivateMessage) {
	return func(msg twitch.PrivateMessage) {
		body := strings.TrimSpace(msg.Message)
		if body == "" {
			return
		}
		name := msg.User.DisplayName
		if name == "" {
			name = msg.User.Name
		}
		if err := deliver(name, body); err != nil {
			slog.Debug("twitch relay message dropped",
				slog.String("component", "twitch_relay"),
				slog.String("channel", channel),
				slog.Any("err", err))
		}
	}
}
