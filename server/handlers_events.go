package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/bookclub-live/backend/caption"
	"github.com/onnwee/bookclub-live/backend/reactions"
	"github.com/onnwee/bookclub-live/backend/room"
	"github.com/onnwee/bookclub-live/backend/telemetry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 8 << 10
	wsBuffer     = 64
)

// clientFrame is a frame sent by a websocket client. Transcript results are accepted
// only from a connection opened with a host's participant id; any client may send
// reaction taps.
type clientFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// HandleEvents upgrades to a websocket and streams the room's events until either side
// goes away. The room is opened if needed so clients can wait for the host. The optional
// participant query parameter ties the connection to a join.
func (h *Handlers) HandleEvents(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.rooms.Open(r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		participant := r.URL.Query().Get("participant")
		log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "ws"), slog.String("room", c.Name()))

		// subscribe before the handshake completes so no event after it is missed
		events, unsubscribe := c.Hub().Subscribe(wsBuffer)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error
			unsubscribe()
			log.Debug("websocket upgrade failed", slog.Any("err", err))
			return
		}

		ctx, cancel := context.WithCancel(h.ctx)
		go func() {
			defer cancel()
			readFrames(conn, c, participant, log)
		}()
		writeEvents(ctx, conn, events, log)

		unsubscribe()
		cancel()
		if err := conn.Close(); err != nil {
			log.Debug("websocket close", slog.Any("err", err))
		}
		log.Debug("websocket client gone")
	}
}

// writeEvents pushes hub events and keepalive pings until ctx ends, the hub closes or a
// write fails.
func writeEvents(ctx context.Context, conn *websocket.Conn, events <-chan room.Event, log *slog.Logger) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", slog.Any("err", err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readFrames handles client frames until the connection fails.
func readFrames(conn *websocket.Conn, c *room.Controller, participant string, log *slog.Logger) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug("bad websocket frame", slog.Any("err", err))
			continue
		}
		if err := handleFrame(c, participant, f); err != nil {
			log.Debug("websocket frame rejected", slog.String("type", f.Type), slog.Any("err", err))
		}
	}
}

func handleFrame(c *room.Controller, participant string, f clientFrame) error {
	switch f.Type {
	case "transcript":
		return c.PushTranscript(participant, caption.Result{Text: f.Text, Final: f.Final})
	case "reaction":
		kind, err := reactions.ParseKind(f.Kind)
		if err != nil {
			return err
		}
		_, err = c.React(kind)
		return err
	default:
		return nil
	}
}
