package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/bookclub-live/backend/testutil"
)

type memStore struct {
	mu   sync.Mutex
	rows []PersistedMessage
	err  error
}

func (s *memStore) InsertChatMessage(_ context.Context, m PersistedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, m)
	return nil
}

func (s *memStore) Rows() []PersistedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PersistedMessage(nil), s.rows...)
}

func TestPersistenceSinkWritesUserMessagesOnly(t *testing.T) {
	store := &memStore{}
	sink := NewPersistenceSink(context.Background(), store, "chapter-club")

	sink.OnMessage(Message{ID: "1", DisplayName: "", Body: "first!", Origin: OriginUser})
	sink.OnMessage(Message{ID: "2", DisplayName: "Bot", Body: "so true", Origin: OriginSynthesized})
	sink.OnMessage(Message{ID: "3", DisplayName: "Host", Body: "welcome", Origin: OriginUser, Host: true})

	testutil.WaitFor(t, "two persisted rows", func() bool { return len(store.Rows()) == 2 })
	testutil.Settle()

	rows := store.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (synthesized messages are never persisted)", len(rows))
	}
	byID := map[string]PersistedMessage{}
	for _, r := range rows {
		byID[r.MessageID] = r
		if r.Room != "chapter-club" {
			t.Errorf("room = %q", r.Room)
		}
	}
	if got := byID["1"].DisplayName; got != GuestName {
		t.Errorf("empty display name stored as %q, want %q", got, GuestName)
	}
	if !byID["3"].Host {
		t.Errorf("host flag lost")
	}
}

func TestPersistenceFailureIsContained(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	e, _ := newTestEngine(t, nil, nil)
	e.Subscribe(NewPersistenceSink(context.Background(), store, "r"))

	msg := e.Submit("ada", "still visible", false)
	if e.Len() != 1 || e.Messages()[0].ID != msg.ID {
		t.Fatalf("message must stay in the local sequence when persistence fails")
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &SQLStore{DB: database}
	ctx := context.Background()
	room := "sqlstore-" + time.Now().Format("150405.000000")

	for _, body := range []string{"one", "two", "three"} {
		err := store.InsertChatMessage(ctx, PersistedMessage{Room: room, DisplayName: "Ada", Body: body, CreatedAt: time.Now()})
		if err != nil {
			t.Fatalf("InsertChatMessage: %v", err)
		}
	}

	page, err := store.History(ctx, room, 0, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 2 || page[0].Body != "one" || page[1].Body != "two" {
		t.Fatalf("first page = %+v", page)
	}
	rest, err := store.History(ctx, room, page[1].ID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rest) != 1 || rest[0].Body != "three" {
		t.Errorf("second page = %+v", rest)
	}
}

func TestRelayHandler(t *testing.T) {
	type delivered struct{ name, body string }
	var got []delivered
	h := relayHandler("bookclub", func(name, body string) error {
		got = append(got, delivered{name, body})
		if body == "offline" {
			return errors.New("room offline")
		}
		return nil
	})

	h(twitch.PrivateMessage{User: twitch.User{Name: "ada", DisplayName: "Ada"}, Message: " loved it "})
	h(twitch.PrivateMessage{User: twitch.User{Name: "bob"}, Message: "offline"})
	h(twitch.PrivateMessage{User: twitch.User{Name: "eve"}, Message: "   "})

	if len(got) != 2 {
		t.Fatalf("delivered %d messages, want 2: %v", len(got), got)
	}
	if got[0] != (delivered{"Ada", "loved it"}) {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].name != "bob" {
		t.Errorf("display name should fall back to login, got %q", got[1].name)
	}
}
