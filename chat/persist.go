package chat

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/bookclub-live/backend/telemetry"
)

// GuestName is stored when a user message carries no display name.
const GuestName = "Guest"

const persistTimeout = 5 * time.Second

// PersistedMessage is the stored form of a user chat message.
type PersistedMessage struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"messageId,omitempty"`
	Room        string    `json:"room"`
	DisplayName string    `json:"displayName"`
	Body        string    `json:"body"`
	Host        bool      `json:"host"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store receives user messages. The engine never reads it back.
type Store interface {
	InsertChatMessage(ctx context.Context, m PersistedMessage) error
}

// SQLStore persists chat messages in the chat_messages table.
type SQLStore struct {
	DB *sql.DB
}

// InsertChatMessage implements Store.
func (s *SQLStore) InsertChatMessage(ctx context.Context, m PersistedMessage) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, room, display_name, body, is_host, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.MessageID, m.Room, m.DisplayName, m.Body, m.Host, createdAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// History returns up to limit persisted messages of room, oldest first, starting after
// the row with id afterID (0 for the beginning).
func (s *SQLStore) History(ctx context.Context, room string, afterID int64, limit int) ([]PersistedMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, COALESCE(message_id, ''), room, display_name, body, is_host, created_at
		 FROM chat_messages WHERE room = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		room, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close chat history rows", slog.Any("err", err))
		}
	}()

	out := []PersistedMessage{}
	for rows.Next() {
		var m PersistedMessage
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Room, &m.DisplayName, &m.Body, &m.Host, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat history: %w", err)
	}
	return out, nil
}

// NewPersistenceSink returns an Observer writing OriginUser messages of room to store.
// Writes are fire-and-forget: each runs in its own goroutine with a 5s timeout and a
// failure is logged and counted, never surfaced.
func NewPersistenceSink(ctx context.Context, store Store, room string) Observer {
	log := slog.Default().With(slog.String("component", "chat_persist"), slog.String("room", room))
	return ObserverFunc(func(m Message) {
		if m.Origin != OriginUser {
			return
		}
		name := strings.TrimSpace(m.DisplayName)
		if name == "" {
			name = GuestName
		}
		pm := PersistedMessage{
			MessageID:   m.ID,
			Room:        room,
			DisplayName: name,
			Body:        m.Body,
			Host:        m.Host,
			CreatedAt:   m.CreatedAt.UTC(),
		}
		go func() {
			wctx, cancel := context.WithTimeout(ctx, persistTimeout)
			defer cancel()
			if err := store.InsertChatMessage(wctx, pm); err != nil {
				telemetry.RecordPersistFailure()
				log.Warn("failed to persist chat message", slog.Any("err", err))
			}
		}()
	})
}
