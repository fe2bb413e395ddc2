// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/bookclub-live/backend/chat"
	"github.com/onnwee/bookclub-live/backend/room"
)

// Deps are the collaborators of the HTTP API.
type Deps struct {
	// DB may be nil when chat persistence is disabled; history then answers 503.
	DB    *sql.DB
	Rooms *room.Manager
	// SynthCheck reports whether the synthesis backend is configured. Nil means always ready.
	SynthCheck func() error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db         *sql.DB
	ctx        context.Context
	rooms      *room.Manager
	history    *chat.SQLStore
	synthCheck func() error
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	h := &Handlers{
		db:         deps.DB,
		ctx:        ctx,
		rooms:      deps.Rooms,
		synthCheck: deps.SynthCheck,
	}
	if deps.DB != nil {
		h.history = &chat.SQLStore{DB: deps.DB}
	}
	return h
}
