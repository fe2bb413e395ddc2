package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/bookclub-live/backend/caption"
	"github.com/onnwee/bookclub-live/backend/reactions"
	"github.com/onnwee/bookclub-live/backend/room"
	"github.com/onnwee/bookclub-live/backend/telemetry"
)

// existingRoom resolves {name} to a known room or writes the error.
func (h *Handlers) existingRoom(w http.ResponseWriter, r *http.Request) (*room.Controller, bool) {
	c, err := h.rooms.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return c, true
}

// HandleConnect is the transport's connected signal: it opens the room if needed and
// returns the join parameters.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var join room.Join
	if err := decodeJSON(w, r, &join); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := h.rooms.Open(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	params, err := c.Connected(r.Context(), join)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("room joined",
		slog.String("component", "http"),
		slog.String("room", params.Room),
		slog.Bool("host", join.Host))
	writeJSON(w, http.StatusOK, params)
}

type participantRequest struct {
	Participant string `json:"participant"`
}

// HandleDisconnect is the transport's disconnected signal for one participant.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	ended, err := c.Disconnected(req.Participant)
	if err != nil {
		writeError(w, err)
		return
	}
	if ended {
		telemetry.LoggerWithCorr(r.Context()).Info("room session closed by leave",
			slog.String("component", "http"), slog.String("room", c.Name()))
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	DisplayName string `json:"displayName"`
	Body        string `json:"body"`
	Host        bool   `json:"host"`
}

// HandleSubmitMessage posts a chat message to the live session.
func (h *Handlers) HandleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	msg, err := c.Submit(req.DisplayName, req.Body, req.Host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleListMessages returns the live session's messages in insertion order.
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	msgs, err := c.Messages()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleViewers returns the simulated viewer count.
func (h *Handlers) HandleViewers(w http.ResponseWriter, r *http.Request) {
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	n, err := c.Viewers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": c.Name(), "viewers": n})
}

// HandleReact creates a tapped reaction.
func (h *Handlers) HandleReact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := reactions.ParseKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	re, err := c.React(kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, re)
}

// HandleListReactions returns the reactions currently on screen.
func (h *Handlers) HandleListReactions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	list, err := c.Reactions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleTicker returns the floating comments currently on screen.
func (h *Handlers) HandleTicker(w http.ResponseWriter, r *http.Request) {
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	entries, err := c.Ticker()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleCaptions toggles listening (POST) or reports the live caption (GET).
func (h *Handlers) HandleCaptions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Listening bool `json:"listening"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.SetListening(req.Listening); err != nil {
			writeError(w, err)
			return
		}
	}
	state, err := c.Caption()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type transcriptRequest struct {
	Participant string `json:"participant"`
	Text        string `json:"text"`
	Final       bool   `json:"final"`
}

// HandleTranscript accepts one speech recognition result from a host's client.
func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, ok := h.existingRoom(w, r)
	if !ok {
		return
	}
	if err := c.PushTranscript(req.Participant, caption.Result{Text: req.Text, Final: req.Final}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleHistory returns persisted user messages of a room, oldest first, paged by id.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "chat persistence disabled", http.StatusServiceUnavailable)
		return
	}
	name, err := room.NormalizeName(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := parseIntQuery(r, "limit", 100)
	after := parseInt64Query(r, "after", 0)
	rows, err := h.history.History(r.Context(), name, after, limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed",
			slog.String("component", "http"), slog.String("room", name), slog.Any("err", err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleAdminRooms lists every open room.
func (h *Handlers) HandleAdminRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rooms.List())
}

// HandleAdminCloseRoom ends a room's session and forgets it.
func (h *Handlers) HandleAdminCloseRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.Close(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
