package room

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names what changed in a room.
type EventType string

const (
	EventMessage  EventType = "message"
	EventViewers  EventType = "viewers"
	EventReaction EventType = "reaction"
	EventTicker   EventType = "ticker"
	EventCaption  EventType = "caption"
	EventSession  EventType = "session"
)

// Event is one state change fanned out to room subscribers.
type Event struct {
	Type EventType `json:"type"`
	Room string    `json:"room"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// HubStats counts hub traffic since creation.
type HubStats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Hub fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event (drop-new).
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// DefaultBuffer is the per-subscriber buffer used when Subscribe is given a non-positive size.
const DefaultBuffer = 64

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Subscribe returns a buffered channel of events and a function to release it.
// On a closed hub the channel is returned already closed.
func (h *Hub) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	ch := make(chan Event, buf)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with buffer space left.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return HubStats{
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: n,
	}
}
