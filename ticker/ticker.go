// Package ticker implements the Floating Comment Ticker, a small self-expiring view over
// the newest chat messages of a room.
package ticker

import (
	"sync"
	"time"

	"github.com/onnwee/bookclub-live/backend/chat"
	"github.com/onnwee/bookclub-live/backend/sched"
)

const (
	Capacity = 4
	TTL      = 5000 * time.Millisecond
)

// Entry is one floating bubble.
type Entry struct {
	Message chat.Message `json:"message"`
	AddedAt time.Time    `json:"addedAt"`
}

// Ticker shows at most Capacity entries, evicting the oldest first, and removes each
// entry TTL after it was added. It never originates or persists messages.
type Ticker struct {
	group *sched.Group

	mu       sync.Mutex
	entries  []Entry
	seq      uint64
	seqs     []uint64
	onChange []func([]Entry)
}

// New returns a Ticker whose expiry timers live in group.
func New(group *sched.Group) *Ticker {
	return &Ticker{group: group}
}

// OnChange registers fn, called with the visible entries after every add and expiry.
func (t *Ticker) OnChange(fn func([]Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// OnMessage implements chat.Observer.
func (t *Ticker) OnMessage(m chat.Message) {
	now := t.group.Now()
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.entries = append(t.entries, Entry{Message: m, AddedAt: now})
	t.seqs = append(t.seqs, seq)
	if over := len(t.entries) - Capacity; over > 0 {
		t.entries = append([]Entry(nil), t.entries[over:]...)
		t.seqs = append([]uint64(nil), t.seqs[over:]...)
	}
	t.mu.Unlock()

	// an entry evicted before its timer fires makes the timer a no-op
	t.group.After(TTL, func() { t.expire(seq) })
	t.changed()
}

func (t *Ticker) expire(seq uint64) {
	t.mu.Lock()
	found := false
	for i, s := range t.seqs {
		if s == seq {
			t.entries = append(t.entries[:i:i], t.entries[i+1:]...)
			t.seqs = append(t.seqs[:i:i], t.seqs[i+1:]...)
			found = true
			break
		}
	}
	t.mu.Unlock()
	if found {
		t.changed()
	}
}

func (t *Ticker) changed() {
	visible := t.Visible()
	t.mu.Lock()
	fns := append([]func([]Entry){}, t.onChange...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(visible)
	}
}

// Visible returns the entries still within their TTL, oldest first.
func (t *Ticker) Visible() []Entry {
	now := t.group.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.AddedAt.Add(TTL).After(now) {
			out = append(out, e)
		}
	}
	return out
}
