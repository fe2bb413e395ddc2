package sched

import (
	"sync"
	"time"
)

// Debouncer calls fn once, d after the most recent Trigger.
type Debouncer struct {
	group *Group
	d     time.Duration
	fn    func()

	mu  sync.Mutex
	tok Token
	gen uint64
}

// NewDebouncer returns a Debouncer whose timers live in group.
func NewDebouncer(group *Group, d time.Duration, fn func()) *Debouncer {
	return &Debouncer{group: group, d: d, fn: fn}
}

// Trigger (re)starts the window.
func (db *Debouncer) Trigger() {
	db.mu.Lock()
	old := db.tok
	db.tok = 0
	db.gen++
	gen := db.gen
	db.mu.Unlock()

	if old != 0 {
		db.group.Cancel(old)
	}
	tok := db.group.After(db.d, func() {
		db.mu.Lock()
		if db.gen != gen {
			db.mu.Unlock()
			return
		}
		db.tok = 0
		db.gen++
		db.mu.Unlock()
		db.fn()
	})

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.gen == gen {
		db.tok = tok
	}
}

// Cancel drops a pending call, if any.
func (db *Debouncer) Cancel() {
	db.mu.Lock()
	tok := db.tok
	db.tok = 0
	db.gen++
	db.mu.Unlock()
	if tok != 0 {
		db.group.Cancel(tok)
	}
}

// Pending reports whether a call is scheduled.
func (db *Debouncer) Pending() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tok != 0
}
