// Package sched provides the timing primitives shared by the live room components:
// a lifecycle-scoped timer group with cancel tokens, a debouncer built on top of it,
// and an injectable random source so timer-driven randomness can be scripted in tests.
//
// Everything a room schedules (viewer walk, reaction ticks and TTLs, staggered comment
// inserts, ticker expiry, caption debounce) is owned by one Group. Stopping the group on
// disconnect is the only teardown needed; individual items are never required to cancel.
package sched

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Token identifies a pending timer or periodic job inside a Group. The zero Token is never issued.
type Token uint64

// Group owns a set of timers and periodic jobs that share a lifetime.
type Group struct {
	clock clockwork.Clock

	mu      sync.Mutex
	next    Token
	timers  map[Token]clockwork.Timer
	periods map[Token]chan struct{}
	stopped bool
}

// NewGroup returns a Group driven by clock. A nil clock uses the real clock.
func NewGroup(clock clockwork.Clock) *Group {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Group{
		clock:   clock,
		timers:  make(map[Token]clockwork.Timer),
		periods: make(map[Token]chan struct{}),
	}
}

// Clock returns the clock driving the group.
func (g *Group) Clock() clockwork.Clock { return g.clock }

// Now is shorthand for g.Clock().Now().
func (g *Group) Now() time.Time { return g.clock.Now() }

// After runs fn once after d. It returns 0 when the group is already stopped.
func (g *Group) After(d time.Duration, fn func()) Token {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return 0
	}
	g.next++
	tok := g.next
	// reserve the slot before arming so a zero-delay timer cannot fire unregistered
	g.timers[tok] = nil
	g.mu.Unlock()

	t := g.clock.AfterFunc(d, func() {
		g.mu.Lock()
		_, live := g.timers[tok]
		delete(g.timers, tok)
		stopped := g.stopped
		g.mu.Unlock()
		if !live || stopped {
			return
		}
		fn()
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, live := g.timers[tok]; live {
		g.timers[tok] = t
	} else {
		// fired, cancelled or stopped while arming
		t.Stop()
	}
	return tok
}

// Every runs fn every d until the job is cancelled or the group stops.
func (g *Group) Every(d time.Duration, fn func()) Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return 0
	}
	g.next++
	tok := g.next
	done := make(chan struct{})
	g.periods[tok] = done
	ticker := g.clock.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return tok
}

// Cancel stops a pending timer or periodic job. It reports whether tok was still pending.
func (g *Group) Cancel(tok Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[tok]; ok {
		if t != nil {
			t.Stop()
		}
		delete(g.timers, tok)
		return true
	}
	if done, ok := g.periods[tok]; ok {
		close(done)
		delete(g.periods, tok)
		return true
	}
	return false
}

// Pending returns the number of timers and periodic jobs still armed.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers) + len(g.periods)
}

// Stop cancels everything in the group. Later After/Every calls are no-ops. Stop is idempotent.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	for tok, t := range g.timers {
		if t != nil {
			t.Stop()
		}
		delete(g.timers, tok)
	}
	for tok, done := range g.periods {
		close(done)
		delete(g.periods, tok)
	}
}

// Stopped reports whether Stop has been called.
func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
