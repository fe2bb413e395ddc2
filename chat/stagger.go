package chat

import (
	"time"

	"github.com/onnwee/bookclub-live/backend/sched"
)

// Default stagger draw bounds: every item waits (i+1) * U[500ms, 2500ms).
const (
	StaggerMin    = 500 * time.Millisecond
	StaggerSpread = 2000 * time.Millisecond
)

// Stagger drip-feeds a synthesized batch into a sink so it reads like organic arrivals.
//
// Item i of a batch fires (i+1)*draw_i after receipt, with a fresh draw per item. This is
// not a running sum, so a later item occasionally lands before an earlier one.
type Stagger struct {
	group *sched.Group
	rnd   sched.Rand
	sink  func(Message)

	Min    time.Duration
	Spread time.Duration
}

// NewStagger returns a Stagger whose pending inserts belong to group.
func NewStagger(group *sched.Group, rnd sched.Rand, sink func(Message)) *Stagger {
	return &Stagger{group: group, rnd: rnd, sink: sink, Min: StaggerMin, Spread: StaggerSpread}
}

// Delay draws the insert delay of item i.
func (s *Stagger) Delay(i int) time.Duration {
	draw := s.Min + time.Duration(s.rnd.Float64()*float64(s.Spread))
	return time.Duration(i+1) * draw
}

// Schedule arms one insert per item and returns their tokens.
func (s *Stagger) Schedule(batch []Message) []sched.Token {
	toks := make([]sched.Token, 0, len(batch))
	for i, m := range batch {
		tok := s.group.After(s.Delay(i), func() { s.sink(m) })
		if tok != 0 {
			toks = append(toks, tok)
		}
	}
	return toks
}
