package sched

import (
	"math/rand"
	"sync"
	"time"
)

// Rand is the randomness the room components draw from. *rand.Rand satisfies it,
// but is not safe for concurrent use; NewRand returns a locked one.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded from the wall clock.
func NewRand() Rand {
	//nolint:gosec // G404: cosmetic randomness (viewer counts, reactions, colors), not security sensitive
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Scripted is a Rand that replays fixed sequences. Once a sequence is exhausted its last
// value repeats; an empty sequence yields 0. Intn results are clamped into [0, n).
type Scripted struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	fi, ii int
	draws  int
}

// NewScripted returns a Scripted source replaying floats for Float64.
func NewScripted(floats ...float64) *Scripted {
	return &Scripted{floats: floats}
}

// WithInts sets the sequence replayed by Intn and returns s.
func (s *Scripted) WithInts(ints ...int) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ints = ints
	s.ii = 0
	return s
}

func (s *Scripted) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws++
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[min(s.fi, len(s.floats)-1)]
	s.fi++
	return v
}

func (s *Scripted) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws++
	if len(s.ints) == 0 || n <= 0 {
		return 0
	}
	v := s.ints[min(s.ii, len(s.ints)-1)]
	s.ii++
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// Draws returns how many values have been drawn so far.
func (s *Scripted) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draws
}
