// Package reactions implements the Reaction Overlay Engine: ephemeral emoji reactions
// created by viewer taps or by a background generator, each living exactly 2 seconds.
package reactions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/telemetry"
)

// Kind is a reaction emoji.
type Kind string

const (
	Like  Kind = "like"
	Love  Kind = "love"
	Care  Kind = "care"
	Laugh Kind = "laugh"
	Wow   Kind = "wow"
	Sad   Kind = "sad"
	Angry Kind = "angry"
)

var (
	// Kinds lists every reaction a viewer can tap.
	Kinds = []Kind{Like, Love, Care, Laugh, Wow, Sad, Angry}
	// AmbientKinds is the subset the background generator draws from.
	AmbientKinds = []Kind{Like, Love, Laugh, Wow}

	ErrUnknownKind = errors.New("reactions: unknown kind")
)

// ParseKind validates s as a reaction kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

const (
	TickInterval     = 600 * time.Millisecond
	AmbientThreshold = 0.6
	TTL              = 2000 * time.Millisecond

	positionMin    = 10.0
	positionSpread = 80.0
)

// Source tells tapped reactions from generated ones.
type Source string

const (
	SourceTap     Source = "tap"
	SourceAmbient Source = "ambient"
)

// Reaction is one floating emoji. Position is a percentage of the container width in [10, 90).
type Reaction struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Position  float64   `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	Source    Source    `json:"source"`
}

// Change reports a reaction entering or leaving the overlay.
type Change struct {
	Reaction Reaction `json:"reaction"`
	Removed  bool     `json:"removed"`
}

// Overlay holds the live reactions of a session. It has no capacity cap.
type Overlay struct {
	group *sched.Group
	rnd   sched.Rand

	mu        sync.Mutex
	active    []Reaction
	tickTok   sched.Token
	listeners []func(Change)
}

// NewOverlay returns an Overlay whose timers live in group.
func NewOverlay(group *sched.Group, rnd sched.Rand) *Overlay {
	if rnd == nil {
		rnd = sched.NewRand()
	}
	return &Overlay{group: group, rnd: rnd}
}

// Subscribe registers fn for every add and removal. Listeners run outside the overlay lock.
func (o *Overlay) Subscribe(fn func(Change)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Start arms the background generator.
func (o *Overlay) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tickTok != 0 {
		return
	}
	o.tickTok = o.group.Every(TickInterval, func() { o.Tick() })
}

// Stop disarms the background generator. Pending removals stay with the group.
func (o *Overlay) Stop() {
	o.mu.Lock()
	tok := o.tickTok
	o.tickTok = 0
	o.mu.Unlock()
	if tok != 0 {
		o.group.Cancel(tok)
	}
}

// Tick runs one generator step: a draw above 0.6 creates one ambient reaction.
func (o *Overlay) Tick() (Reaction, bool) {
	if o.rnd.Float64() <= AmbientThreshold {
		return Reaction{}, false
	}
	kind := AmbientKinds[o.rnd.Intn(len(AmbientKinds))]
	return o.add(kind, SourceAmbient), true
}

// Tap creates one reaction of exactly kind, bypassing the probability gate.
func (o *Overlay) Tap(kind Kind) (Reaction, error) {
	k, err := ParseKind(string(kind))
	if err != nil {
		return Reaction{}, err
	}
	return o.add(k, SourceTap), nil
}

func (o *Overlay) add(kind Kind, src Source) Reaction {
	r := Reaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Position:  positionMin + o.rnd.Float64()*positionSpread,
		CreatedAt: o.group.Now(),
		Source:    src,
	}
	o.mu.Lock()
	o.active = append(o.active, r)
	listeners := append([]func(Change){}, o.listeners...)
	o.mu.Unlock()

	o.group.After(TTL, func() { o.remove(r.ID) })
	telemetry.RecordReaction(string(src))
	for _, fn := range listeners {
		fn(Change{Reaction: r})
	}
	return r
}

func (o *Overlay) remove(id string) {
	o.mu.Lock()
	var removed *Reaction
	for i := range o.active {
		if o.active[i].ID == id {
			r := o.active[i]
			removed = &r
			o.active = append(o.active[:i], o.active[i+1:]...)
			break
		}
	}
	listeners := append([]func(Change){}, o.listeners...)
	o.mu.Unlock()
	if removed == nil {
		return
	}
	for _, fn := range listeners {
		fn(Change{Reaction: *removed, Removed: true})
	}
}

// Visible returns the reactions still within their TTL, oldest first.
func (o *Overlay) Visible() []Reaction {
	now := o.group.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Reaction, 0, len(o.active))
	for _, r := range o.active {
		if r.CreatedAt.Add(TTL).After(now) {
			out = append(out, r)
		}
	}
	return out
}
