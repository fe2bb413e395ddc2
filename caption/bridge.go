// Package caption implements the Speech-to-Caption Bridge. While the host is listening it
// mirrors recognition results into a live caption and, after 1500ms of quiet, forwards the
// finished segment to the chat engine as discussion context.
//
// Speech recognition is optional. A missing recognizer, or one reporting
// ErrRecognitionUnavailable, turns the bridge into a silent no-op.
package caption

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/telemetry"
)

// ErrRecognitionUnavailable is returned by recognizers on platforms without speech support.
var ErrRecognitionUnavailable = errors.New("caption: speech recognition unavailable")

const (
	DebounceWindow = 1500 * time.Millisecond
	// MinInterimRunes is the length an interim segment must exceed to be forwarded.
	MinInterimRunes = 10

	restartDelay = 250 * time.Millisecond
)

// State is the bridge's position in the utterance cycle.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateInterim   State = "interim"
	StateFinal     State = "final"
)

// Result is one recognition event carrying the accumulated text of the utterance.
type Result struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Recognizer is a continuous speech recognition stream. The channel closes when the
// stream ends, expectedly or not.
type Recognizer interface {
	Start(ctx context.Context) (<-chan Result, error)
	Stop() error
}

// Bridge turns recognition results into captions and forwarded segments.
type Bridge struct {
	group    *sched.Group
	rec      Recognizer
	forward  func(string)
	debounce *sched.Debouncer
	log      *slog.Logger

	// pubMu orders caption publications so a clear is never followed by a stale caption.
	pubMu sync.Mutex

	mu              sync.Mutex
	listening       bool
	state           State
	caption         string
	pendingFinal    string
	trailingInterim string
	gen             uint64
	cancel          context.CancelFunc
	warnedOnce      bool
	listeners       []func(string)
}

// NewBridge returns a Bridge forwarding finished segments to forward. rec may be nil.
func NewBridge(group *sched.Group, rec Recognizer, forward func(string)) *Bridge {
	b := &Bridge{
		group:   group,
		rec:     rec,
		forward: forward,
		state:   StateIdle,
		log:     slog.Default().With(slog.String("component", "caption")),
	}
	b.debounce = sched.NewDebouncer(group, DebounceWindow, b.flush)
	return b
}

// OnCaption registers fn, called with the visible caption whenever it changes.
func (b *Bridge) OnCaption(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// SetListening toggles the bridge. Turning it off clears the caption immediately and
// stops the underlying stream.
func (b *Bridge) SetListening(on bool) {
	b.mu.Lock()
	if on == b.listening {
		b.mu.Unlock()
		return
	}
	b.listening = on
	b.gen++
	gen := b.gen
	if on {
		b.state = StateListening
		b.mu.Unlock()
		b.startStream(gen)
		return
	}

	b.state = StateIdle
	hadCaption := b.caption != ""
	b.caption = ""
	b.pendingFinal = ""
	b.trailingInterim = ""
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	b.debounce.Cancel()
	if cancel != nil {
		cancel()
	}
	if b.rec != nil {
		if err := b.rec.Stop(); err != nil {
			b.log.Debug("recognizer stop", slog.Any("err", err))
		}
	}
	if hadCaption {
		b.publish("")
	}
}

// Listening reports whether the host toggled listening on.
func (b *Bridge) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// State returns the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Caption returns the visible live caption.
func (b *Bridge) Caption() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caption
}

func (b *Bridge) startStream(gen uint64) {
	if b.rec == nil {
		b.warnUnavailable(ErrRecognitionUnavailable)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.rec.Start(ctx)
	if err != nil {
		cancel()
		if errors.Is(err, ErrRecognitionUnavailable) {
			b.warnUnavailable(err)
			return
		}
		// typically "already started"
		b.log.Debug("recognizer start failed", slog.Any("err", err))
		return
	}

	b.mu.Lock()
	if !b.listening || b.gen != gen {
		b.mu.Unlock()
		cancel()
		return
	}
	b.cancel = cancel
	b.mu.Unlock()

	go b.consume(gen, ch)
}

func (b *Bridge) warnUnavailable(err error) {
	b.mu.Lock()
	warned := b.warnedOnce
	b.warnedOnce = true
	b.mu.Unlock()
	if !warned {
		b.log.Info("captions disabled", slog.Any("err", err))
	}
}

func (b *Bridge) consume(gen uint64, ch <-chan Result) {
	for r := range ch {
		b.handle(gen, r)
	}

	b.mu.Lock()
	restart := b.listening && b.gen == gen
	b.mu.Unlock()
	if restart {
		b.log.Debug("recognition stream ended while listening, restarting")
		b.group.After(restartDelay, func() {
			b.mu.Lock()
			still := b.listening && b.gen == gen
			b.mu.Unlock()
			if still {
				b.startStream(gen)
			}
		})
	}
}

func (b *Bridge) handle(gen uint64, r Result) {
	b.mu.Lock()
	if !b.listening || b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.caption = r.Text
	if r.Final {
		b.pendingFinal = r.Text
		b.trailingInterim = ""
		b.state = StateFinal
	} else {
		b.trailingInterim = r.Text
		b.state = StateInterim
	}
	b.mu.Unlock()

	b.debounce.Trigger()
	b.publishFor(gen, r.Text)
}

// flush runs when the debounce window closes.
func (b *Bridge) flush() {
	b.mu.Lock()
	var out string
	switch {
	case b.pendingFinal != "":
		out = b.pendingFinal
	case utf8.RuneCountInString(b.trailingInterim) > MinInterimRunes:
		out = b.trailingInterim
	}
	b.pendingFinal = ""
	b.trailingInterim = ""
	if b.listening {
		b.state = StateListening
	}
	b.mu.Unlock()

	if out == "" {
		return
	}
	telemetry.RecordCaptionForwarded()
	if b.forward != nil {
		b.forward(out)
	}
}

func (b *Bridge) publish(caption string) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.mu.Lock()
	fns := append([]func(string){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(caption)
	}
}

// publishFor publishes caption only if stream gen is still the listening one.
func (b *Bridge) publishFor(gen uint64, caption string) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.mu.Lock()
	if !b.listening || b.gen != gen {
		b.mu.Unlock()
		return
	}
	fns := append([]func(string){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(caption)
	}
}
