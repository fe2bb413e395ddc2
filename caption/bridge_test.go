package caption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/testutil"
)

type forwarded struct {
	mu   sync.Mutex
	segs []string
}

func (f *forwarded) add(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segs = append(f.segs, s)
}

func (f *forwarded) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.segs...)
}

type harness struct {
	b        *Bridge
	rec      *PushRecognizer
	clock    clockwork.FakeClock
	fw       *forwarded
	captions *forwarded
}

func setup(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	t.Cleanup(group.Stop)
	h := &harness{rec: NewPushRecognizer(true), clock: clock, fw: &forwarded{}, captions: &forwarded{}}
	h.b = NewBridge(group, h.rec, h.fw.add)
	h.b.OnCaption(h.captions.add)
	t.Cleanup(func() { h.b.SetListening(false) })
	return h
}

// push delivers r and waits for its caption. Captions are published after the debounce
// window is re-armed, so the fake clock can be advanced right away.
func (h *harness) push(t *testing.T, r Result) {
	t.Helper()
	n := len(h.captions.get())
	if err := h.rec.Push(r); err != nil {
		t.Fatalf("Push: %v", err)
	}
	testutil.WaitFor(t, "caption update", func() bool {
		c := h.captions.get()
		return len(c) == n+1 && c[n] == r.Text
	})
}

func TestInterimLongerThanTenIsForwarded(t *testing.T) {
	h := setup(t)
	b, clock, fw := h.b, h.clock, h.fw
	b.SetListening(true)

	h.push(t, Result{Text: "the theme of"})
	if b.State() != StateInterim {
		t.Errorf("state = %s, want interim", b.State())
	}

	clock.Advance(1499 * time.Millisecond)
	testutil.Settle()
	if got := fw.get(); len(got) != 0 {
		t.Fatalf("forwarded %v before the window closed", got)
	}

	clock.Advance(time.Millisecond)
	testutil.WaitFor(t, "forwarded segment", func() bool { return len(fw.get()) == 1 })
	testutil.Settle()
	if got := fw.get(); len(got) != 1 || got[0] != "the theme of" {
		t.Errorf("forwarded = %v, want exactly [the theme of]", got)
	}
	if b.State() != StateListening {
		t.Errorf("state = %s after flush, want listening", b.State())
	}
}

func TestShortInterimIsDropped(t *testing.T) {
	h := setup(t)
	b, clock, fw := h.b, h.clock, h.fw
	b.SetListening(true)

	h.push(t, Result{Text: "the theme"})
	clock.Advance(DebounceWindow)
	testutil.Settle()
	if got := fw.get(); len(got) != 0 {
		t.Errorf("forwarded %v, want nothing for a 9 character interim", got)
	}
	if b.Caption() != "the theme" {
		t.Errorf("caption = %q, the visible caption stays until the next result", b.Caption())
	}
}

func TestFinalWinsOverTrailingInterim(t *testing.T) {
	h := setup(t)
	b, clock, fw := h.b, h.clock, h.fw
	b.SetListening(true)

	h.push(t, Result{Text: "ok.", Final: true})
	h.push(t, Result{Text: "and the next thought"})

	clock.Advance(DebounceWindow)
	testutil.WaitFor(t, "forwarded segment", func() bool { return len(fw.get()) == 1 })
	if got := fw.get()[0]; got != "ok." {
		t.Errorf("forwarded %q, want the final segment", got)
	}
}

func TestDebounceRestartsOnEveryResult(t *testing.T) {
	h := setup(t)
	b, clock, fw := h.b, h.clock, h.fw
	b.SetListening(true)

	h.push(t, Result{Text: "what strikes me"})
	clock.Advance(time.Second)
	h.push(t, Result{Text: "what strikes me most is"})
	clock.Advance(time.Second)
	testutil.Settle()
	if got := fw.get(); len(got) != 0 {
		t.Fatalf("forwarded %v inside the window", got)
	}

	clock.Advance(500 * time.Millisecond)
	testutil.WaitFor(t, "one forwarded segment", func() bool { return len(fw.get()) == 1 })
	if got := fw.get()[0]; got != "what strikes me most is" {
		t.Errorf("forwarded %q", got)
	}
}

func TestStopListeningClearsCaption(t *testing.T) {
	h := setup(t)
	b, clock, fw := h.b, h.clock, h.fw
	b.SetListening(true)
	h.push(t, Result{Text: "a longer interim text"})

	b.SetListening(false)
	if b.Caption() != "" || b.State() != StateIdle {
		t.Errorf("caption=%q state=%s after stop", b.Caption(), b.State())
	}
	if err := h.rec.Push(Result{Text: "late"}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Push after stop error = %v, want ErrNotStarted", err)
	}
	clock.Advance(DebounceWindow)
	testutil.Settle()
	if got := fw.get(); len(got) != 0 {
		t.Errorf("forwarded %v after listening stopped", got)
	}
	captions := h.captions.get()
	if len(captions) == 0 || captions[len(captions)-1] != "" {
		t.Errorf("caption listeners = %v, want a trailing clear", captions)
	}
}

func TestClearIsNeverFollowedByStaleCaption(t *testing.T) {
	h := setup(t)
	b := h.b
	for round := 0; round < 50; round++ {
		b.SetListening(true)
		for i := 0; i < 5; i++ {
			_ = h.rec.Push(Result{Text: "still talking about chapter one"})
		}
		b.SetListening(false)
		testutil.Settle()
		captions := h.captions.get()
		if n := len(captions); n > 0 && captions[n-1] != "" {
			t.Fatalf("round %d: caption %q published after listening stopped", round, captions[n-1])
		}
	}
}

func TestUnavailableRecognitionIsNoop(t *testing.T) {
	group := sched.NewGroup(clockwork.NewFakeClock())
	defer group.Stop()

	for _, rec := range []Recognizer{nil, NewPushRecognizer(false)} {
		b := NewBridge(group, rec, func(string) { t.Error("nothing should be forwarded") })
		b.SetListening(true)
		if !b.Listening() {
			t.Errorf("listening flag should follow the host toggle")
		}
		b.SetListening(false)
	}
}

type flakyRecognizer struct {
	mu     sync.Mutex
	starts int
	ch     chan Result
}

func (f *flakyRecognizer) Start(context.Context) (<-chan Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.starts == 2 {
		return nil, errors.New("already started")
	}
	f.ch = make(chan Result, 1)
	return f.ch, nil
}

func (f *flakyRecognizer) Stop() error { return nil }

func (f *flakyRecognizer) end() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.ch)
}

func (f *flakyRecognizer) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func TestStreamRestartsWhileListening(t *testing.T) {
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	defer group.Stop()
	rec := &flakyRecognizer{}
	b := NewBridge(group, rec, nil)
	b.SetListening(true)

	rec.end()
	testutil.BlockUntil(t, clock, 1)
	clock.Advance(restartDelay)
	testutil.WaitFor(t, "second start", func() bool { return rec.Starts() == 2 })

	// the second start fails; the error is swallowed and the bridge stays usable
	if !b.Listening() {
		t.Error("bridge stopped listening after a failed restart")
	}
	b.SetListening(false)
	b.SetListening(true)
	if rec.Starts() != 3 {
		t.Errorf("starts = %d, want 3", rec.Starts())
	}
}
