package reactions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/testutil"
)

func newTestOverlay(t *testing.T, rnd sched.Rand) (*Overlay, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	t.Cleanup(group.Stop)
	return NewOverlay(group, rnd), clock
}

func TestTickGate(t *testing.T) {
	tests := []struct {
		draw float64
		want bool
	}{
		{0.0, false},
		{0.6, false},
		{0.61, true},
		{0.99, true},
	}
	for _, tt := range tests {
		o, _ := newTestOverlay(t, sched.NewScripted(tt.draw, 0.5).WithInts(2))
		r, created := o.Tick()
		if created != tt.want {
			t.Errorf("draw %.2f: created = %v, want %v", tt.draw, created, tt.want)
			continue
		}
		if !created {
			continue
		}
		if r.Kind != Laugh {
			t.Errorf("ambient kind = %s, want %s (AmbientKinds[2])", r.Kind, Laugh)
		}
		if r.Position != 50 {
			t.Errorf("position = %v, want 50", r.Position)
		}
		if r.Source != SourceAmbient {
			t.Errorf("source = %s", r.Source)
		}
	}
}

func TestAmbientKindsOnly(t *testing.T) {
	allowed := map[Kind]bool{Like: true, Love: true, Laugh: true, Wow: true}
	for i := 0; i < len(AmbientKinds); i++ {
		o, _ := newTestOverlay(t, sched.NewScripted(0.9).WithInts(i))
		r, ok := o.Tick()
		if !ok || !allowed[r.Kind] {
			t.Errorf("generator produced %q", r.Kind)
		}
	}
}

func TestTapBypassesGate(t *testing.T) {
	o, _ := newTestOverlay(t, sched.NewScripted(0))
	for _, k := range Kinds {
		r, err := o.Tap(k)
		if err != nil {
			t.Fatalf("Tap(%s): %v", k, err)
		}
		if r.Kind != k || r.Source != SourceTap {
			t.Errorf("Tap(%s) = %+v", k, r)
		}
		if r.Position < 10 || r.Position >= 90 {
			t.Errorf("position %v out of range", r.Position)
		}
	}
	if got := len(o.Visible()); got != len(Kinds) {
		t.Errorf("visible = %d, want %d", got, len(Kinds))
	}

	if _, err := o.Tap("shrug"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Tap(shrug) error = %v, want ErrUnknownKind", err)
	}
}

func TestReactionExpiresAfterTTL(t *testing.T) {
	o, clock := newTestOverlay(t, sched.NewScripted(0.3))

	var mu sync.Mutex
	var removed int
	o.Subscribe(func(c Change) {
		if c.Removed {
			mu.Lock()
			removed++
			mu.Unlock()
		}
	})

	first, _ := o.Tap(Love)
	clock.Advance(1000 * time.Millisecond)
	second, _ := o.Tap(Wow)

	clock.Advance(999 * time.Millisecond)
	if got := o.Visible(); len(got) != 2 {
		t.Fatalf("at T+1999ms visible = %d, want 2", len(got))
	}

	clock.Advance(2 * time.Millisecond)
	for _, r := range o.Visible() {
		if r.ID == first.ID {
			t.Fatalf("reaction still visible 2001ms after creation")
		}
	}
	testutil.WaitFor(t, "first removal", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return removed == 1
	})

	clock.Advance(1000 * time.Millisecond)
	for _, r := range o.Visible() {
		if r.ID == second.ID {
			t.Fatalf("second reaction still visible after its TTL")
		}
	}
	testutil.WaitFor(t, "second removal", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return removed == 2
	})
}

func TestGeneratorRunsOnTicks(t *testing.T) {
	o, clock := newTestOverlay(t, sched.NewScripted(0.9, 0.5))
	o.Start()
	defer o.Stop()

	clock.Advance(TickInterval)
	testutil.WaitFor(t, "ambient reaction", func() bool { return len(o.Visible()) == 1 })

	o.Stop()
	clock.Advance(TickInterval)
	testutil.Settle()
	if got := len(o.Visible()); got != 1 {
		t.Errorf("visible = %d after Stop, want 1", got)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" LOVE "); err != nil || k != Love {
		t.Errorf("ParseKind(LOVE) = %q, %v", k, err)
	}
	if _, err := ParseKind(""); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(\"\") error = %v", err)
	}
}
