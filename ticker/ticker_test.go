package ticker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/bookclub-live/backend/chat"
	"github.com/onnwee/bookclub-live/backend/sched"
	"github.com/onnwee/bookclub-live/backend/testutil"
)

func bodies(entries []Entry) string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.Body)
	}
	return fmt.Sprint(out)
}

func TestTickerCapsAtFour(t *testing.T) {
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	defer group.Stop()
	tk := New(group)

	var mu sync.Mutex
	maxSeen := 0
	tk.OnChange(func(v []Entry) {
		mu.Lock()
		defer mu.Unlock()
		maxSeen = max(maxSeen, len(v))
	})

	for i := 1; i <= 6; i++ {
		tk.OnMessage(chat.Message{Body: fmt.Sprintf("m%d", i)})
		if n := len(tk.Visible()); n > Capacity {
			t.Fatalf("visible = %d after %d messages, want <= %d", n, i, Capacity)
		}
	}
	if got := bodies(tk.Visible()); got != "[m3 m4 m5 m6]" {
		t.Errorf("visible = %s, want oldest evicted first", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxSeen > Capacity {
		t.Errorf("listener saw %d entries", maxSeen)
	}
}

func TestTickerEntriesExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	defer group.Stop()
	tk := New(group)

	tk.OnMessage(chat.Message{Body: "early"})
	clock.Advance(2 * time.Second)
	tk.OnMessage(chat.Message{Body: "late"})

	clock.Advance(2999 * time.Millisecond)
	if got := bodies(tk.Visible()); got != "[early late]" {
		t.Fatalf("at T+4999ms visible = %s", got)
	}

	clock.Advance(2 * time.Millisecond)
	if got := bodies(tk.Visible()); got != "[late]" {
		t.Fatalf("at T+5001ms visible = %s, want [late]", got)
	}
	testutil.WaitFor(t, "expiry timer", func() bool {
		tk.mu.Lock()
		defer tk.mu.Unlock()
		return len(tk.entries) == 1
	})

	clock.Advance(3 * time.Second)
	if n := len(tk.Visible()); n != 0 {
		t.Errorf("visible = %d, want 0", n)
	}
}

func TestEvictedEntryTimerIsNoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	defer group.Stop()
	tk := New(group)

	// m1 gets evicted by m5, then its timer fires at 5s; m2..m5 (added at 1s) must survive it
	tk.OnMessage(chat.Message{Body: "m1"})
	clock.Advance(time.Second)
	for i := 2; i <= 5; i++ {
		tk.OnMessage(chat.Message{Body: fmt.Sprintf("m%d", i)})
	}
	clock.Advance(4*time.Second + time.Millisecond)
	testutil.Settle()
	if got := bodies(tk.Visible()); got != "[m2 m3 m4 m5]" {
		t.Errorf("visible = %s", got)
	}
}

func TestTickerAsEngineObserver(t *testing.T) {
	clock := clockwork.NewFakeClock()
	group := sched.NewGroup(clock)
	defer group.Stop()
	e := chat.NewEngine(chat.Options{Room: "r", Group: group})
	defer e.Close()
	tk := New(group)
	e.Subscribe(tk)

	e.Submit("ada", "hello", false)
	if got := bodies(tk.Visible()); got != "[hello]" {
		t.Errorf("visible = %s", got)
	}
}
