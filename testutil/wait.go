package testutil

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// WaitFor polls cond until it holds or two seconds pass. Fake clock callbacks run on
// their own goroutines, so their effects are observed eventually rather than immediately.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// BlockUntil waits until clock has at least n waiters, failing the test after two seconds.
func BlockUntil(t *testing.T, clock clockwork.FakeClock, n int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		clock.BlockUntil(n)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d clock waiters", n)
	}
}

// Settle gives timer goroutines a moment to run before asserting that something did NOT happen.
func Settle() {
	time.Sleep(20 * time.Millisecond)
}
