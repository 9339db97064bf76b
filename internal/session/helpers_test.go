package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/shutdown"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stateRecorder collects session state events from the bus.
type stateRecorder struct {
	mu     sync.Mutex
	events []events.SessionStateEvent
}

func recordStates(t *testing.T, bus *events.Bus) *stateRecorder {
	t.Helper()
	r := &stateRecorder{}
	unsub := bus.Subscribe(func(e events.SessionStateEvent) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	t.Cleanup(unsub)
	return r
}

func (r *stateRecorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.State == state {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runWithTimeout(t *testing.T, run func() shutdown.Result) shutdown.Result {
	t.Helper()
	done := make(chan shutdown.Result, 1)
	go func() { done <- run() }()
	select {
	case res := <-done:
		return res
	case <-time.After(15 * time.Second):
		t.Fatal("session did not finish")
	}
	return shutdown.Result{}
}

// removingDetector reports the watched node as removed straight away.
type removingDetector struct {
	devices.DeviceDetector
	watched chan string
}

func (d *removingDetector) WatchRemoval(_ context.Context, path string) (<-chan struct{}, error) {
	d.watched <- path
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) Export(string, float64, time.Time) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
