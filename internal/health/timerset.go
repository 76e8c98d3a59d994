package health

import (
	"context"
	"sync"
	"time"
)

type timerSpec struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// TimerSet bundles the per-session health timers under one lifecycle:
// all start together and all stop together, so a detached session can
// never be left with a stray timer still firing.
type TimerSet struct {
	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newTimerSet() *TimerSet {
	return &TimerSet{stop: make(chan struct{})}
}

// Start launches one goroutine per spec. Specs with a non-positive
// interval are skipped. Calling Start twice is a no-op.
func (ts *TimerSet) Start(ctx context.Context, specs []timerSpec) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.started || ts.stopped {
		return
	}
	ts.started = true

	for _, spec := range specs {
		if spec.interval <= 0 {
			continue
		}
		ts.wg.Add(1)
		go ts.loop(ctx, spec)
	}
}

func (ts *TimerSet) loop(ctx context.Context, spec timerSpec) {
	defer ts.wg.Done()
	ticker := time.NewTicker(spec.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ts.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			spec.fn(ctx)
		}
	}
}

// Stop halts every timer and waits for in-flight ticks to return.
// Idempotent; safe to call before Start.
func (ts *TimerSet) Stop() {
	ts.mu.Lock()
	if ts.stopped {
		ts.mu.Unlock()
		return
	}
	ts.stopped = true
	close(ts.stop)
	ts.mu.Unlock()
	ts.wg.Wait()
}
