package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsAndStops(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var ran atomic.Bool
	s.Go("unit", func(ctx context.Context) error {
		ran.Store(true)
		<-ctx.Done()
		return nil
	})

	waitTrue(t, func() bool { return ran.Load() })
	if got := s.Snapshot().Active; got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Snapshot().Active; got != 0 {
		t.Fatalf("active after stop = %d", got)
	}
}

func TestGoRecordsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("worker exploded")
	s := New(context.Background())
	s.Go("unit", func(ctx context.Context) error { return boom })

	waitTrue(t, func() bool { return s.Err() != nil })
	if !errors.Is(s.Err(), boom) {
		t.Fatalf("Err() = %v, want to wrap %v", s.Err(), boom)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("unit", func(ctx context.Context) error { panic("kaboom") })

	waitTrue(t, func() bool { return s.Err() != nil })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("failing", func(ctx context.Context) error { return errors.New("die") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor context not cancelled after error")
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	s := New(context.Background())
	s.GoRestart("flappy", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	waitTrue(t, func() bool { return runs.Load() >= 3 })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	s := New(context.Background())
	s.GoRestart("oneshot", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithStopOnCleanExit(true))

	waitTrue(t, func() bool { return runs.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("clean exit restarted: %d runs", got)
	}
}

func TestGoRestartMaxRestarts(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	s := New(context.Background())
	s.GoRestart("bounded", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(2))

	// Initial run plus two restarts.
	waitTrue(t, func() bool { return runs.Load() == 3 })
	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func waitTrue(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never met")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
