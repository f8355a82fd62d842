package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (two failures, then clean exit)", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, restart failures must not surface as fatal", err)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("looping", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	// Let the goroutine start, then cancel; it must exit without a
	// restart cycle.
	time.Sleep(50 * time.Millisecond)
	s.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1 (no restart after cancel)", got)
	}
}

func TestCountersTrackGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	release := make(chan struct{})
	s.Go0("worker", func(ctx context.Context) { <-release })

	deadline := time.Now().Add(5 * time.Second)
	for {
		active, started := s.Counters()
		if active == 1 && started == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Counters() = (%d, %d), want (1, 1)", active, started)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	active, started := s.Counters()
	if active != 0 || started != 1 {
		t.Fatalf("Counters() after Wait = (%d, %d), want (0, 1)", active, started)
	}
}
