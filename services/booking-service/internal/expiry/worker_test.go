package expiry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSweeper struct {
	calls atomic.Int32
	last  atomic.Int64
	err   error
}

func (f *fakeSweeper) ExpireHolds(_ context.Context, now time.Time) (int, error) {
	f.calls.Add(1)
	f.last.Store(now.Unix())
	return 1, f.err
}

func TestTickPassesClock(t *testing.T) {
	s := &fakeSweeper{}
	w := NewWorker(s, slog.New(slog.DiscardHandler), WorkerConfig{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Tick(context.Background())
	if s.calls.Load() != 1 || s.last.Load() != fixed.Unix() {
		t.Fatalf("unexpected sweep: calls=%d last=%d", s.calls.Load(), s.last.Load())
	}
}

func TestTickSurvivesErrors(t *testing.T) {
	s := &fakeSweeper{err: errors.New("db down")}
	w := NewWorker(s, slog.New(slog.DiscardHandler), WorkerConfig{})
	w.Tick(context.Background())
	w.Tick(context.Background())
	if s.calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", s.calls.Load())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := &fakeSweeper{}
	w := NewWorker(s, slog.New(slog.DiscardHandler), WorkerConfig{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("worker did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
