package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunFiresUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("tick errors are logged, not fatal")
		})
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("calls = %d, want at least 3", calls.Load())
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Second, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 5, 1, 10, 0, 12, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC)) {
		t.Fatalf("next tick = %v", got)
	}
	exact := time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC)
	if got := s.nextTick(exact); !got.Equal(exact.Add(30 * time.Second)) {
		t.Fatalf("next tick on boundary = %v", got)
	}
}

func TestTickerStartIsIdempotent(t *testing.T) {
	s := New(Options{Interval: time.Hour, FireImmediately: true}, zerolog.Nop())
	var calls atomic.Int32
	fired := make(chan struct{}, 4)
	ticker := NewTicker(s, func(context.Context, time.Time) error {
		calls.Add(1)
		fired <- struct{}{}
		return nil
	})

	if !ticker.Start(context.Background()) {
		t.Fatal("first start should launch the loop")
	}
	if ticker.Start(context.Background()) {
		t.Fatal("second start must be a no-op")
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate tick did not fire")
	}
	if !ticker.Running() {
		t.Fatal("ticker should report running")
	}

	if !ticker.Stop() {
		t.Fatal("stop should halt the running loop")
	}
	if ticker.Stop() {
		t.Fatal("second stop must be a no-op")
	}
	if ticker.Running() {
		t.Fatal("ticker should report stopped")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly one immediate tick", calls.Load())
	}

	if !ticker.Start(context.Background()) {
		t.Fatal("restart after stop should launch the loop")
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted ticker did not fire")
	}
	ticker.Stop()
}

func TestTickerStopsWithParentContext(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	ticker := NewTicker(s, func(context.Context, time.Time) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	ticker.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for ticker.Running() {
		if time.Now().After(deadline) {
			t.Fatal("ticker still running after parent cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
