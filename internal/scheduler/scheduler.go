package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval with the start of the current bucket.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval        time.Duration
	AlignToStart    bool
	StartupDelay    time.Duration
	FireImmediately bool
}

// Scheduler drives repeated execution of price ticks.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.FireImmediately {
		s.fire(ctx, tick, s.bucketStart(time.Now().UTC()))
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.fire(ctx, tick, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Debug().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// Ticker runs a Scheduler in the background and can be stopped and
// restarted. Start on a running ticker and Stop on a stopped one are no-ops.
type Ticker struct {
	sched *Scheduler
	tick  TickFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker binds tick to a scheduler.
func NewTicker(sched *Scheduler, tick TickFunc) *Ticker {
	return &Ticker{sched: sched, tick: tick}
}

// Start launches the loop under ctx. It reports whether a new loop was started.
func (t *Ticker) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		if err := t.sched.Run(runCtx, t.tick); err != nil && !errors.Is(err, context.Canceled) {
			t.sched.logger.Error().Err(err).Msg("ticker stopped")
		}
		t.mu.Lock()
		if t.done == done {
			t.cancel = nil
			t.done = nil
		}
		t.mu.Unlock()
	}()

	t.sched.logger.Info().Dur("interval", t.sched.opts.Interval).Msg("ticker started")
	return true
}

// Stop cancels the loop and waits for an in-flight tick to return. It
// reports whether a running loop was stopped.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	t.sched.logger.Info().Msg("ticker stopped")
	return true
}

// Running reports whether the loop is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
