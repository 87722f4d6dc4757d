// Package scheduler drives periodic jobs such as due-monitor checks and
// maintenance passes.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Job is invoked on every tick with the tick's nominal time.
type Job func(ctx context.Context, tick time.Time) error

// Options tune a scheduler.
type Options struct {
	// Name labels log lines, e.g. "checks" or "maintenance".
	Name     string
	Interval time.Duration
	// Align snaps ticks to multiples of Interval since the epoch.
	Align        bool
	StartupDelay time.Duration
	// Immediate runs the job once before waiting for the first tick.
	Immediate bool
}

// Scheduler runs one job periodically. Ticks never overlap: a job that
// overruns its interval delays the next tick instead of stacking.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Scheduler{
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
	}, nil
}

// Run blocks until ctx is cancelled. Job errors are logged and do not stop
// the loop.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}
	if s.opts.Immediate {
		s.execute(ctx, job, s.now())
	}

	next := s.nextTick(s.now())
	for {
		if now := s.now(); next.Before(now) {
			skipped := next
			next = s.nextTick(now)
			s.logger.Warn().Time("skipped", skipped).Time("next_tick", next).Msg("job overran its interval")
		}
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}
		s.execute(ctx, job, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job, tick time.Time) {
	started := time.Now()
	if err := job(ctx, tick); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Time("tick", tick).Msg("scheduled job failed")
		return
	}
	s.logger.Debug().Time("tick", tick).Dur("took", time.Since(started)).Msg("scheduled job finished")
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.Align {
		return now.Add(s.opts.Interval)
	}
	tick := now.Truncate(s.opts.Interval)
	if !tick.After(now) {
		tick = tick.Add(s.opts.Interval)
	}
	return tick
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
