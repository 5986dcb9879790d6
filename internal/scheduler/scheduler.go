package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per scheduled day with the quote date.
type TickFunc func(ctx context.Context, date time.Time) error

// Options tune scheduler behaviour. RunAt is the wall-clock offset
// from midnight UTC at which the daily run fires.
type Options struct {
	RunAt        time.Duration
	StartupDelay time.Duration
}

// Scheduler drives one pipeline run per day at a fixed UTC time.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.RunAt < 0 || opts.RunAt >= 24*time.Hour {
		panic("scheduler run_at must fall within the day")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at the configured time each
// day until ctx is cancelled. The tick receives the current UTC date.
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

	next := s.nextRun(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextRun(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_run", next).Msg("waiting for next daily run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		date := next.Truncate(24 * time.Hour)
		s.logger.Info().Str("date", date.Format("2006-01-02")).Msg("executing daily run")

		if err := tick(ctx, date); err != nil {
			s.logger.Error().Err(err).Str("date", date.Format("2006-01-02")).Msg("daily run failed")
		}

		next = next.Add(24 * time.Hour)
	}
}

func (s *Scheduler) nextRun(now time.Time) time.Time {
	midnight := now.Truncate(24 * time.Hour)
	run := midnight.Add(s.opts.RunAt)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
