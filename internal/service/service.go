package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kolmowatch/internal/alerting"
	"kolmowatch/internal/config"
	"kolmowatch/internal/convert"
	"kolmowatch/internal/kolmo"
	"kolmowatch/internal/provider"
	"kolmowatch/internal/scheduler"
	"kolmowatch/internal/storage"
)

// Acquirer hands back the validated quotes for a date, whatever
// provider chain sits behind it.
type Acquirer interface {
	Fetch(ctx context.Context, date time.Time) (*provider.Result, error)
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	storage.SnapshotStore
	storage.ComputeRecordStore
	storage.RubQuoteStore
}

// Service orchestrates acquisition, computation, persistence and
// alerting for the daily pipeline.
type Service struct {
	scheduler *scheduler.Scheduler
	acquirer  Acquirer
	engine    *kolmo.Engine
	converter *convert.Engine
	store     Store
	notifier  alerting.Notifier
	logger    zerolog.Logger

	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the pipeline service.
func New(cfg *config.Config, sched *scheduler.Scheduler, acquirer Acquirer, store Store, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		acquirer:  acquirer,
		engine:    kolmo.NewEngine(logger),
		converter: convert.NewEngine(logger),
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the daily pipeline loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, date time.Time) error {
		_, err := s.ProcessDate(ctx, date)
		return err
	})
}

// ProcessDate runs the whole pipeline for one date: acquire quotes,
// persist the snapshot, compute the daily record against the previous
// day, persist it, and alert on a non-OK invariant state.
func (s *Service) ProcessDate(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Str("date", date.Format("2006-01-02")).
			Msg("skip date because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeDate(ctx, date)
}

func (s *Service) executeDate(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	res, err := s.acquirer.Fetch(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("acquire rates: %w", err)
	}

	if err := s.store.InsertSnapshot(ctx, res.Snapshot); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	if len(res.Rub) > 0 {
		if err := s.store.UpsertRubQuotes(ctx, date, res.Rub); err != nil {
			s.logger.Error().Err(err).Str("date", date.Format("2006-01-02")).
				Msg("failed to persist rub table")
		}
	}

	prev, err := s.previousRecord(ctx, date)
	if err != nil {
		return nil, err
	}

	rec, err := s.engine.ComputeDaily(res.Snapshot, prev)
	if err != nil {
		return nil, fmt.Errorf("compute daily record: %w", err)
	}

	if err := s.store.UpsertComputeRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist compute record: %w", err)
	}

	s.logger.Info().
		Str("date", date.Format("2006-01-02")).
		Str("provider", res.Snapshot.Provider).
		Str("kolmo", rec.Invariant.Value.String()).
		Str("state", string(rec.Invariant.State)).
		Str("winner", string(rec.Winner)).
		Msg("daily record computed")

	s.maybeAlert(ctx, rec, prev, res.Snapshot.Provider)

	return rec, nil
}

// AcquireDate fetches and persists the raw snapshot (and RUB table)
// for one date without computing derived metrics. Backfill uses it to
// parallelise acquisition while keeping computation sequential.
func (s *Service) AcquireDate(ctx context.Context, date time.Time) error {
	res, err := s.acquirer.Fetch(ctx, date)
	if err != nil {
		return fmt.Errorf("acquire rates: %w", err)
	}
	if err := s.store.InsertSnapshot(ctx, res.Snapshot); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	if len(res.Rub) > 0 {
		if err := s.store.UpsertRubQuotes(ctx, date, res.Rub); err != nil {
			return fmt.Errorf("persist rub table: %w", err)
		}
	}
	return nil
}

// RecomputeRange replays the computation fold over stored snapshots in
// strict chronological order, rewriting the derived records. Raw
// snapshots are read-only input here, never touched.
func (s *Service) RecomputeRange(ctx context.Context, from, to time.Time) (int, error) {
	prev, err := s.previousRecord(ctx, from)
	if err != nil {
		return 0, err
	}

	tracker := kolmo.NewTracker(prev)
	count := 0
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		snap, err := s.store.GetSnapshot(ctx, date)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("load snapshot %s: %w", date.Format("2006-01-02"), err)
		}

		rec, err := s.engine.ComputeDaily(snap, prev)
		if err != nil {
			return count, fmt.Errorf("recompute %s: %w", date.Format("2006-01-02"), err)
		}
		if err := tracker.Commit(rec); err != nil {
			return count, err
		}
		if err := s.store.UpsertComputeRecord(ctx, rec); err != nil {
			return count, fmt.Errorf("persist %s: %w", date.Format("2006-01-02"), err)
		}

		prev = rec
		count++
	}

	s.logger.Info().
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Int("records", count).
		Msg("range recomputed")
	return count, nil
}

// Coefficients derives the conversion coefficient set for a stored
// record, using the RUB table of that date or the nearest earlier one.
func (s *Service) Coefficients(ctx context.Context, date time.Time) (*convert.CoefficientSet, error) {
	rec, err := s.store.GetComputeRecord(ctx, date)
	if err != nil {
		return nil, err
	}

	rub, effective, err := s.store.RubQuotesOn(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		rub = nil
	} else if err != nil {
		return nil, err
	} else if !effective.Equal(date) {
		s.logger.Debug().
			Str("date", date.Format("2006-01-02")).
			Str("effective", effective.Format("2006-01-02")).
			Msg("using nearest earlier rub table")
	}

	return s.converter.Derive(rec, rub)
}

func (s *Service) previousRecord(ctx context.Context, date time.Time) (*kolmo.DailyComputeRecord, error) {
	prev, err := s.store.LatestComputeRecordBefore(ctx, date)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load previous record: %w", err)
	}
	return prev, nil
}

func (s *Service) maybeAlert(ctx context.Context, rec, prev *kolmo.DailyComputeRecord, providerName string) {
	if !s.alertsOn || s.notifier == nil || rec.Invariant.State == kolmo.StateOK {
		return
	}

	note := alerting.Notification{
		Date:         rec.Date,
		KolmoValue:   rec.Invariant.Value,
		DeviationPct: rec.Invariant.DeviationPct,
		State:        rec.Invariant.State,
		Winner:       rec.Winner,
		Provider:     providerName,
		Channels:     s.channels,
	}
	if prev != nil {
		note.PreviousState = prev.Invariant.State
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("date", rec.Date.Format("2006-01-02")).
			Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
