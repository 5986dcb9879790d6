package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Backfill acquires snapshots for a historical date range in concurrent
// batches, then recomputes derived records sequentially.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := opts.From.UTC().Truncate(24 * time.Hour)
	to := opts.To.UTC().Truncate(24 * time.Hour)
	if from.After(to) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	dates := make([]time.Time, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}

	if opts.DryRun {
		a.Logger.Info().
			Int("dates", len(dates)).
			Str("from", from.Format("2006-01-02")).
			Str("to", to.Format("2006-01-02")).
			Msg("回填 dry-run：不会写入数据库")
		return nil
	}

	svc, closeStore, err := a.newService(ctx, nil, false)
	if err != nil {
		return err
	}
	defer closeStore()

	batchSize := a.Config.Fetch.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	// Acquisition is embarrassingly parallel: each date's snapshot is
	// independent. A failed date is logged and skipped, it must not
	// poison its batch.
	var mu sync.Mutex
	acquired := 0
	failed := make([]string, 0)

	for start := 0; start < len(dates); start += batchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + batchSize
		if end > len(dates) {
			end = len(dates)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, date := range dates[start:end] {
			date := date
			g.Go(func() error {
				if err := svc.AcquireDate(gctx, date); err != nil {
					a.Logger.Error().Err(err).
						Str("date", date.Format("2006-01-02")).
						Msg("回填获取失败")
					mu.Lock()
					failed = append(failed, date.Format("2006-01-02"))
					mu.Unlock()
					return nil
				}
				mu.Lock()
				acquired++
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if end < len(dates) && a.Config.Fetch.BatchPause > 0 {
			timer := time.NewTimer(a.Config.Fetch.BatchPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	a.Logger.Info().
		Int("acquired", acquired).
		Int("failed", len(failed)).
		Strs("failed_dates", failed).
		Msg("回填获取完成，开始顺序重算")

	// The sequential fold: day-over-day metrics only make sense in
	// chronological order.
	count, err := svc.RecomputeRange(ctx, from, to)
	if err != nil {
		return err
	}

	a.Logger.Info().Int("records", count).Msg("回填完成")
	if len(failed) > 0 {
		return errors.New("部分日期回填失败，请检查日志")
	}
	return nil
}
