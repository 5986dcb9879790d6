package app

import (
	"context"
	"errors"
)

// Recompute replays the derivation fold over stored snapshots. Raw
// snapshots stay untouched; only derived records are rewritten.
func (a *App) Recompute(ctx context.Context, opts RecomputeOptions) error {
	if opts.From.After(opts.To) {
		return errors.New("from must not be after to")
	}

	svc, closeStore, err := a.newService(ctx, nil, false)
	if err != nil {
		return err
	}
	defer closeStore()

	count, err := svc.RecomputeRange(ctx, opts.From.UTC(), opts.To.UTC())
	if err != nil {
		return err
	}

	a.Logger.Info().Int("records", count).Msg("recompute finished")
	return nil
}
