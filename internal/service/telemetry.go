package service

import (
	"context"

	"github.com/rs/zerolog"

	"kolmowatch/internal/provider"
	"kolmowatch/internal/storage"
)

// Telemetry persists provider attempts. Recording failures are logged
// and swallowed so acquisition never fails on a telemetry write.
type Telemetry struct {
	store  storage.AttemptStore
	logger zerolog.Logger
}

func NewTelemetry(store storage.AttemptStore, logger zerolog.Logger) *Telemetry {
	return &Telemetry{
		store:  store,
		logger: logger.With().Str("component", "telemetry").Logger(),
	}
}

func (t *Telemetry) RecordAttempt(ctx context.Context, attempt provider.Attempt) {
	if t.store == nil {
		return
	}
	if err := t.store.InsertProviderAttempt(ctx, attempt); err != nil {
		t.logger.Error().Err(err).
			Str("provider", attempt.Provider).
			Str("date", attempt.Date.Format("2006-01-02")).
			Msg("failed to persist provider attempt")
	}
}

var _ provider.TelemetryRecorder = (*Telemetry)(nil)
