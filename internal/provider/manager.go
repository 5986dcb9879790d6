package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Plausibility window for any accepted pivot rate.
var (
	minPlausibleRate = decimal.RequireFromString("0.0001")
	maxPlausibleRate = decimal.RequireFromString("100000")
)

// requiredCurrencies must be present in every accepted snapshot.
var requiredCurrencies = []string{"USD", "CNY"}

// Manager walks an ordered provider chain for a date: first validated
// success wins, lower-priority providers are never called after it.
// One Attempt is recorded per call either way.
type Manager struct {
	providers []Provider
	telemetry TelemetryRecorder
	logger    zerolog.Logger
}

func NewManager(providers []Provider, telemetry TelemetryRecorder, logger zerolog.Logger) *Manager {
	return &Manager{
		providers: providers,
		telemetry: telemetry,
		logger:    logger.With().Str("component", "provider_manager").Logger(),
	}
}

// Fetch tries each provider in order and returns the first result that
// passes validation. When the whole chain fails the returned error is
// an *ExhaustedError carrying every attempt.
func (m *Manager) Fetch(ctx context.Context, date time.Time) (*Result, error) {
	if len(m.providers) == 0 {
		return nil, errors.New("no providers configured")
	}

	attempts := make([]Attempt, 0, len(m.providers))

	for i, p := range m.providers {
		start := time.Now()
		res, err := p.Fetch(ctx, date)
		if err == nil {
			err = validate(p.Name(), res)
		}
		latency := time.Since(start)

		attempt := Attempt{
			Date:     date,
			Provider: p.Name(),
			Order:    i + 1,
			Success:  err == nil,
			Latency:  latency,
		}

		if err == nil {
			m.record(ctx, attempt)
			m.logger.Info().
				Str("provider", p.Name()).
				Int("attempt", i+1).
				Dur("latency", latency).
				Str("date", date.Format("2006-01-02")).
				Msg("rates acquired")
			return res, nil
		}

		attempt.Code = errCode(err)
		attempt.Message = err.Error()
		attempts = append(attempts, attempt)
		m.record(ctx, attempt)

		m.logger.Warn().
			Str("provider", p.Name()).
			Int("attempt", i+1).
			Str("code", string(attempt.Code)).
			Err(err).
			Msg("provider failed, falling through")
	}

	return nil, &ExhaustedError{Date: date, Attempts: attempts}
}

func (m *Manager) record(ctx context.Context, attempt Attempt) {
	if m.telemetry != nil {
		m.telemetry.RecordAttempt(ctx, attempt)
	}
}

// validate accepts a result only when every required currency is
// quoted at a positive rate inside the plausibility window.
func validate(providerName string, res *Result) error {
	if res == nil || res.Snapshot == nil {
		return newError(providerName, CodeParseError, errors.New("empty result"))
	}
	for _, code := range requiredCurrencies {
		q, ok := res.Snapshot.Quotes[code]
		if !ok {
			return newError(providerName, CodeMissingCurrency,
				fmt.Errorf("required currency %s absent", code))
		}
		if q.Rate.Sign() <= 0 ||
			q.Rate.LessThan(minPlausibleRate) ||
			q.Rate.GreaterThan(maxPlausibleRate) {
			return newError(providerName, CodeRateOutOfBounds,
				fmt.Errorf("rate %s for %s outside plausible bounds", q.Rate, code))
		}
	}
	return nil
}

func errCode(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}
