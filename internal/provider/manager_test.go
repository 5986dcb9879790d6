package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolmowatch/internal/kolmo"
)

type fakeProvider struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, date time.Time) (*Result, error) {
	f.calls++
	return f.result, f.err
}

type captureTelemetry struct {
	attempts []Attempt
}

func (c *captureTelemetry) RecordAttempt(ctx context.Context, a Attempt) {
	c.attempts = append(c.attempts, a)
}

func goodResult(date time.Time, providerName string) *Result {
	snap := kolmo.NewSnapshot(date, providerName)
	snap.Quotes["USD"] = kolmo.Quote{Rate: decimal.RequireFromString("1.163"), Direction: "USD/EUR"}
	snap.Quotes["CNY"] = kolmo.Quote{Rate: decimal.RequireFromString("8.11"), Direction: "CNY/EUR"}
	return &Result{Snapshot: snap}
}

func TestManagerFirstSuccessWins(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "primary", result: goodResult(testDate, "primary")}
	fallback := &fakeProvider{name: "fallback", result: goodResult(testDate, "fallback")}
	telemetry := &captureTelemetry{}

	m := NewManager([]Provider{primary, fallback}, telemetry, zerolog.Nop())

	res, err := m.Fetch(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Snapshot.Provider)
	assert.Equal(t, 0, fallback.calls, "lower-priority provider must not be called")

	require.Len(t, telemetry.attempts, 1)
	assert.True(t, telemetry.attempts[0].Success)
	assert.Equal(t, 1, telemetry.attempts[0].Order)
}

func TestManagerFallsThroughOnFailure(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "primary",
		err: newError("primary", CodeTimeout, errors.New("deadline"))}
	fallback := &fakeProvider{name: "fallback", result: goodResult(testDate, "fallback")}
	telemetry := &captureTelemetry{}

	m := NewManager([]Provider{primary, fallback}, telemetry, zerolog.Nop())

	res, err := m.Fetch(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Snapshot.Provider)

	require.Len(t, telemetry.attempts, 2)
	assert.False(t, telemetry.attempts[0].Success)
	assert.Equal(t, CodeTimeout, telemetry.attempts[0].Code)
	assert.True(t, telemetry.attempts[1].Success)
	assert.Equal(t, 2, telemetry.attempts[1].Order)
}

func TestManagerValidationRejectsSnapshot(t *testing.T) {
	t.Parallel()

	missing := goodResult(testDate, "primary")
	delete(missing.Snapshot.Quotes, "CNY")

	implausible := goodResult(testDate, "secondary")
	implausible.Snapshot.Quotes["USD"] = kolmo.Quote{
		Rate: decimal.RequireFromString("2000000"), Direction: "USD/EUR",
	}

	m := NewManager([]Provider{
		&fakeProvider{name: "primary", result: missing},
		&fakeProvider{name: "secondary", result: implausible},
		&fakeProvider{name: "tertiary", result: goodResult(testDate, "tertiary")},
	}, nil, zerolog.Nop())

	res, err := m.Fetch(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, "tertiary", res.Snapshot.Provider)
}

func TestManagerExhausted(t *testing.T) {
	t.Parallel()

	m := NewManager([]Provider{
		&fakeProvider{name: "primary",
			err: newError("primary", CodeHTTPError, errors.New("status 502"))},
		&fakeProvider{name: "fallback",
			err: newError("fallback", CodeParseError, errors.New("bad xml"))},
	}, &captureTelemetry{}, zerolog.Nop())

	_, err := m.Fetch(context.Background(), testDate)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, CodeHTTPError, exhausted.Attempts[0].Code)
	assert.Equal(t, CodeParseError, exhausted.Attempts[1].Code)
	assert.Equal(t, testDate, exhausted.Date)
}

func TestManagerNoProviders(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil, zerolog.Nop())
	_, err := m.Fetch(context.Background(), testDate)
	require.Error(t, err)
}
