// Package provider implements the rate-acquisition layer: adapters for
// external quote sources and a manager that tries them in configured
// order until one yields a valid snapshot.
package provider

import (
	"context"
	"fmt"
	"time"

	"kolmowatch/internal/convert"
	"kolmowatch/internal/kolmo"
)

// Code classifies a provider failure for telemetry.
type Code string

const (
	CodeHTTPError       Code = "HTTP_ERROR"
	CodeTimeout         Code = "TIMEOUT"
	CodeParseError      Code = "PARSE_ERROR"
	CodeMissingCurrency Code = "MISSING_CURRENCY"
	CodeRateOutOfBounds Code = "RATE_OUT_OF_BOUNDS"
	CodeConfigError     Code = "CONFIG_ERROR"
	CodeUnknown         Code = "UNKNOWN"
)

// Result is one provider's answer for a date: the raw quote snapshot
// plus, when the source publishes RUB quotations, the RUB table.
type Result struct {
	Snapshot *kolmo.RawRateSnapshot
	Rub      convert.RubTable
}

// Provider fetches the raw pivot quotes for a single date.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, date time.Time) (*Result, error)
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Code     Code
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(provider string, code Code, err error) *Error {
	return &Error{Provider: provider, Code: code, Err: err}
}

// Attempt is the telemetry record of one provider call, success or not.
type Attempt struct {
	Date     time.Time
	Provider string
	Order    int
	Success  bool
	Latency  time.Duration
	Code     Code
	Message  string
}

// TelemetryRecorder receives one Attempt per provider call. Recording
// is best effort: implementations must not make acquisition fail.
type TelemetryRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt)
}

// ExhaustedError reports that every provider in the chain failed for a
// date. It carries the full attempt list for diagnosis.
type ExhaustedError struct {
	Date     time.Time
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers exhausted for %s",
		len(e.Attempts), e.Date.Format("2006-01-02"))
}
