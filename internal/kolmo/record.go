package kolmo

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SequentialMetrics carry the day-over-day values. All fields are nil on
// the first recorded day; a relpath is additionally nil when the previous
// distance was exactly zero.
type SequentialMetrics struct {
	VolME4U *decimal.Decimal
	VolIOU2 *decimal.Decimal
	VolUOME *decimal.Decimal

	RelpathME4U *decimal.Decimal
	RelpathIOU2 *decimal.Decimal
	RelpathUOME *decimal.Decimal
}

// Relpath returns the relative-path value for a single instrument.
func (m SequentialMetrics) Relpath(c Coin) *decimal.Decimal {
	switch c {
	case CoinME4U:
		return m.RelpathME4U
	case CoinIOU2:
		return m.RelpathIOU2
	default:
		return m.RelpathUOME
	}
}

// WinnerReason explains a day's winner selection. It is embedded in the
// compute record so downstream consumers get shape guarantees instead of a
// free-form blob.
type WinnerReason struct {
	RelpathME4U *decimal.Decimal
	RelpathIOU2 *decimal.Decimal
	RelpathUOME *decimal.Decimal
	MaxRelpath  *decimal.Decimal
	TiedCoins   []Coin
	Rule        SelectionRule
	Winner      Coin
}

// DailyComputeRecord is the pipeline's output, one per date. It is only
// ever written as a whole: the invariant ties the rate fields and the
// invariant field together, so partial field mutation is never valid.
type DailyComputeRecord struct {
	Date time.Time

	Rates      Rates
	Invariant  Invariant
	Distances  Distances
	Sequential SequentialMetrics

	Winner Coin
	Reason WinnerReason

	SnapshotID uuid.UUID
	CreatedAt  time.Time
}

// FormatFixed renders a decimal as a fixed-point string with 18 fractional
// digits and no exponent, the exact wire representation of rate fields.
func FormatFixed(d decimal.Decimal) string {
	return d.StringFixed(18)
}

// FormatFixedPtr renders a nullable decimal, returning nil for nil input.
func FormatFixedPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := FormatFixed(*d)
	return &s
}
