package kolmo

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrOutOfOrder indicates a record fed to the tracker that does not follow
// the previously committed record chronologically.
var ErrOutOfOrder = errors.New("kolmo: records out of chronological order")

// Tracker folds day-over-day metrics over a chronologically ordered record
// sequence. It is the only stateful part of the pipeline: everything it
// knows is the single previous finalized record. Day N must not be measured
// before day N-1's record exists, and Commit enforces the ordering.
type Tracker struct {
	prev *DailyComputeRecord
}

// NewTracker seeds the fold. prev is nil when no record exists yet.
func NewTracker(prev *DailyComputeRecord) *Tracker {
	return &Tracker{prev: prev}
}

// Measure computes volatility and relative path for today's rates and
// distances against the previous record. Without a previous record every
// value is nil; a relpath is nil when yesterday's distance was exactly
// zero (the improvement ratio is undefined, not an error).
func (t *Tracker) Measure(rates Rates, dists Distances) SequentialMetrics {
	if t.prev == nil {
		return SequentialMetrics{}
	}

	return SequentialMetrics{
		VolME4U: volatility(rates.ME4U, t.prev.Rates.ME4U),
		VolIOU2: volatility(rates.IOU2, t.prev.Rates.IOU2),
		VolUOME: volatility(rates.UOME, t.prev.Rates.UOME),

		RelpathME4U: relpath(dists.ME4U, t.prev.Distances.ME4U),
		RelpathIOU2: relpath(dists.IOU2, t.prev.Distances.IOU2),
		RelpathUOME: relpath(dists.UOME, t.prev.Distances.UOME),
	}
}

// Commit advances the fold to a finalized record.
func (t *Tracker) Commit(rec *DailyComputeRecord) error {
	if t.prev != nil && !rec.Date.After(t.prev.Date) {
		return fmt.Errorf("%w: %s after %s",
			ErrOutOfOrder, rec.Date.Format("2006-01-02"), t.prev.Date.Format("2006-01-02"))
	}
	t.prev = rec
	return nil
}

// volatility is (rate - prev) / prev * 100.
func volatility(rate, prev decimal.Decimal) *decimal.Decimal {
	if prev.Sign() == 0 {
		return nil
	}
	v := rate.Sub(prev).Div(prev).Mul(hundred)
	return &v
}

// relpath is (dist_prev - dist) / dist_prev * 100. Positive means the
// instrument moved closer to parity.
func relpath(dist, prev decimal.Decimal) *decimal.Decimal {
	if prev.Sign() == 0 {
		return nil
	}
	v := prev.Sub(dist).Div(prev).Mul(hundred)
	return &v
}
