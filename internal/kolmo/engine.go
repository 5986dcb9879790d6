package kolmo

import (
	"time"

	"github.com/rs/zerolog"
)

// Engine orchestrates the full daily computation: transform, invariant,
// sequential metrics, winner. It operates purely on already-acquired data
// and never touches the network.
type Engine struct {
	transformer *Transformer
	calculator  *Calculator
	selector    *Selector
	logger      zerolog.Logger
}

// NewEngine wires the computation stages together.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		transformer: NewTransformer(),
		calculator:  NewCalculator(),
		selector:    NewSelector(),
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// ComputeDaily derives a full compute record from one day's snapshot and
// the previous day's finalized record (nil on the first day). Every field
// of the result is derived together; callers must persist it as a whole.
func (e *Engine) ComputeDaily(snap *RawRateSnapshot, prev *DailyComputeRecord) (*DailyComputeRecord, error) {
	rates, err := e.transformer.Transform(snap)
	if err != nil {
		return nil, err
	}

	inv, dists, err := e.calculator.Compute(rates)
	if err != nil {
		return nil, err
	}

	metrics := NewTracker(prev).Measure(rates, dists)
	winner, reason := e.selector.Select(metrics)

	rec := &DailyComputeRecord{
		Date:       snap.Date,
		Rates:      rates,
		Invariant:  inv,
		Distances:  dists,
		Sequential: metrics,
		Winner:     winner,
		Reason:     reason,
		SnapshotID: snap.SnapshotID,
		CreatedAt:  time.Now().UTC(),
	}

	e.logger.Debug().
		Str("date", snap.Date.Format("2006-01-02")).
		Str("kolmo_value", inv.Value.String()).
		Str("state", string(inv.State)).
		Str("winner", string(winner)).
		Str("rule", string(reason.Rule)).
		Msg("daily metrics computed")

	return rec, nil
}
