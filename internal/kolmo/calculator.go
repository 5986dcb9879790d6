package kolmo

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNonPositiveRate indicates an input rate that is zero or negative.
// Rates model physical exchange ratios and must be strictly positive.
var ErrNonPositiveRate = errors.New("kolmo: non-positive rate")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func init() {
	// Rate divisions carry at least 28 significant digits so the 18-digit
	// serialization never sees representational drift.
	if decimal.DivisionPrecision < 28 {
		decimal.DivisionPrecision = 28
	}
}

// Invariant is the exact triangle product with its deviation classification.
type Invariant struct {
	Value        decimal.Decimal
	DeviationPct decimal.Decimal
	State        State
}

// Distances are per-instrument distances from parity, in percent.
type Distances struct {
	ME4U decimal.Decimal
	IOU2 decimal.Decimal
	UOME decimal.Decimal
}

// Distance returns the distance for a single instrument.
func (d Distances) Distance(c Coin) decimal.Decimal {
	switch c {
	case CoinME4U:
		return d.ME4U
	case CoinIOU2:
		return d.IOU2
	default:
		return d.UOME
	}
}

// Calculator derives the invariant, its state, and parity distances.
// It is pure: all outputs are functions of the three input rates.
type Calculator struct {
	warnPct     decimal.Decimal
	criticalPct decimal.Decimal
}

// NewCalculator constructs a calculator with the standard 1%/5% bands.
func NewCalculator() *Calculator {
	return &Calculator{
		warnPct:     decimal.NewFromInt(1),
		criticalPct: decimal.NewFromInt(5),
	}
}

// Compute returns the invariant and distances for one day's rates.
// The invariant value is the exact decimal product; no rounding happens
// before it is finalized.
func (c *Calculator) Compute(r Rates) (Invariant, Distances, error) {
	for _, coin := range Coins() {
		if r.Rate(coin).Sign() <= 0 {
			return Invariant{}, Distances{}, fmt.Errorf("%w: %s = %s", ErrNonPositiveRate, coin, r.Rate(coin).String())
		}
	}

	value := r.ME4U.Mul(r.IOU2).Mul(r.UOME)
	deviation := value.Sub(one).Abs().Mul(hundred)

	inv := Invariant{
		Value:        value,
		DeviationPct: deviation,
		State:        c.classify(deviation),
	}

	dists := Distances{
		ME4U: distance(r.ME4U),
		IOU2: distance(r.IOU2),
		UOME: distance(r.UOME),
	}

	return inv, dists, nil
}

// classify maps a deviation percentage onto a state band. Band lower
// bounds are inclusive: 1.0% is WARN and 5.0% is CRITICAL.
func (c *Calculator) classify(deviationPct decimal.Decimal) State {
	switch {
	case deviationPct.LessThan(c.warnPct):
		return StateOK
	case deviationPct.LessThan(c.criticalPct):
		return StateWarn
	default:
		return StateCritical
	}
}

// distance is |rate - 1| * 100, independent of the invariant.
func distance(rate decimal.Decimal) decimal.Decimal {
	return rate.Sub(one).Abs().Mul(hundred)
}
