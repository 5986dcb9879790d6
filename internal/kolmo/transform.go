package kolmo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrIncompleteSnapshot indicates a required pivot quote is absent.
	ErrIncompleteSnapshot = errors.New("kolmo: incomplete snapshot")
	// ErrInvalidDirection indicates an unrecognized quote direction descriptor.
	ErrInvalidDirection = errors.New("kolmo: invalid quote direction")
	// ErrDimensionalDrift indicates the transformed triangle is internally
	// inconsistent beyond the accepted tolerance.
	ErrDimensionalDrift = errors.New("kolmo: dimensional analysis failed")
)

// Rates are the three canonical triangle rates.
type Rates struct {
	ME4U decimal.Decimal // USD/CNY
	IOU2 decimal.Decimal // EUR/USD
	UOME decimal.Decimal // CNY/EUR
}

// Rate returns the rate for a single instrument.
func (r Rates) Rate(c Coin) decimal.Decimal {
	switch c {
	case CoinME4U:
		return r.ME4U
	case CoinIOU2:
		return r.IOU2
	default:
		return r.UOME
	}
}

// Transformer converts raw EUR-pivot quotes into canonical triangle rates.
type Transformer struct {
	tolerance decimal.Decimal
}

// NewTransformer constructs a transformer with the default drift tolerance.
func NewTransformer() *Transformer {
	return &Transformer{tolerance: decimal.RequireFromString("0.05")}
}

// Transform normalizes every quote to the canonical per-1-EUR direction and
// derives the triangle:
//
//	r_me4u = usdPerEUR / cnyPerEUR
//	r_iou2 = 1 / usdPerEUR
//	r_uome = cnyPerEUR
//
// When the source quotes are consistent the product of the three rates is 1.
func (t *Transformer) Transform(snap *RawRateSnapshot) (Rates, error) {
	usdPerEUR, err := t.normalized(snap, "USD")
	if err != nil {
		return Rates{}, err
	}
	cnyPerEUR, err := t.normalized(snap, "CNY")
	if err != nil {
		return Rates{}, err
	}

	rates := Rates{
		ME4U: usdPerEUR.Div(cnyPerEUR),
		IOU2: one.Div(usdPerEUR),
		UOME: cnyPerEUR,
	}

	drift := rates.ME4U.Mul(rates.IOU2).Mul(rates.UOME).Sub(one).Abs()
	if drift.GreaterThan(t.tolerance) {
		return Rates{}, fmt.Errorf("%w: |K-1| = %s", ErrDimensionalDrift, drift.String())
	}

	return rates, nil
}

// normalized returns the quote for code as "code units per 1 EUR",
// inverting reversed quotes via reciprocal.
func (t *Transformer) normalized(snap *RawRateSnapshot, code string) (decimal.Decimal, error) {
	q, ok := snap.Quotes[code]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: missing %s quote", ErrIncompleteSnapshot, code)
	}
	if q.Rate.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: non-positive %s quote", ErrIncompleteSnapshot, code)
	}

	switch strings.ToUpper(q.Direction) {
	case code + "/" + PivotCurrency:
		return q.Rate, nil
	case PivotCurrency + "/" + code:
		return one.Div(q.Rate), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %q for %s", ErrInvalidDirection, q.Direction, code)
	}
}
