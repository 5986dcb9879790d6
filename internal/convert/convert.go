// Package convert derives conversion coefficients between the three
// triangle instruments, their base fiat currencies, and arbitrary
// RUB-quoted currencies.
//
// Each instrument is pegged to one fiat unit: 1 ME4U = 1 CNY,
// 1 IOU2 = 1 USD, 1 UOME = 1 EUR. All cross-coefficients follow from
// those identities plus the day's canonical rates; RUB-quoted
// currencies are bridged through the central-bank RUB table.
package convert

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kolmowatch/internal/kolmo"
)

var (
	// ErrMissingRubQuote is returned when a currency required for a
	// RUB-pivot coefficient is absent from the quote table.
	ErrMissingRubQuote = errors.New("missing rub quote")

	// ErrZeroRateInput is returned when a coefficient would require the
	// reciprocal of a zero rate.
	ErrZeroRateInput = errors.New("zero rate input")
)

var one = decimal.NewFromInt(1)

// baseCurrency maps each instrument to the fiat unit it is pegged to.
var baseCurrency = map[kolmo.Coin]string{
	kolmo.CoinME4U: "CNY",
	kolmo.CoinIOU2: "USD",
	kolmo.CoinUOME: "EUR",
}

// BaseCurrency returns the fiat unit one unit of the instrument is
// defined as equal to.
func BaseCurrency(c kolmo.Coin) string {
	return baseCurrency[c]
}

// RubQuote is a central-bank quotation: Rate RUB buy Nominal units of
// the currency. Nominal is usually 1 but e.g. JPY is quoted per 100.
type RubQuote struct {
	Code    string
	Nominal int64
	Rate    decimal.Decimal
}

// Normalized returns RUB per one unit of the currency.
func (q RubQuote) Normalized() decimal.Decimal {
	if q.Nominal > 1 {
		return q.Rate.Div(decimal.NewFromInt(q.Nominal))
	}
	return q.Rate
}

// RubTable holds one date's RUB quotes keyed by currency code.
type RubTable map[string]RubQuote

func (t RubTable) normalized(code string) (decimal.Decimal, error) {
	q, ok := t[code]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrMissingRubQuote, code)
	}
	n := q.Normalized()
	if n.Sign() == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrZeroRateInput, code)
	}
	return n, nil
}

// CoefficientSet is one date's full table of directed conversion
// coefficients. Every map is keyed "FROM_TO" and each value is how
// many units of TO one unit of FROM buys.
type CoefficientSet struct {
	Date   string
	Winner kolmo.Coin
	Rates  kolmo.Rates

	WinnerToWinner map[string]decimal.Decimal
	FiatToWinner   map[string]decimal.Decimal
	WinnerToFiat   map[string]decimal.Decimal
	RubToWinner    map[string]decimal.Decimal
	WinnerToRub    map[string]decimal.Decimal
	CbrToWinner    map[string]decimal.Decimal
	WinnerToCbr    map[string]decimal.Decimal
}

func pair(from, to string) string {
	return from + "_" + to
}

// Engine derives coefficient sets from finalized daily records.
type Engine struct {
	logger zerolog.Logger
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "convert").Logger(),
	}
}

// Derive computes the full coefficient set for a record. The RUB table
// may be nil or empty, in which case the RUB and central-bank blocks
// come back empty; a non-empty table must carry USD, EUR and CNY.
func (e *Engine) Derive(rec *kolmo.DailyComputeRecord, rub RubTable) (*CoefficientSet, error) {
	r := rec.Rates
	for _, c := range kolmo.Coins() {
		if r.Rate(c).Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroRateInput, c)
		}
	}

	set := &CoefficientSet{
		Date:   rec.Date.Format("2006-01-02"),
		Winner: rec.Winner,
		Rates:  r,

		WinnerToWinner: winnerToWinner(r),
		FiatToWinner:   fiatToWinner(r),
		WinnerToFiat:   winnerToFiat(r),
		RubToWinner:    map[string]decimal.Decimal{},
		WinnerToRub:    map[string]decimal.Decimal{},
		CbrToWinner:    map[string]decimal.Decimal{},
		WinnerToCbr:    map[string]decimal.Decimal{},
	}

	if len(rub) == 0 {
		e.logger.Debug().Str("date", set.Date).Msg("no rub table, pivot blocks omitted")
		return set, nil
	}

	if err := e.rubBlocks(set, rub); err != nil {
		return nil, err
	}
	e.cbrBlocks(set, rub)

	e.logger.Debug().
		Str("date", set.Date).
		Str("winner", string(set.Winner)).
		Int("cbr_pairs", len(set.CbrToWinner)).
		Msg("coefficient set derived")
	return set, nil
}

// winnerToWinner builds the six directed instrument pairs. Moving
// 1 ME4U (= 1 CNY) into IOU2 (= 1 USD) is the USD-per-CNY rate, which
// is r_me4u itself; the rest follow the same substitution.
func winnerToWinner(r kolmo.Rates) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		pair("ME4U", "IOU2"): r.ME4U,
		pair("IOU2", "ME4U"): one.Div(r.ME4U),

		pair("ME4U", "UOME"): one.Div(r.UOME),
		pair("UOME", "ME4U"): r.UOME,

		pair("IOU2", "UOME"): r.IOU2,
		pair("UOME", "IOU2"): one.Div(r.IOU2),
	}
}

func fiatToWinner(r kolmo.Rates) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		pair("CNY", "ME4U"): one,
		pair("USD", "ME4U"): one.Div(r.ME4U),
		pair("EUR", "ME4U"): r.UOME,

		pair("USD", "IOU2"): one,
		pair("EUR", "IOU2"): one.Div(r.IOU2),
		pair("CNY", "IOU2"): r.ME4U,

		pair("EUR", "UOME"): one,
		pair("USD", "UOME"): r.IOU2,
		pair("CNY", "UOME"): one.Div(r.UOME),
	}
}

func winnerToFiat(r kolmo.Rates) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		pair("ME4U", "CNY"): one,
		pair("ME4U", "USD"): r.ME4U,
		pair("ME4U", "EUR"): one.Div(r.UOME),

		pair("IOU2", "USD"): one,
		pair("IOU2", "EUR"): r.IOU2,
		pair("IOU2", "CNY"): one.Div(r.ME4U),

		pair("UOME", "EUR"): one,
		pair("UOME", "USD"): one.Div(r.IOU2),
		pair("UOME", "CNY"): r.UOME,
	}
}

// rubBlocks fills RUB↔winner for all three instruments using the
// normalized RUB quote of each instrument's base currency.
func (e *Engine) rubBlocks(set *CoefficientSet, rub RubTable) error {
	for _, c := range kolmo.Coins() {
		base, err := rub.normalized(baseCurrency[c])
		if err != nil {
			return err
		}
		set.RubToWinner[pair("RUB", string(c))] = one.Div(base)
		set.WinnerToRub[pair(string(c), "RUB")] = base
	}
	return nil
}

// cbrBlocks fills arbitrary-currency↔winner pairs for the day's winner
// via the RUB pivot. Unusable quotes are skipped, not fatal; the three
// pivot currencies are already guaranteed present by rubBlocks.
func (e *Engine) cbrBlocks(set *CoefficientSet, rub RubTable) {
	winner := string(set.Winner)
	base, err := rub.normalized(baseCurrency[set.Winner])
	if err != nil {
		return
	}

	for code := range rub {
		norm, err := rub.normalized(code)
		if err != nil {
			e.logger.Debug().Str("code", code).Msg("skipping unusable rub quote")
			continue
		}
		set.CbrToWinner[pair(code, winner)] = norm.Div(base)
		set.WinnerToCbr[pair(winner, code)] = base.Div(norm)
	}
}

// Cross derives the two directed coefficients between a RUB-quoted
// currency and an instrument.
func (e *Engine) Cross(rub RubTable, code string, c kolmo.Coin) (toCoin, fromCoin decimal.Decimal, err error) {
	base, err := rub.normalized(baseCurrency[c])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	norm, err := rub.normalized(code)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return norm.Div(base), base.Div(norm), nil
}
