package kolmo

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Selector picks the day's winning instrument from relative-path values.
//
// Rule: winner is the alphabetically first instrument among those tied at
// the maximum relpath. The maximum is taken even when negative; "most
// improving" does not require actual improvement. With no relpath at all
// (first day) the distinct default_first_day rule applies.
type Selector struct{}

// NewSelector constructs a selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Select applies the selection rule over the (possibly nil) relpaths and
// returns the winner with its structured justification.
func (s *Selector) Select(metrics SequentialMetrics) (Coin, WinnerReason) {
	candidates := make(map[Coin]decimal.Decimal, 3)
	for _, coin := range Coins() {
		if rp := metrics.Relpath(coin); rp != nil {
			candidates[coin] = *rp
		}
	}

	reason := WinnerReason{
		RelpathME4U: metrics.RelpathME4U,
		RelpathIOU2: metrics.RelpathIOU2,
		RelpathUOME: metrics.RelpathUOME,
	}

	// First day in the dataset: no relpath exists, the rule cannot apply.
	if len(candidates) == 0 {
		reason.Rule = RuleDefaultFirstDay
		reason.Winner = CoinIOU2
		reason.TiedCoins = []Coin{}
		return CoinIOU2, reason
	}

	var maxRelpath decimal.Decimal
	first := true
	for _, rp := range candidates {
		if first || rp.GreaterThan(maxRelpath) {
			maxRelpath = rp
			first = false
		}
	}

	tied := make([]Coin, 0, len(candidates))
	for coin, rp := range candidates {
		if rp.Equal(maxRelpath) {
			tied = append(tied, coin)
		}
	}
	sort.Slice(tied, func(i, j int) bool { return tied[i] < tied[j] })

	winner := tied[0]

	rule := RuleMaxPositive
	if maxRelpath.Sign() <= 0 {
		rule = RuleLeastNegative
	}

	reason.MaxRelpath = &maxRelpath
	reason.TiedCoins = tied
	reason.Rule = rule
	reason.Winner = winner

	return winner, reason
}
