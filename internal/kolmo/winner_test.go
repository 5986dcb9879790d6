package kolmo

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func metricsWithRelpaths(me4u, iou2, uome *decimal.Decimal) SequentialMetrics {
	return SequentialMetrics{RelpathME4U: me4u, RelpathIOU2: iou2, RelpathUOME: uome}
}

func TestSelectorReferenceScenario(t *testing.T) {
	t.Parallel()

	winner, reason := NewSelector().Select(
		metricsWithRelpaths(dp("-0.35"), dp("3.24"), dp("0.05")),
	)

	assert.Equal(t, CoinIOU2, winner)
	assert.Equal(t, RuleMaxPositive, reason.Rule)
	require.NotNil(t, reason.MaxRelpath)
	assert.True(t, reason.MaxRelpath.Equal(d("3.24")))
	assert.Equal(t, []Coin{CoinIOU2}, reason.TiedCoins)
	assert.Equal(t, CoinIOU2, reason.Winner)
}

func TestSelectorAlphabeticalTieBreak(t *testing.T) {
	t.Parallel()

	winner, reason := NewSelector().Select(
		metricsWithRelpaths(dp("1.5"), dp("0.2"), dp("1.5")),
	)

	// ME4U and UOME tie exactly; ME4U sorts first.
	assert.Equal(t, CoinME4U, winner)
	assert.Equal(t, []Coin{CoinME4U, CoinUOME}, reason.TiedCoins)
	assert.Contains(t, reason.TiedCoins, winner)
}

func TestSelectorAllWorsening(t *testing.T) {
	t.Parallel()

	// The maximum is still selected even when every instrument worsened.
	winner, reason := NewSelector().Select(
		metricsWithRelpaths(dp("-4.1"), dp("-0.9"), dp("-2.3")),
	)

	assert.Equal(t, CoinIOU2, winner)
	assert.Equal(t, RuleLeastNegative, reason.Rule)
	require.NotNil(t, reason.MaxRelpath)
	assert.True(t, reason.MaxRelpath.Equal(d("-0.9")))
}

func TestSelectorNoPriorData(t *testing.T) {
	t.Parallel()

	winner, reason := NewSelector().Select(metricsWithRelpaths(nil, nil, nil))

	assert.Equal(t, CoinIOU2, winner)
	assert.Equal(t, RuleDefaultFirstDay, reason.Rule)
	assert.Nil(t, reason.MaxRelpath)
	assert.Empty(t, reason.TiedCoins)
}

func TestSelectorSkipsUndefinedRelpaths(t *testing.T) {
	t.Parallel()

	// An instrument at parity yesterday has no relpath; it simply leaves
	// the candidate set.
	winner, reason := NewSelector().Select(
		metricsWithRelpaths(nil, dp("-1.0"), dp("0.4")),
	)

	assert.Equal(t, CoinUOME, winner)
	assert.Equal(t, []Coin{CoinUOME}, reason.TiedCoins)
	assert.Equal(t, RuleMaxPositive, reason.Rule)
}
