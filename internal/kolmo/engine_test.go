package kolmo

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineComputeDailyFirstDay(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(map[string]Quote{
		"USD": {Rate: d("1.163000"), Direction: "USD/EUR"},
		"CNY": {Rate: d("8.110000"), Direction: "CNY/EUR"},
	})

	rec, err := NewEngine(zerolog.Nop()).ComputeDaily(snap, nil)
	require.NoError(t, err)

	assert.Equal(t, snap.Date, rec.Date)
	assert.Equal(t, snap.SnapshotID, rec.SnapshotID)

	// Every field is derived from the same three rates; the invariant is
	// their exact product.
	product := rec.Rates.ME4U.Mul(rec.Rates.IOU2).Mul(rec.Rates.UOME)
	assert.True(t, rec.Invariant.Value.Equal(product))

	assert.Nil(t, rec.Sequential.VolME4U)
	assert.Nil(t, rec.Sequential.RelpathIOU2)
	assert.Equal(t, RuleDefaultFirstDay, rec.Reason.Rule)
	assert.Equal(t, CoinIOU2, rec.Winner)
}

func TestEngineComputeDailySecondDay(t *testing.T) {
	t.Parallel()

	engine := NewEngine(zerolog.Nop())

	first := testSnapshot(map[string]Quote{
		"USD": {Rate: d("1.163000"), Direction: "USD/EUR"},
		"CNY": {Rate: d("8.110000"), Direction: "CNY/EUR"},
	})
	prev, err := engine.ComputeDaily(first, nil)
	require.NoError(t, err)

	second := testSnapshot(map[string]Quote{
		"USD": {Rate: d("1.158000"), Direction: "USD/EUR"},
		"CNY": {Rate: d("8.050000"), Direction: "CNY/EUR"},
	})
	second.Date = prev.Date.AddDate(0, 0, 1)

	rec, err := engine.ComputeDaily(second, prev)
	require.NoError(t, err)

	require.NotNil(t, rec.Sequential.VolUOME)
	require.NotNil(t, rec.Sequential.RelpathUOME)
	assert.NotEqual(t, RuleDefaultFirstDay, rec.Reason.Rule)
	assert.Contains(t, rec.Reason.TiedCoins, rec.Winner)
}

func TestEngineRejectsMalformedSnapshot(t *testing.T) {
	t.Parallel()

	snap := testSnapshot(map[string]Quote{
		"USD": {Rate: d("1.163000"), Direction: "bogus"},
		"CNY": {Rate: d("8.110000"), Direction: "CNY/EUR"},
	})

	_, err := NewEngine(zerolog.Nop()).ComputeDaily(snap, nil)
	require.ErrorIs(t, err, ErrInvalidDirection)
}
