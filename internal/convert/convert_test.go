package convert

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolmowatch/internal/kolmo"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRecord() *kolmo.DailyComputeRecord {
	return &kolmo.DailyComputeRecord{
		Date: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		Rates: kolmo.Rates{
			ME4U: d("0.143400"),
			IOU2: d("0.859948"),
			UOME: d("8.110000"),
		},
		Winner: kolmo.CoinIOU2,
	}
}

func testRubTable() RubTable {
	return RubTable{
		"USD": {Code: "USD", Nominal: 1, Rate: d("80.500000")},
		"EUR": {Code: "EUR", Nominal: 1, Rate: d("93.600000")},
		"CNY": {Code: "CNY", Nominal: 1, Rate: d("11.540000")},
		"JPY": {Code: "JPY", Nominal: 100, Rate: d("55.000000")},
		"KZT": {Code: "KZT", Nominal: 100, Rate: d("15.800000")},
	}
}

func TestDeriveWinnerToWinner(t *testing.T) {
	t.Parallel()

	set, err := NewEngine(zerolog.Nop()).Derive(testRecord(), nil)
	require.NoError(t, err)

	w2w := set.WinnerToWinner
	require.Len(t, w2w, 6)

	assert.True(t, w2w["ME4U_IOU2"].Equal(d("0.143400")))
	assert.True(t, w2w["UOME_ME4U"].Equal(d("8.110000")))
	assert.True(t, w2w["IOU2_UOME"].Equal(d("0.859948")))

	// Every directed pair is the mirror's reciprocal; products hold at
	// the 18-digit wire scale.
	for _, p := range [][2]string{
		{"ME4U_IOU2", "IOU2_ME4U"},
		{"ME4U_UOME", "UOME_ME4U"},
		{"IOU2_UOME", "UOME_IOU2"},
	} {
		product := w2w[p[0]].Mul(w2w[p[1]])
		assert.Equal(t, kolmo.FormatFixed(decimal.NewFromInt(1)), kolmo.FormatFixed(product),
			"%s x %s", p[0], p[1])
	}
}

func TestDeriveFiatIdentities(t *testing.T) {
	t.Parallel()

	set, err := NewEngine(zerolog.Nop()).Derive(testRecord(), nil)
	require.NoError(t, err)

	one := decimal.NewFromInt(1)

	// One unit of each base fiat is one unit of its instrument, in both
	// directions.
	assert.True(t, set.FiatToWinner["CNY_ME4U"].Equal(one))
	assert.True(t, set.FiatToWinner["USD_IOU2"].Equal(one))
	assert.True(t, set.FiatToWinner["EUR_UOME"].Equal(one))
	assert.True(t, set.WinnerToFiat["ME4U_CNY"].Equal(one))
	assert.True(t, set.WinnerToFiat["IOU2_USD"].Equal(one))
	assert.True(t, set.WinnerToFiat["UOME_EUR"].Equal(one))

	// Cross pairs come straight from the day's rates.
	assert.True(t, set.FiatToWinner["CNY_IOU2"].Equal(d("0.143400")))
	assert.True(t, set.FiatToWinner["USD_UOME"].Equal(d("0.859948")))
	assert.True(t, set.WinnerToFiat["UOME_CNY"].Equal(d("8.110000")))

	for key, fwd := range set.FiatToWinner {
		from, to := key[:3], key[4:]
		back, ok := set.WinnerToFiat[to+"_"+from]
		require.True(t, ok, "no mirror for %s", key)
		assert.Equal(t, kolmo.FormatFixed(one), kolmo.FormatFixed(fwd.Mul(back)), key)
	}
}

func TestDeriveRubPivot(t *testing.T) {
	t.Parallel()

	set, err := NewEngine(zerolog.Nop()).Derive(testRecord(), testRubTable())
	require.NoError(t, err)

	// IOU2 is pegged to USD; 80.50 RUB buy one USD.
	assert.True(t, set.WinnerToRub["IOU2_RUB"].Equal(d("80.500000")))
	assert.True(t, set.RubToWinner["RUB_IOU2"].Equal(d("1").Div(d("80.5"))))
	assert.True(t, set.WinnerToRub["ME4U_RUB"].Equal(d("11.540000")))
	assert.True(t, set.WinnerToRub["UOME_RUB"].Equal(d("93.600000")))
}

func TestDeriveCbrNominalNormalization(t *testing.T) {
	t.Parallel()

	set, err := NewEngine(zerolog.Nop()).Derive(testRecord(), testRubTable())
	require.NoError(t, err)

	// JPY is quoted per 100 units: 55.00 RUB / 100 = 0.55 RUB per JPY.
	// Winner of the day is IOU2 (base USD at 80.50 RUB).
	wantJPY := d("0.55").Div(d("80.5"))
	got, ok := set.CbrToWinner["JPY_IOU2"]
	require.True(t, ok)
	assert.Equal(t, kolmo.FormatFixed(wantJPY), kolmo.FormatFixed(got))

	back := set.WinnerToCbr["IOU2_JPY"]
	product := got.Mul(back)
	assert.Equal(t, kolmo.FormatFixed(decimal.NewFromInt(1)), kolmo.FormatFixed(product))
}

func TestDeriveMissingPivotCurrency(t *testing.T) {
	t.Parallel()

	table := testRubTable()
	delete(table, "USD")

	_, err := NewEngine(zerolog.Nop()).Derive(testRecord(), table)
	require.ErrorIs(t, err, ErrMissingRubQuote)
}

func TestDeriveZeroRates(t *testing.T) {
	t.Parallel()

	engine := NewEngine(zerolog.Nop())

	rec := testRecord()
	rec.Rates.IOU2 = decimal.Zero
	_, err := engine.Derive(rec, nil)
	require.ErrorIs(t, err, ErrZeroRateInput)

	table := testRubTable()
	table["EUR"] = RubQuote{Code: "EUR", Nominal: 1, Rate: decimal.Zero}
	_, err = engine.Derive(testRecord(), table)
	require.ErrorIs(t, err, ErrZeroRateInput)
}

func TestCross(t *testing.T) {
	t.Parallel()

	engine := NewEngine(zerolog.Nop())
	table := testRubTable()

	toCoin, fromCoin, err := engine.Cross(table, "KZT", kolmo.CoinUOME)
	require.NoError(t, err)

	// 15.80 RUB / 100 KZT against 93.60 RUB per EUR.
	want := d("0.158").Div(d("93.6"))
	assert.Equal(t, kolmo.FormatFixed(want), kolmo.FormatFixed(toCoin))
	assert.Equal(t, kolmo.FormatFixed(d("93.6").Div(d("0.158"))), kolmo.FormatFixed(fromCoin))

	_, _, err = engine.Cross(table, "GBP", kolmo.CoinUOME)
	require.ErrorIs(t, err, ErrMissingRubQuote)
}
