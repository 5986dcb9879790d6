package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cbrSheet = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="15.01.2026" name="Foreign Currency Market">
  <Valute ID="R01235">
    <NumCode>840</NumCode><CharCode>USD</CharCode>
    <Nominal>1</Nominal><Name>US Dollar</Name>
    <Value>80,5000</Value>
  </Valute>
  <Valute ID="R01239">
    <NumCode>978</NumCode><CharCode>EUR</CharCode>
    <Nominal>1</Nominal><Name>Euro</Name>
    <Value>93,6000</Value>
  </Valute>
  <Valute ID="R01375">
    <NumCode>156</NumCode><CharCode>CNY</CharCode>
    <Nominal>1</Nominal><Name>Yuan</Name>
    <Value>11,5400</Value>
  </Valute>
  <Valute ID="R01820">
    <NumCode>392</NumCode><CharCode>JPY</CharCode>
    <Nominal>100</Nominal><Name>Yen</Name>
    <Value>55,0000</Value>
  </Valute>
</ValCurs>`

func TestCBRFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "15/01/2026", r.URL.Query().Get("date_req"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(cbrSheet))
	}))
	defer srv.Close()

	p := NewCBR(CBROptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	res, err := p.Fetch(context.Background(), testDate)
	require.NoError(t, err)

	// USD per EUR = 93.60 / 80.50 by RUB cross-division.
	usd, ok := res.Snapshot.Quotes["USD"]
	require.True(t, ok)
	want := decimal.RequireFromString("93.6").Div(decimal.RequireFromString("80.5"))
	assert.True(t, usd.Rate.Equal(want), "usd/eur = %s", usd.Rate)
	assert.Equal(t, "USD/EUR", usd.Direction)

	cny := res.Snapshot.Quotes["CNY"]
	assert.True(t, cny.Rate.Equal(decimal.RequireFromString("93.6").Div(decimal.RequireFromString("11.54"))))

	// EUR itself never appears as a quote against EUR.
	_, ok = res.Snapshot.Quotes["EUR"]
	assert.False(t, ok)

	// The raw RUB table keeps the published nominal.
	require.NotNil(t, res.Rub)
	jpy, ok := res.Rub["JPY"]
	require.True(t, ok)
	assert.EqualValues(t, 100, jpy.Nominal)
	assert.True(t, jpy.Rate.Equal(decimal.RequireFromString("55.0000")))
	assert.True(t, jpy.Normalized().Equal(decimal.RequireFromString("0.55")))
}

func TestCBRFetchMissingEUR(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<ValCurs><Valute><CharCode>USD</CharCode><Nominal>1</Nominal><Value>80,5</Value></Valute></ValCurs>`))
	}))
	defer srv.Close()

	p := NewCBR(CBROptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	_, err := p.Fetch(context.Background(), testDate)
	require.Error(t, err)
	assert.Equal(t, CodeMissingCurrency, errCode(err))
}

func TestCBRFetchMalformedXML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<ValCurs><Valute>`))
	}))
	defer srv.Close()

	p := NewCBR(CBROptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	_, err := p.Fetch(context.Background(), testDate)
	require.Error(t, err)
	assert.Equal(t, CodeParseError, errCode(err))
}
