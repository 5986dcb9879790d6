package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kolmowatch/internal/convert"
	"kolmowatch/internal/kolmo"
)

// CBROptions parameterise the Bank of Russia provider.
type CBROptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// CBR fetches the Bank of Russia daily XML quotations. Every currency
// is quoted against RUB with a per-currency nominal, so the EUR-base
// triangle quotes are derived by RUB cross-division. The raw table is
// also returned as the day's RUB pivot table.
type CBR struct {
	opts    CBROptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

func NewCBR(opts CBROptions, logger zerolog.Logger) *CBR {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.cbr.ru/scripts/XML_daily.asp"
	}

	return &CBR{
		opts:    opts,
		logger:  logger.With().Str("component", "cbr").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *CBR) Name() string { return "cbr" }

type cbrValCurs struct {
	XMLName xml.Name    `xml:"ValCurs"`
	Valutes []cbrValute `xml:"Valute"`
}

type cbrValute struct {
	CharCode string `xml:"CharCode"`
	Nominal  int64  `xml:"Nominal"`
	Value    string `xml:"Value"`
}

// Fetch retrieves the daily quotation sheet and cross-divides it into
// EUR-base quotes.
func (c *CBR) Fetch(ctx context.Context, date time.Time) (*Result, error) {
	// CBR expects DD/MM/YYYY.
	endpoint := c.baseURL + "?" + url.Values{
		"date_req": {date.Format("02/01/2006")},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(c.Name(), CodeHTTPError, err)
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(c.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(c.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(c.Name(), CodeHTTPError,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var sheet cbrValCurs
	if err := xml.Unmarshal(payload, &sheet); err != nil {
		return nil, newError(c.Name(), CodeParseError, err)
	}

	rub := convert.RubTable{}
	perUnit := map[string]decimal.Decimal{}
	for _, v := range sheet.Valutes {
		// Comma decimal separator in Value.
		rate, err := decimal.NewFromString(strings.ReplaceAll(v.Value, ",", "."))
		if err != nil {
			c.logger.Debug().Str("code", v.CharCode).Msg("skipping unparseable quotation")
			continue
		}
		nominal := v.Nominal
		if nominal < 1 {
			nominal = 1
		}
		rub[v.CharCode] = convert.RubQuote{Code: v.CharCode, Nominal: nominal, Rate: rate}
		perUnit[v.CharCode] = rub[v.CharCode].Normalized()
	}

	eurRub, ok := perUnit[kolmo.PivotCurrency]
	if !ok || eurRub.Sign() <= 0 {
		return nil, newError(c.Name(), CodeMissingCurrency,
			fmt.Errorf("no usable EUR quotation in sheet of %d currencies", len(perUnit)))
	}

	snap := kolmo.NewSnapshot(date, c.Name())
	for code, rubPerUnit := range perUnit {
		if code == kolmo.PivotCurrency || rubPerUnit.Sign() <= 0 {
			continue
		}
		// CODE per 1 EUR = (RUB per EUR) / (RUB per CODE).
		snap.Quotes[code] = kolmo.Quote{
			Rate:      eurRub.Div(rubPerUnit),
			Direction: code + "/" + kolmo.PivotCurrency,
		}
		snap.Sources[code] = c.Name()
	}

	c.logger.Debug().
		Str("date", date.Format("2006-01-02")).
		Int("quotes", len(snap.Quotes)).
		Int("rub_quotes", len(rub)).
		Msg("cbr sheet parsed")

	return &Result{Snapshot: snap, Rub: rub}, nil
}

var _ Provider = (*CBR)(nil)
