package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kolmowatch/internal/kolmo"
)

// twelveDataPairs are fetched one request each; only EUR/USD and
// EUR/CNY are required downstream.
var twelveDataPairs = []string{"EUR/USD", "EUR/CNY", "EUR/RUB"}

// TwelveDataOptions parameterise the last-resort provider.
type TwelveDataOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// TwelveData fetches daily closes from the TwelveData time_series
// endpoint, one currency pair per request. Requires an API key.
type TwelveData struct {
	opts    TwelveDataOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

func NewTwelveData(opts TwelveDataOptions, logger zerolog.Logger) *TwelveData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}

	return &TwelveData{
		opts:    opts,
		logger:  logger.With().Str("component", "twelvedata").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (t *TwelveData) Name() string { return "twelvedata" }

// Fetch retrieves one daily close per pair for the date.
func (t *TwelveData) Fetch(ctx context.Context, date time.Time) (*Result, error) {
	if t.opts.APIKey == "" {
		return nil, newError(t.Name(), CodeConfigError, errors.New("api key not configured"))
	}

	day := date.Format("2006-01-02")
	snap := kolmo.NewSnapshot(date, t.Name())

	for _, pair := range twelveDataPairs {
		close, err := t.fetchClose(ctx, pair, day)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && perr.Code == CodeMissingCurrency {
				// A pair absent for the day is tolerable unless it is
				// required, which validation decides.
				t.logger.Debug().Str("pair", pair).Str("date", day).Msg("no close for pair")
				continue
			}
			return nil, err
		}
		code := strings.SplitN(pair, "/", 2)[1]
		// EUR/XXX close is XXX per 1 EUR.
		snap.Quotes[code] = kolmo.Quote{Rate: close, Direction: code + "/" + kolmo.PivotCurrency}
		snap.Sources[code] = t.Name()
	}

	return &Result{Snapshot: snap}, nil
}

func (t *TwelveData) fetchClose(ctx context.Context, pair, day string) (decimal.Decimal, error) {
	endpoint := t.baseURL + "/time_series?" + url.Values{
		"symbol":     {pair},
		"interval":   {"1day"},
		"start_date": {day},
		"end_date":   {day},
		"apikey":     {t.opts.APIKey},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, newError(t.Name(), CodeHTTPError, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, transportError(t.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, transportError(t.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, newError(t.Name(), CodeHTTPError,
			fmt.Errorf("status %d for %s", resp.StatusCode, pair))
	}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Values  []struct {
			Close string `json:"close"`
		} `json:"values"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, newError(t.Name(), CodeParseError, err)
	}
	if body.Code != 0 && body.Code != http.StatusOK {
		return decimal.Decimal{}, newError(t.Name(), CodeHTTPError,
			fmt.Errorf("api code %d for %s: %s", body.Code, pair, body.Message))
	}
	if len(body.Values) == 0 || body.Values[0].Close == "" {
		return decimal.Decimal{}, newError(t.Name(), CodeMissingCurrency,
			fmt.Errorf("no close for %s on %s", pair, day))
	}

	close, err := decimal.NewFromString(body.Values[0].Close)
	if err != nil {
		return decimal.Decimal{}, newError(t.Name(), CodeParseError,
			fmt.Errorf("close for %s: %w", pair, err))
	}
	return close, nil
}

var _ Provider = (*TwelveData)(nil)
