package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kolmowatch/internal/kolmo"
)

// symbols requested from EUR-base sources. USD and CNY feed the
// triangle; the rest are kept in the snapshot for provenance.
var eurSymbols = []string{
	"USD", "CNY", "RUB", "INR", "AED", "CAD", "SGD", "THB", "VND", "HKD", "HUF",
}

// FrankfurterOptions parameterise the primary provider.
type FrankfurterOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Frankfurter fetches ECB reference rates from the Frankfurter API.
// Response shape: {"date":"...","base":"EUR","rates":{"USD":1.163,...}}.
type Frankfurter struct {
	opts    FrankfurterOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

func NewFrankfurter(opts FrankfurterOptions, logger zerolog.Logger) *Frankfurter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.frankfurter.dev"
	}

	return &Frankfurter{
		opts:    opts,
		logger:  logger.With().Str("component", "frankfurter").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (f *Frankfurter) Name() string { return "frankfurter" }

// Fetch retrieves EUR-base quotes for the date.
func (f *Frankfurter) Fetch(ctx context.Context, date time.Time) (*Result, error) {
	endpoint := fmt.Sprintf("%s/v1/%s?%s", f.baseURL, date.Format("2006-01-02"),
		url.Values{
			"base":    {"EUR"},
			"symbols": {strings.Join(eurSymbols, ",")},
		}.Encode())

	payload, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var body struct {
		Base  string                 `json:"base"`
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, newError(f.Name(), CodeParseError, err)
	}
	if body.Rates == nil {
		return nil, newError(f.Name(), CodeParseError, errors.New("missing rates field"))
	}

	snap := kolmo.NewSnapshot(date, f.Name())
	for code, num := range body.Rates {
		rate, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, newError(f.Name(), CodeParseError,
				fmt.Errorf("rate for %s: %w", code, err))
		}
		// Frankfurter quotes CODE per 1 EUR.
		snap.Quotes[code] = kolmo.Quote{Rate: rate, Direction: code + "/" + kolmo.PivotCurrency}
		snap.Sources[code] = f.Name()
	}

	f.logger.Debug().
		Str("date", date.Format("2006-01-02")).
		Int("quotes", len(snap.Quotes)).
		Msg("frankfurter response parsed")

	return &Result{Snapshot: snap}, nil
}

func (f *Frankfurter) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(f.Name(), CodeHTTPError, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transportError(f.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(f.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(f.Name(), CodeHTTPError,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	return payload, nil
}

// transportError separates timeouts from other transport failures.
func transportError(provider string, err error) *Error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return newError(provider, CodeTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(provider, CodeTimeout, err)
	}
	return newError(provider, CodeHTTPError, err)
}

var _ Provider = (*Frankfurter)(nil)
