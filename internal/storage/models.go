package storage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"kolmowatch/internal/kolmo"
)

// quotePayload is one entry of the raw_snapshots.quotes JSONB column.
// Rates travel as strings so no float representation ever occurs.
type quotePayload struct {
	Rate      string `json:"rate"`
	Direction string `json:"direction"`
}

func encodeQuotes(quotes map[string]kolmo.Quote) map[string]quotePayload {
	out := make(map[string]quotePayload, len(quotes))
	for code, q := range quotes {
		out[code] = quotePayload{Rate: q.Rate.String(), Direction: q.Direction}
	}
	return out
}

func decodeQuotes(payload map[string]quotePayload) (map[string]kolmo.Quote, error) {
	out := make(map[string]kolmo.Quote, len(payload))
	for code, p := range payload {
		rate, err := decimal.NewFromString(p.Rate)
		if err != nil {
			return nil, fmt.Errorf("parse quote %s: %w", code, err)
		}
		out[code] = kolmo.Quote{Rate: rate, Direction: p.Direction}
	}
	return out, nil
}
