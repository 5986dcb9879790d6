package kolmo

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PivotCurrency is the reference currency all raw quotes are taken against.
const PivotCurrency = "EUR"

// Quote is a single raw pivot quote as delivered by a provider.
// Direction records which side is "per 1 unit of" the other, e.g.
// "USD/EUR" means USD per 1 EUR while "EUR/USD" means EUR per 1 USD.
type Quote struct {
	Rate      decimal.Decimal
	Direction string
}

// RawRateSnapshot holds one day's raw quotes before any transformation.
// Snapshots are immutable once written; a recomputation reads them back,
// it never rewrites them.
type RawRateSnapshot struct {
	Date       time.Time
	Quotes     map[string]Quote // keyed by currency code quoted against EUR
	Provider   string
	Sources    map[string]string
	SnapshotID uuid.UUID
	CreatedAt  time.Time
}

// NewSnapshot builds a snapshot with a fresh identifier.
func NewSnapshot(date time.Time, provider string) *RawRateSnapshot {
	return &RawRateSnapshot{
		Date:       date,
		Quotes:     make(map[string]Quote),
		Provider:   provider,
		Sources:    map[string]string{"provider": provider},
		SnapshotID: uuid.New(),
		CreatedAt:  time.Now().UTC(),
	}
}
