// Package provider defines the contract between the feed core and the
// provider call adapters: the normalized quote, the adapter interface and
// the error taxonomy.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized live-data shape every adapter returns.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Currency      string          `json:"currency"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate normalizes the symbol and rejects payloads the cache must never
// store. Adapters call it at their boundary so a schema mismatch surfaces as
// ErrMalformedResponse instead of bad data downstream.
func (q *Quote) Validate() error {
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return NewMalformedResponse(q.Source, "", "empty symbol", nil)
	}
	if !q.Price.IsPositive() {
		return NewMalformedResponse(q.Source, q.Symbol, "non-positive price "+q.Price.String(), nil)
	}
	if q.Volume.IsNegative() {
		return NewMalformedResponse(q.Source, q.Symbol, "negative volume "+q.Volume.String(), nil)
	}
	if !q.High.IsZero() && !q.Low.IsZero() && q.High.LessThan(q.Low) {
		return NewMalformedResponse(q.Source, q.Symbol, "high below low", nil)
	}
	if q.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return NewMalformedResponse(q.Source, q.Symbol, "timestamp too far in future", nil)
	}
	return nil
}

// Adapter fetches one live quote from one provider. Implementations must
// not rate limit or cache; the admission layer owns both.
type Adapter interface {
	ID() string
	FetchQuote(ctx context.Context, symbol, category string) (Quote, error)
}
