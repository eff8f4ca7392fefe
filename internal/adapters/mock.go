package adapters

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

// Mock provides deterministic quotes for testing
type Mock struct {
	id string

	mu      sync.Mutex
	quotes  map[string]provider.Quote
	errs    map[string][]error
	latency time.Duration
	calls   map[string]int
}

// NewMock creates a mock adapter with predefined quotes
func NewMock(id string) *Mock {
	if id == "" {
		id = "mock"
	}
	m := &Mock{
		id:     id,
		quotes: make(map[string]provider.Quote),
		errs:   make(map[string][]error),
		calls:  make(map[string]int),
	}
	for _, q := range []struct {
		symbol, price, change, volume string
	}{
		{"AAPL", "206.80", "1.35", "12500000"},
		{"MSFT", "415.75", "-2.10", "9800000"},
		{"NVDA", "450.00", "7.25", "8200000"},
		{"SPY", "512.40", "0.85", "61000000"},
		{"BTC", "64250.50", "-820.00", "28000000000"},
		{"ETH", "3120.25", "45.10", "14000000000"},
		{"EURUSD", "1.0842", "0.0012", "0"},
		{"XAUUSD", "2335.60", "12.40", "0"},
	} {
		price := decimal.RequireFromString(q.price)
		change := decimal.RequireFromString(q.change)
		m.quotes[q.symbol] = provider.Quote{
			Symbol:        q.symbol,
			Price:         price,
			Change:        change,
			PreviousClose: price.Sub(change),
			Volume:        decimal.RequireFromString(q.volume),
			Currency:      "USD",
		}
	}
	return m
}

func (m *Mock) ID() string { return m.id }

// FetchQuote returns the stored quote, or the next queued error for symbol.
func (m *Mock) FetchQuote(ctx context.Context, symbol, _ string) (provider.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	m.mu.Lock()
	m.calls[symbol]++
	latency := m.latency
	var queued error
	if errs := m.errs[symbol]; len(errs) > 0 {
		queued, m.errs[symbol] = errs[0], errs[1:]
	}
	q, ok := m.quotes[symbol]
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return provider.Quote{}, ctx.Err()
		case <-time.After(latency):
		}
	}
	if queued != nil {
		return provider.Quote{}, queued
	}
	if !ok {
		return provider.Quote{}, provider.NewBadSymbol(m.id, symbol, "symbol not found in mock data", 404)
	}
	q.Source = m.id
	q.Timestamp = time.Now().UTC()
	return q, nil
}

// SetQuote adds or replaces the quote for q.Symbol.
func (m *Mock) SetQuote(q provider.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Symbol = strings.ToUpper(q.Symbol)
	m.quotes[q.Symbol] = q
}

// RemoveQuote allows tests to remove quotes
func (m *Mock) RemoveQuote(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, strings.ToUpper(strings.TrimSpace(symbol)))
}

// FailNext queues errs to be returned, in order, by the next fetches of
// symbol.
func (m *Mock) FailNext(symbol string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	m.errs[symbol] = append(m.errs[symbol], errs...)
}

// SetLatency allows tests to control simulated latency
func (m *Mock) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns how many fetches symbol received.
func (m *Mock) Calls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[strings.ToUpper(symbol)]
}
