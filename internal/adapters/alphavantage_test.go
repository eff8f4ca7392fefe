package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

func newAVServer(t *testing.T, handler http.HandlerFunc) *AlphaVantage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAlphaVantage(HTTPConfig{ID: "alphavantage", BaseURL: srv.URL, APIKey: "demo-key-123456", Timeout: 2 * time.Second})
}

func TestAlphaVantageGlobalQuote(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "BRK.B", r.URL.Query().Get("symbol"))
		assert.Equal(t, "demo-key-123456", r.URL.Query().Get("apikey"))
		fmt.Fprint(w, `{"Global Quote": {
			"01. symbol": "BRK.B",
			"02. open": "410.00",
			"03. high": "414.20",
			"04. low": "408.75",
			"05. price": "412.35",
			"06. volume": "3120450",
			"07. latest trading day": "2024-05-03",
			"08. previous close": "409.90",
			"09. change": "2.45",
			"10. change percent": "0.5977%"
		}}`)
	})

	q, err := av.FetchQuote(context.Background(), "brk-b", "stocks")
	require.NoError(t, err)
	assert.Equal(t, "BRK.B", q.Symbol)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("412.35")))
	assert.True(t, q.ChangePercent.Equal(decimal.RequireFromString("0.5977")))
	assert.True(t, q.Volume.Equal(decimal.NewFromInt(3120450)))
	assert.Equal(t, "alphavantage", q.Source)
	assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), q.Timestamp)
}

func TestAlphaVantageForex(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CURRENCY_EXCHANGE_RATE", r.URL.Query().Get("function"))
		assert.Equal(t, "EUR", r.URL.Query().Get("from_currency"))
		assert.Equal(t, "USD", r.URL.Query().Get("to_currency"))
		fmt.Fprint(w, `{"Realtime Currency Exchange Rate": {
			"1. From_Currency Code": "EUR",
			"3. To_Currency Code": "USD",
			"5. Exchange Rate": "1.08420000",
			"6. Last Refreshed": "2024-05-03 14:05:01"
		}}`)
	})

	q, err := av.FetchQuote(context.Background(), "EUR/USD", "forex")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", q.Symbol)
	assert.Equal(t, "USD", q.Currency)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("1.0842")))
}

func TestAlphaVantageErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category string
		symbol   string
		want     error
	}{
		{"quota note", 200, `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`, "stocks", "AAPL", provider.ErrQuotaExceeded},
		{"quota information", 200, `{"Information": "We have detected your API key and our standard API rate limit is 25 requests per day."}`, "stocks", "AAPL", provider.ErrQuotaExceeded},
		{"invalid symbol", 200, `{"Error Message": "Invalid API call."}`, "stocks", "ZZZZ", provider.ErrBadSymbol},
		{"empty quote", 200, `{"Global Quote": {}}`, "stocks", "ZZZZ", provider.ErrBadSymbol},
		{"bad price", 200, `{"Global Quote": {"05. price": "n/a"}}`, "stocks", "AAPL", provider.ErrMalformedResponse},
		{"zero price", 200, `{"Global Quote": {"05. price": "0.0000"}}`, "stocks", "AAPL", provider.ErrMalformedResponse},
		{"not json", 200, `<html>maintenance</html>`, "stocks", "AAPL", provider.ErrMalformedResponse},
		{"http 429", 429, `slow down`, "stocks", "AAPL", provider.ErrQuotaExceeded},
		{"http 503", 503, `unavailable`, "stocks", "AAPL", provider.ErrNetworkTransient},
		{"http 404", 404, `not found`, "stocks", "AAPL", provider.ErrBadSymbol},
		{"http 403", 403, `forbidden`, "stocks", "AAPL", provider.ErrMalformedResponse},
		{"bad pair", 200, `{}`, "forex", "EURO", provider.ErrBadSymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := av.FetchQuote(context.Background(), tt.symbol, tt.category)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAlphaVantageStatusCodeKept(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := av.FetchQuote(context.Background(), "AAPL", "stocks")
	assert.Equal(t, http.StatusTooManyRequests, provider.StatusCode(err))
	assert.True(t, provider.IsRateLimited(err))
}

func TestNetworkErrorRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	av := NewAlphaVantage(HTTPConfig{BaseURL: base, APIKey: "supersecretkey99", RetryMax: 1, Timeout: time.Second})
	_, err := av.FetchQuote(context.Background(), "AAPL", "stocks")
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrNetworkTransient))
	assert.NotContains(t, err.Error(), "supersecretkey99")
}

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		" aapl ":  "AAPL",
		"brk-a":   "BRK.A",
		"BRK-B":   "BRK.B",
		"MSFT.US": "MSFT",
		"":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeSymbol(in), in)
	}
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "abcd****6789", maskAPIKey("abcdef0123456789"))
}

func TestAlphaVantageLive(t *testing.T) {
	apiKey := os.Getenv("ALPHA_VANTAGE_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping Alpha Vantage test - no API key provided")
	}

	av := NewAlphaVantage(HTTPConfig{APIKey: apiKey, Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	q, err := av.FetchQuote(ctx, "AAPL", "stocks")
	if provider.IsRateLimited(err) {
		t.Skipf("rate limited: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Price.IsPositive())
}
