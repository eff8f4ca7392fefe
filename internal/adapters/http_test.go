package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

func serve(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestPolygonPreviousClose(t *testing.T) {
	base := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/ticker/NVDA/prev", r.URL.Path)
		assert.Equal(t, "pk_test_0001", r.URL.Query().Get("apiKey"))
		fmt.Fprint(w, `{"ticker":"NVDA","status":"OK","resultsCount":1,"results":[
			{"T":"NVDA","o":440.00,"h":452.10,"l":438.50,"c":450.00,"v":41230000,"t":1714680000000}]}`)
	})
	p := NewPolygon(HTTPConfig{BaseURL: base, APIKey: "pk_test_0001"})

	q, err := p.FetchQuote(context.Background(), "nvda", "stocks")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", q.Symbol)
	assert.Equal(t, "polygon", q.Source)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(450)))
	assert.True(t, q.Change.Equal(decimal.NewFromInt(10)))
	assert.True(t, q.ChangePercent.Equal(decimal.RequireFromString("2.2727")))
	assert.Equal(t, time.UnixMilli(1714680000000).UTC(), q.Timestamp)
}

func TestPolygonIndexTicker(t *testing.T) {
	base := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/ticker/I:SPX/prev", r.URL.Path)
		fmt.Fprint(w, `{"status":"DELAYED","results":[{"T":"I:SPX","o":5100,"h":5130,"l":5090,"c":5127.79,"v":0,"t":1714680000000}]}`)
	})
	p := NewPolygon(HTTPConfig{BaseURL: base, APIKey: "k"})

	q, err := p.FetchQuote(context.Background(), "SPX", "indices")
	require.NoError(t, err)
	assert.Equal(t, "SPX", q.Symbol)
}

func TestPolygonErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"no results", 200, `{"status":"OK","resultsCount":0,"results":[]}`, provider.ErrBadSymbol},
		{"error status", 200, `{"status":"ERROR","error":"Unknown API Key"}`, provider.ErrMalformedResponse},
		{"rate limited", 429, `{"status":"ERROR","error":"You've exceeded the maximum requests per minute"}`, provider.ErrQuotaExceeded},
		{"server error", 502, `bad gateway`, provider.ErrNetworkTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := NewPolygon(HTTPConfig{BaseURL: base, APIKey: "k"}).FetchQuote(context.Background(), "AAPL", "stocks")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCoinGeckoMarkets(t *testing.T) {
	base := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "btc", r.URL.Query().Get("symbols"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "cg-demo", r.Header.Get("X-Cg-Demo-Api-Key"))
		fmt.Fprint(w, `[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":64250.5,
			"high_24h":65500,"low_24h":63010.25,"price_change_24h":-820,
			"price_change_percentage_24h":-1.26,"total_volume":28000000000,
			"last_updated":"2024-05-03T14:05:01.000Z"}]`)
	})
	cg := NewCoinGecko(HTTPConfig{BaseURL: base, APIKey: "cg-demo"})

	q, err := cg.FetchQuote(context.Background(), "btc-usd", "crypto")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", q.Symbol)
	assert.Equal(t, "USD", q.Currency)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("64250.5")))
	assert.True(t, q.PreviousClose.Equal(decimal.RequireFromString("65070.5")))
	assert.Equal(t, time.Date(2024, 5, 3, 14, 5, 1, 0, time.UTC), q.Timestamp)
}

func TestCoinGeckoWithoutKey(t *testing.T) {
	base := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Cg-Demo-Api-Key"))
		fmt.Fprint(w, `[]`)
	})
	_, err := NewCoinGecko(HTTPConfig{BaseURL: base}).FetchQuote(context.Background(), "NOPE", "crypto")
	assert.True(t, errors.Is(err, provider.ErrBadSymbol))
}

func TestCanceledRequestIsNotTransient(t *testing.T) {
	base := serve(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCoinGecko(HTTPConfig{BaseURL: base}).FetchQuote(ctx, "BTC", "crypto")
	require.Error(t, err)
	assert.False(t, provider.Retryable(err))
}

func TestSharedHTTPClientKeepsItsTimeout(t *testing.T) {
	shared := &http.Client{}
	tests := []struct {
		name    string
		timeout time.Duration
		client  func() *http.Client
	}{
		{"alphavantage", 5 * time.Second, func() *http.Client {
			return NewAlphaVantage(HTTPConfig{Timeout: 5 * time.Second, HTTPClient: shared}).client.HTTPClient
		}},
		{"polygon", 2 * time.Second, func() *http.Client {
			return NewPolygon(HTTPConfig{Timeout: 2 * time.Second, HTTPClient: shared}).client.HTTPClient
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := tt.client()
			assert.Equal(t, tt.timeout, hc.Timeout)
			assert.NotSame(t, shared, hc)
			assert.Zero(t, shared.Timeout)
		})
	}
}
