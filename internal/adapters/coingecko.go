package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGecko serves crypto spot quotes from /coins/markets.
type CoinGecko struct {
	httpAdapter
	vsCurrency string
}

// NewCoinGecko creates a new CoinGecko adapter. The API key is optional.
func NewCoinGecko(cfg HTTPConfig) *CoinGecko {
	if cfg.ID == "" {
		cfg.ID = "coingecko"
	}
	return &CoinGecko{httpAdapter: newHTTPAdapter(cfg, coinGeckoBaseURL), vsCurrency: "usd"}
}

func (cg *CoinGecko) FetchQuote(ctx context.Context, symbol, _ string) (provider.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	coin := strings.ToLower(strings.TrimSuffix(strings.TrimSuffix(symbol, "-USD"), "USDT"))
	if coin == "" {
		return provider.Quote{}, provider.NewBadSymbol(cg.id, symbol, "empty symbol", 0)
	}

	var header http.Header
	if cg.apiKey != "" {
		header = http.Header{"X-Cg-Demo-Api-Key": {cg.apiKey}}
	}
	u := cg.base + "/coins/markets?" + url.Values{
		"vs_currency": {cg.vsCurrency},
		"symbols":     {coin},
	}.Encode()

	var markets []struct {
		Symbol        string          `json:"symbol"`
		Name          string          `json:"name"`
		Price         decimal.Decimal `json:"current_price"`
		High          decimal.Decimal `json:"high_24h"`
		Low           decimal.Decimal `json:"low_24h"`
		Change        decimal.Decimal `json:"price_change_24h"`
		ChangePercent decimal.Decimal `json:"price_change_percentage_24h"`
		Volume        decimal.Decimal `json:"total_volume"`
		LastUpdated   time.Time       `json:"last_updated"`
	}
	if err := cg.getJSON(ctx, u, symbol, header, &markets); err != nil {
		return provider.Quote{}, err
	}
	if len(markets) == 0 {
		return provider.Quote{}, provider.NewBadSymbol(cg.id, symbol, "unknown coin", 0)
	}

	m := markets[0]
	q := provider.Quote{
		Symbol:        symbol,
		Price:         m.Price,
		High:          m.High,
		Low:           m.Low,
		Change:        m.Change,
		ChangePercent: m.ChangePercent,
		Volume:        m.Volume,
		PreviousClose: m.Price.Sub(m.Change),
		Currency:      strings.ToUpper(cg.vsCurrency),
		Source:        cg.id,
		Timestamp:     m.LastUpdated,
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	return q, q.Validate()
}
