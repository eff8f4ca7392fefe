package adapters

import (
	"context"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

const polygonBaseURL = "https://api.polygon.io"

// Polygon serves the previous session's aggregate bar for equities and
// indices.
type Polygon struct {
	httpAdapter
}

// NewPolygon creates a new Polygon.io adapter
func NewPolygon(cfg HTTPConfig) *Polygon {
	if cfg.ID == "" {
		cfg.ID = "polygon"
	}
	return &Polygon{httpAdapter: newHTTPAdapter(cfg, polygonBaseURL)}
}

func (p *Polygon) FetchQuote(ctx context.Context, symbol, category string) (provider.Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return provider.Quote{}, provider.NewBadSymbol(p.id, symbol, "empty symbol", 0)
	}
	ticker := symbol
	if category == "indices" {
		ticker = "I:" + symbol
	}

	var resp struct {
		Status       string `json:"status"`
		ResultsCount int    `json:"resultsCount"`
		Results      []struct {
			Ticker string          `json:"T"`
			Open   decimal.Decimal `json:"o"`
			High   decimal.Decimal `json:"h"`
			Low    decimal.Decimal `json:"l"`
			Close  decimal.Decimal `json:"c"`
			Volume decimal.Decimal `json:"v"`
			Time   int64           `json:"t"` // ms since epoch
		} `json:"results"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	u := p.base + "/v2/aggs/ticker/" + url.PathEscape(ticker) + "/prev?" + url.Values{
		"adjusted": {"true"},
		"apiKey":   {p.apiKey},
	}.Encode()
	if err := p.getJSON(ctx, u, symbol, nil, &resp); err != nil {
		return provider.Quote{}, err
	}

	if resp.Status != "OK" && resp.Status != "DELAYED" {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "non-OK status: " + resp.Status
		}
		return provider.Quote{}, provider.NewMalformedResponse(p.id, symbol, msg, nil)
	}
	if len(resp.Results) == 0 {
		return provider.Quote{}, provider.NewBadSymbol(p.id, symbol, "no results", 0)
	}

	bar := resp.Results[0]
	q := provider.Quote{
		Symbol:    symbol,
		Price:     bar.Close,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Volume:    bar.Volume,
		Currency:  "USD",
		Source:    p.id,
		Timestamp: time.UnixMilli(bar.Time).UTC(),
	}
	if !bar.Open.IsZero() {
		q.Change = bar.Close.Sub(bar.Open)
		q.ChangePercent = q.Change.Div(bar.Open).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return q, q.Validate()
}
