package adapters

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/market-feed/internal/provider"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage serves GLOBAL_QUOTE for equities and
// CURRENCY_EXCHANGE_RATE for forex pairs.
type AlphaVantage struct {
	httpAdapter
}

// NewAlphaVantage creates a new Alpha Vantage adapter
func NewAlphaVantage(cfg HTTPConfig) *AlphaVantage {
	if cfg.ID == "" {
		cfg.ID = "alphavantage"
	}
	return &AlphaVantage{httpAdapter: newHTTPAdapter(cfg, alphaVantageBaseURL)}
}

func (av *AlphaVantage) FetchQuote(ctx context.Context, symbol, category string) (provider.Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return provider.Quote{}, provider.NewBadSymbol(av.id, symbol, "empty symbol", 0)
	}
	if category == "forex" {
		return av.fetchExchangeRate(ctx, symbol)
	}
	return av.fetchGlobalQuote(ctx, symbol)
}

// avEnvelope carries the fields Alpha Vantage uses for errors. Quota
// messages come back as 200 with "Note" or "Information".
type avEnvelope struct {
	ErrorMessage string `json:"Error Message"`
	Information  string `json:"Information"`
	Note         string `json:"Note"`
}

func (av *AlphaVantage) checkEnvelope(env avEnvelope, symbol string) error {
	switch {
	case env.ErrorMessage != "":
		return provider.NewBadSymbol(av.id, symbol, env.ErrorMessage, 0)
	case env.Note != "":
		return provider.NewQuotaExceeded(av.id, symbol, env.Note, 0)
	case env.Information != "":
		return provider.NewQuotaExceeded(av.id, symbol, env.Information, 0)
	}
	return nil
}

func (av *AlphaVantage) fetchGlobalQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {av.apiKey},
	}
	var resp struct {
		avEnvelope
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := av.getJSON(ctx, av.base+"/query?"+params.Encode(), symbol, nil, &resp); err != nil {
		return provider.Quote{}, err
	}
	if err := av.checkEnvelope(resp.avEnvelope, symbol); err != nil {
		return provider.Quote{}, err
	}

	gq := resp.GlobalQuote
	if len(gq) == 0 {
		return provider.Quote{}, provider.NewBadSymbol(av.id, symbol, "no quote data returned", 0)
	}

	p := fieldParser{adapter: av.id, symbol: symbol}
	q := provider.Quote{
		Symbol:        symbol,
		Price:         p.required("05. price", gq["05. price"]),
		Open:          p.optional(gq["02. open"]),
		High:          p.optional(gq["03. high"]),
		Low:           p.optional(gq["04. low"]),
		Volume:        p.optional(gq["06. volume"]),
		PreviousClose: p.optional(gq["08. previous close"]),
		Change:        p.optional(gq["09. change"]),
		ChangePercent: p.optional(strings.TrimSuffix(gq["10. change percent"], "%")),
		Currency:      "USD",
		Source:        av.id,
		Timestamp:     time.Now().UTC(),
	}
	if p.err != nil {
		return provider.Quote{}, p.err
	}
	if day, err := time.Parse("2006-01-02", gq["07. latest trading day"]); err == nil && day.Before(q.Timestamp) {
		q.Timestamp = day
	}
	return q, q.Validate()
}

func (av *AlphaVantage) fetchExchangeRate(ctx context.Context, symbol string) (provider.Quote, error) {
	from, to, ok := splitPair(symbol)
	if !ok {
		return provider.Quote{}, provider.NewBadSymbol(av.id, symbol, "not a currency pair", 0)
	}
	params := url.Values{
		"function":      {"CURRENCY_EXCHANGE_RATE"},
		"from_currency": {from},
		"to_currency":   {to},
		"apikey":        {av.apiKey},
	}
	var resp struct {
		avEnvelope
		Rate map[string]string `json:"Realtime Currency Exchange Rate"`
	}
	if err := av.getJSON(ctx, av.base+"/query?"+params.Encode(), symbol, nil, &resp); err != nil {
		return provider.Quote{}, err
	}
	if err := av.checkEnvelope(resp.avEnvelope, symbol); err != nil {
		return provider.Quote{}, err
	}
	if len(resp.Rate) == 0 {
		return provider.Quote{}, provider.NewBadSymbol(av.id, symbol, "no rate returned", 0)
	}

	p := fieldParser{adapter: av.id, symbol: symbol}
	q := provider.Quote{
		Symbol:    symbol,
		Price:     p.required("5. Exchange Rate", resp.Rate["5. Exchange Rate"]),
		Currency:  to,
		Source:    av.id,
		Timestamp: time.Now().UTC(),
	}
	if p.err != nil {
		return provider.Quote{}, p.err
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", resp.Rate["6. Last Refreshed"]); err == nil && ts.Before(q.Timestamp) {
		q.Timestamp = ts
	}
	return q, q.Validate()
}

// fieldParser collects the first parse failure across several fields.
type fieldParser struct {
	adapter string
	symbol  string
	err     error
}

func (p *fieldParser) required(name, raw string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		p.err = provider.NewMalformedResponse(p.adapter, p.symbol, "bad "+name+" "+raw, err)
	}
	return d
}

// optional parses raw, yielding zero for empty or unparseable input.
func (p *fieldParser) optional(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// normalizeSymbol upper-cases and maps common share-class spellings.
func normalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case symbol == "BRK-A":
		return "BRK.A"
	case symbol == "BRK-B":
		return "BRK.B"
	case strings.HasSuffix(symbol, ".US"):
		return strings.TrimSuffix(symbol, ".US")
	default:
		return symbol
	}
}

// splitPair accepts EURUSD, EUR/USD and EUR-USD.
func splitPair(symbol string) (string, string, bool) {
	s := strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol)
	if len(s) != 6 {
		return "", "", false
	}
	return s[:3], s[3:], true
}
