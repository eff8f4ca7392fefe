package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-feed/internal/registry"
)

// Category is an asset class. It selects TTLs and the live capability.
type Category string

const (
	Stocks      Category = "stocks"
	ETF         Category = "etf"
	Crypto      Category = "crypto"
	Forex       Category = "forex"
	Commodities Category = "commodities"
	Indices     Category = "indices"
)

func Categories() []Category {
	return []Category{Stocks, ETF, Crypto, Forex, Commodities, Indices}
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// TTLs are the freshness limits of one category.
type TTLs struct {
	Metadata time.Duration `yaml:"metadata"`
	Live     time.Duration `yaml:"live"`
}

// DefaultTTLs returns metadata TTLs in hours and live TTLs in seconds.
// Crypto trades around the clock and has the shortest live TTL.
func DefaultTTLs() map[Category]TTLs {
	return map[Category]TTLs{
		Stocks:      {Metadata: 24 * time.Hour, Live: 60 * time.Second},
		ETF:         {Metadata: 24 * time.Hour, Live: 60 * time.Second},
		Crypto:      {Metadata: 12 * time.Hour, Live: 30 * time.Second},
		Forex:       {Metadata: 48 * time.Hour, Live: 60 * time.Second},
		Commodities: {Metadata: 48 * time.Hour, Live: 120 * time.Second},
		Indices:     {Metadata: 48 * time.Hour, Live: 60 * time.Second},
	}
}

// DefaultCapabilities maps each category to the capability that serves its
// live data.
func DefaultCapabilities() map[Category]registry.Capability {
	return map[Category]registry.Capability{
		Stocks:      registry.CapEquitiesQuotes,
		ETF:         registry.CapEquitiesQuotes,
		Indices:     registry.CapEquitiesQuotes,
		Crypto:      registry.CapCryptoQuotes,
		Forex:       registry.CapForexQuotes,
		Commodities: registry.CapForexQuotes,
	}
}

// Key is the table key for symbol in category.
func Key(category Category, symbol string) string {
	return string(category) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}
