package adapters

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/provider"
)

// Kinds accepted by Build.
const (
	KindMock         = "mock"
	KindSim          = "sim"
	KindAlphaVantage = "alphavantage"
	KindPolygon      = "polygon"
	KindCoinGecko    = "coingecko"
)

// Options describes one adapter instance.
type Options struct {
	ID        string
	Kind      string
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
	RetryMax  int
	// APIKeyOptional marks providers that serve unauthenticated requests.
	APIKeyOptional bool
	Seed           int64
}

// Factory creates adapters from configuration
type Factory struct {
	getenv func(string) string
}

// NewFactory creates a factory that reads API keys from the process
// environment.
func NewFactory() *Factory {
	return &Factory{getenv: os.Getenv}
}

// WithEnv replaces the environment lookup.
func (f *Factory) WithEnv(getenv func(string) string) *Factory {
	f.getenv = getenv
	return f
}

// Build creates the adapter described by opts. An HTTP provider whose API
// key is missing falls back to the sim adapter under the same ID.
func (f *Factory) Build(opts Options) (provider.Adapter, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("adapter id required")
	}
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))

	switch kind {
	case KindMock:
		observ.Log("adapter_created", map[string]any{"provider": opts.ID, "type": kind})
		return NewMock(opts.ID), nil
	case KindSim:
		observ.Log("adapter_created", map[string]any{"provider": opts.ID, "type": kind})
		return NewSim(opts.ID, opts.Seed), nil
	case KindAlphaVantage, KindPolygon, KindCoinGecko:
	default:
		return nil, fmt.Errorf("unknown adapter kind %q for provider %s", opts.Kind, opts.ID)
	}

	apiKey := ""
	if opts.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(f.getenv(opts.APIKeyEnv))
	}
	if apiKey == "" && !opts.APIKeyOptional {
		observ.Log("adapter_fallback", map[string]any{
			"provider":    opts.ID,
			"requested":   kind,
			"fallback_to": KindSim,
			"reason":      "missing API key",
			"api_key_env": opts.APIKeyEnv,
		})
		return NewSim(opts.ID, opts.Seed), nil
	}

	cfg := HTTPConfig{
		ID:       opts.ID,
		BaseURL:  opts.BaseURL,
		APIKey:   apiKey,
		Timeout:  opts.Timeout,
		RetryMax: opts.RetryMax,
	}
	var a provider.Adapter
	switch kind {
	case KindAlphaVantage:
		a = NewAlphaVantage(cfg)
	case KindPolygon:
		a = NewPolygon(cfg)
	case KindCoinGecko:
		a = NewCoinGecko(cfg)
	}
	observ.Log("adapter_created", map[string]any{
		"provider": opts.ID,
		"type":     kind,
		"base_url": cfg.BaseURL,
		"api_key":  maskAPIKey(apiKey),
	})
	return a, nil
}
