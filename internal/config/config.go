package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/market-feed/internal/adapters"
	"github.com/Rajchodisetti/market-feed/internal/admission"
	"github.com/Rajchodisetti/market-feed/internal/cache"
	"github.com/Rajchodisetti/market-feed/internal/discovery"
	"github.com/Rajchodisetti/market-feed/internal/feed"
	"github.com/Rajchodisetti/market-feed/internal/prefetch"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

type Service struct {
	ListenAddr   string `yaml:"listen_addr"`
	LogFormat    string `yaml:"log_format"` // json | text
	LogLevel     string `yaml:"log_level"`
	OTelEndpoint string `yaml:"otel_endpoint"` // empty disables tracing
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
}

type Admission struct {
	MaxWaitMs        int     `yaml:"max_wait_ms"`
	ApproachingRatio float64 `yaml:"approaching_ratio"`
	SlowdownFactor   float64 `yaml:"slowdown_factor"`
}

type Provider struct {
	ID             string   `yaml:"id"`
	Kind           string   `yaml:"kind"` // mock | sim | alphavantage | polygon | coingecko
	BaseURL        string   `yaml:"base_url"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	APIKeyOptional bool     `yaml:"api_key_optional"`
	Priority       string   `yaml:"priority"` // high | medium | low
	Capabilities   []string `yaml:"capabilities"`

	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	BurstLimit        int `yaml:"burst_limit"`
	CooldownMs        int `yaml:"cooldown_ms"`
	RetryAttempts     int `yaml:"retry_attempts"`
	RetryDelayMs      int `yaml:"retry_delay_ms"`
	TimeoutMs         int `yaml:"timeout_ms"`
	TransportRetries  int `yaml:"transport_retries"`
}

type TTL struct {
	MetadataSeconds int `yaml:"metadata_seconds"`
	LiveSeconds     int `yaml:"live_seconds"`
}

type Cache struct {
	MaxMetadataEntries int               `yaml:"max_metadata_entries"`
	MaxLiveEntries     int               `yaml:"max_live_entries"`
	SweepIntervalSecs  int               `yaml:"sweep_interval_seconds"`
	TTLs               map[string]TTL    `yaml:"ttls"`
	Capabilities       map[string]string `yaml:"capabilities"` // category -> capability
}

type Prefetch struct {
	Enabled               bool           `yaml:"enabled"`
	IntervalSecs          int            `yaml:"interval_seconds"`
	BatchSize             int            `yaml:"batch_size"`
	BatchDelayMs          map[string]int `yaml:"batch_delay_ms"`
	MaxSymbolsPerCategory int            `yaml:"max_symbols_per_category"`
	Categories            []string       `yaml:"categories"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Discovery struct {
	Source string                           `yaml:"source"` // static | redis
	Redis  Redis                            `yaml:"redis"`
	Static map[string][]discovery.Candidate `yaml:"static"`
}

type Root struct {
	Service   Service    `yaml:"service"`
	Admission Admission  `yaml:"admission"`
	Providers []Provider `yaml:"providers"`
	Cache     Cache      `yaml:"cache"`
	Prefetch  Prefetch   `yaml:"prefetch"`
	Discovery Discovery  `yaml:"discovery"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	return Parse(b)
}

// Parse decodes a YAML document, fills defaults and validates the result.
func Parse(b []byte) (Root, error) {
	var c Root
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.Service.ListenAddr == "" {
		c.Service.ListenAddr = ":8090"
	}
	if c.Service.LogFormat == "" {
		c.Service.LogFormat = "json"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}
	if c.Service.Name == "" {
		c.Service.Name = "market-feed"
	}
	if c.Service.Version == "" {
		c.Service.Version = "dev"
	}

	def := admission.DefaultOptions()
	if c.Admission.MaxWaitMs == 0 {
		c.Admission.MaxWaitMs = int(def.MaxWait / time.Millisecond)
	}
	if c.Admission.ApproachingRatio == 0 {
		c.Admission.ApproachingRatio = def.ApproachingRatio
	}
	if c.Admission.SlowdownFactor == 0 {
		c.Admission.SlowdownFactor = def.SlowdownFactor
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Kind == "" {
			p.Kind = p.ID
		}
		if p.Priority == "" {
			p.Priority = "medium"
		}
		if p.RetryAttempts == 0 {
			p.RetryAttempts = 3
		}
		if p.RetryDelayMs == 0 {
			p.RetryDelayMs = 1000
		}
		if p.TimeoutMs == 0 {
			p.TimeoutMs = 10000
		}
	}

	if c.Cache.MaxMetadataEntries == 0 {
		c.Cache.MaxMetadataEntries = 10000
	}
	if c.Cache.MaxLiveEntries == 0 {
		c.Cache.MaxLiveEntries = 10000
	}
	if c.Cache.SweepIntervalSecs == 0 {
		c.Cache.SweepIntervalSecs = 300
	}

	if c.Prefetch.IntervalSecs == 0 {
		c.Prefetch.IntervalSecs = 900
	}
	if c.Prefetch.BatchSize == 0 {
		c.Prefetch.BatchSize = 5
	}
	if c.Prefetch.MaxSymbolsPerCategory == 0 {
		c.Prefetch.MaxSymbolsPerCategory = 50
	}

	if c.Discovery.Source == "" {
		c.Discovery.Source = "static"
	}
	if c.Discovery.Redis.Addr == "" {
		c.Discovery.Redis.Addr = "localhost:6379"
	}
}

// Validate reports every problem found, joined.
func (c Root) Validate() error {
	var errs []error
	if c.Admission.ApproachingRatio <= 0 || c.Admission.ApproachingRatio > 1 {
		errs = append(errs, fmt.Errorf("admission.approaching_ratio must be in (0,1], got %v", c.Admission.ApproachingRatio))
	}
	if c.Admission.SlowdownFactor < 1 {
		errs = append(errs, fmt.Errorf("admission.slowdown_factor must be >= 1, got %v", c.Admission.SlowdownFactor))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	if _, err := c.Profiles(); err != nil {
		errs = append(errs, err)
	}

	for name := range c.Cache.TTLs {
		if _, err := cache.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("cache.ttls: %w", err))
		}
	}
	for name, capName := range c.Cache.Capabilities {
		if _, err := cache.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("cache.capabilities: %w", err))
		}
		if capName == "" {
			errs = append(errs, fmt.Errorf("cache.capabilities.%s is empty", name))
		}
	}
	for name := range c.Prefetch.BatchDelayMs {
		if _, err := cache.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("prefetch.batch_delay_ms: %w", err))
		}
	}
	for _, name := range c.Prefetch.Categories {
		if _, err := cache.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("prefetch.categories: %w", err))
		}
	}

	for name := range c.Discovery.Static {
		if _, err := cache.ParseCategory(name); err != nil {
			errs = append(errs, fmt.Errorf("discovery.static: %w", err))
		}
	}

	switch c.Discovery.Source {
	case "static", "redis":
	default:
		errs = append(errs, fmt.Errorf("discovery.source must be static or redis, got %q", c.Discovery.Source))
	}
	return errors.Join(errs...)
}

// Profiles converts the provider section into registry profiles.
func (c Root) Profiles() ([]registry.ProviderProfile, error) {
	out := make([]registry.ProviderProfile, 0, len(c.Providers))
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.ID] {
			return nil, fmt.Errorf("provider %s defined twice", p.ID)
		}
		seen[p.ID] = true

		prio, err := registry.ParsePriority(p.Priority)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}
		caps := make([]registry.Capability, 0, len(p.Capabilities))
		for _, name := range p.Capabilities {
			caps = append(caps, registry.Capability(strings.TrimSpace(name)))
		}
		prof := registry.ProviderProfile{
			ID:                p.ID,
			RequestsPerMinute: p.RequestsPerMinute,
			RequestsPerHour:   p.RequestsPerHour,
			RequestsPerDay:    p.RequestsPerDay,
			BurstLimit:        p.BurstLimit,
			Cooldown:          ms(p.CooldownMs),
			RetryAttempts:     p.RetryAttempts,
			RetryDelay:        ms(p.RetryDelayMs),
			Timeout:           ms(p.TimeoutMs),
			Priority:          prio,
			Capabilities:      caps,
		}
		if err := prof.Validate(); err != nil {
			return nil, err
		}
		out = append(out, prof)
	}
	return out, nil
}

// AdapterOptions returns the adapter factory input for each provider.
func (c Root) AdapterOptions() []adapters.Options {
	out := make([]adapters.Options, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, adapters.Options{
			ID:             p.ID,
			Kind:           p.Kind,
			BaseURL:        p.BaseURL,
			APIKeyEnv:      p.APIKeyEnv,
			APIKeyOptional: p.APIKeyOptional,
			Timeout:        ms(p.TimeoutMs),
			RetryMax:       p.TransportRetries,
		})
	}
	return out
}

// FeedConfig converts the admission, cache and prefetch sections. Category
// names must already have passed Validate.
func (c Root) FeedConfig() feed.Config {
	ttls := make(map[cache.Category]cache.TTLs, len(c.Cache.TTLs))
	for name, t := range c.Cache.TTLs {
		ttls[category(name)] = cache.TTLs{
			Metadata: time.Duration(t.MetadataSeconds) * time.Second,
			Live:     time.Duration(t.LiveSeconds) * time.Second,
		}
	}
	var caps map[cache.Category]registry.Capability
	if len(c.Cache.Capabilities) > 0 {
		caps = make(map[cache.Category]registry.Capability, len(c.Cache.Capabilities))
		for name, capName := range c.Cache.Capabilities {
			caps[category(name)] = registry.Capability(capName)
		}
	}
	delays := make(map[cache.Category]time.Duration, len(c.Prefetch.BatchDelayMs))
	for name, d := range c.Prefetch.BatchDelayMs {
		delays[category(name)] = ms(d)
	}
	cats := make([]cache.Category, 0, len(c.Prefetch.Categories))
	for _, name := range c.Prefetch.Categories {
		cats = append(cats, category(name))
	}

	return feed.Config{
		Capabilities: caps,
		Admission: admission.Options{
			MaxWait:          ms(c.Admission.MaxWaitMs),
			ApproachingRatio: c.Admission.ApproachingRatio,
			SlowdownFactor:   c.Admission.SlowdownFactor,
		},
		Cache: cache.Config{
			MaxMetadataEntries: c.Cache.MaxMetadataEntries,
			MaxLiveEntries:     c.Cache.MaxLiveEntries,
			SweepInterval:      time.Duration(c.Cache.SweepIntervalSecs) * time.Second,
			TTLs:               ttls,
		},
		Prefetch: prefetch.Config{
			Interval:              time.Duration(c.Prefetch.IntervalSecs) * time.Second,
			BatchSize:             c.Prefetch.BatchSize,
			BatchDelay:            delays,
			MaxSymbolsPerCategory: c.Prefetch.MaxSymbolsPerCategory,
			Categories:            cats,
		},
		PrefetchEnabled: c.Prefetch.Enabled,
	}
}

// StaticCandidates returns the static discovery lists keyed by category.
func (c Root) StaticCandidates() map[string][]discovery.Candidate {
	out := make(map[string][]discovery.Candidate, len(c.Discovery.Static))
	for name, list := range c.Discovery.Static {
		out[string(category(name))] = list
	}
	return out
}

func category(name string) cache.Category {
	cat, err := cache.ParseCategory(name)
	if err != nil {
		return cache.Category(name)
	}
	return cat
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
