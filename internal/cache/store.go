// Package cache holds the two-tier asset cache: slow-changing metadata with
// TTLs in hours and live quotes with TTLs in seconds. Reads compose both
// tiers into a HybridRecord whose status says how usable it is.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/provider"
)

// MetadataEntry describes an asset. Placeholder entries carry only the
// symbol and category.
type MetadataEntry struct {
	Symbol       string    `json:"symbol"`
	Category     Category  `json:"category"`
	Name         string    `json:"name,omitempty"`
	Sector       string    `json:"sector,omitempty"`
	Industry     string    `json:"industry,omitempty"`
	Exchange     string    `json:"exchange,omitempty"`
	Country      string    `json:"country,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Placeholder  bool      `json:"placeholder"`
	LastUpdated  time.Time `json:"last_updated"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
}

// LiveEntry is the latest quote for an asset.
type LiveEntry struct {
	Symbol        string          `json:"symbol"`
	Category      Category        `json:"category"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Source        string          `json:"source"`
	LastUpdated   time.Time       `json:"last_updated"`
	LastAccessed  time.Time       `json:"last_accessed"`
	AccessCount   int64           `json:"access_count"`
}

// LiveFromQuote converts a normalized provider quote.
func LiveFromQuote(q provider.Quote, category Category) LiveEntry {
	return LiveEntry{
		Symbol:        q.Symbol,
		Category:      category,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		High:          q.High,
		Low:           q.Low,
		Open:          q.Open,
		PreviousClose: q.PreviousClose,
		Source:        q.Source,
	}
}

type Status string

const (
	StatusFresh    Status = "fresh"
	StatusStale    Status = "stale"
	StatusFallback Status = "fallback"
)

// Freshness is the age of one tier's entry against its TTL.
type Freshness struct {
	Present bool
	Age     time.Duration
	TTL     time.Duration
}

// Valid reports an entry that exists and is not older than its TTL.
func (f Freshness) Valid() bool { return f.Present && f.Age <= f.TTL }

// ComputeStatus derives the hybrid status from the two tiers: fresh when
// both are valid, stale when only the live tier has lapsed, fallback when
// metadata is missing or expired.
func ComputeStatus(meta, live Freshness) Status {
	switch {
	case !meta.Valid():
		return StatusFallback
	case !live.Valid():
		return StatusStale
	default:
		return StatusFresh
	}
}

// HybridRecord is composed at read time and never stored.
type HybridRecord struct {
	Symbol   string         `json:"symbol"`
	Category Category       `json:"category"`
	Metadata *MetadataEntry `json:"metadata,omitempty"`
	Live     *LiveEntry     `json:"live,omitempty"`
	Status   Status         `json:"status"`
}

type TableStats struct {
	Size       int   `json:"size"`
	MaxEntries int   `json:"max_entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Expired    int64 `json:"expired"`
}

type Stats struct {
	Metadata TableStats `json:"metadata"`
	Live     TableStats `json:"live"`
}

type Config struct {
	MaxMetadataEntries int
	MaxLiveEntries     int
	SweepInterval      time.Duration
	TTLs               map[Category]TTLs
}

// Store is the two-tier cache. Safe for concurrent use.
type Store struct {
	cfg    Config
	clock  clock.Clock
	logger logrus.FieldLogger

	mu   sync.Mutex
	meta *table[MetadataEntry]
	live *table[LiveEntry]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new cache store
func New(cfg Config, c clock.Clock, logger logrus.FieldLogger) *Store {
	if c == nil {
		c = clock.Real{}
	}
	if cfg.MaxMetadataEntries <= 0 {
		cfg.MaxMetadataEntries = 10000
	}
	if cfg.MaxLiveEntries <= 0 {
		cfg.MaxLiveEntries = 10000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	ttls := DefaultTTLs()
	for cat, t := range cfg.TTLs {
		def := ttls[cat]
		if t.Metadata > 0 {
			def.Metadata = t.Metadata
		}
		if t.Live > 0 {
			def.Live = t.Live
		}
		ttls[cat] = def
	}
	cfg.TTLs = ttls

	return &Store{
		cfg:    cfg,
		clock:  c,
		logger: observ.Logger(logger).WithField("component", "cache"),
		meta:   newTable[MetadataEntry](cfg.MaxMetadataEntries),
		live:   newTable[LiveEntry](cfg.MaxLiveEntries),
	}
}

// TTLs returns the limits applied to category.
func (s *Store) TTLs(category Category) TTLs {
	if t, ok := s.cfg.TTLs[category]; ok {
		return t
	}
	return TTLs{Metadata: 24 * time.Hour, Live: time.Minute}
}

func (s *Store) SetMetadata(e MetadataEntry) {
	e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if e.LastUpdated.IsZero() {
		e.LastUpdated = now
	}
	if s.meta.set(Key(e.Category, e.Symbol), e, e.LastUpdated, now) {
		observ.CacheEvictions.WithLabelValues("metadata", "capacity").Inc()
	}
	observ.CacheEntries.WithLabelValues("metadata").Set(float64(s.meta.size()))
}

func (s *Store) SetLive(e LiveEntry) {
	e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if e.LastUpdated.IsZero() {
		e.LastUpdated = now
	}
	if s.live.set(Key(e.Category, e.Symbol), e, e.LastUpdated, now) {
		observ.CacheEvictions.WithLabelValues("live", "capacity").Inc()
	}
	observ.CacheEntries.WithLabelValues("live").Set(float64(s.live.size()))
}

// GetMetadata returns the entry if present and within TTL.
func (s *Store) GetMetadata(symbol string, category Category) (MetadataEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.meta.get(Key(category, symbol), s.clock.Now(), s.TTLs(category).Metadata)
	if !ok {
		return MetadataEntry{}, false
	}
	return metaView(it), true
}

// GetLive returns the entry if present and within TTL.
func (s *Store) GetLive(symbol string, category Category) (LiveEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.live.get(Key(category, symbol), s.clock.Now(), s.TTLs(category).Live)
	if !ok {
		return LiveEntry{}, false
	}
	return liveView(it), true
}

// Hybrid composes both tiers for symbol, including expired entries, and
// reports false when neither tier holds anything.
func (s *Store) Hybrid(symbol string, category Category) (HybridRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	key := Key(category, symbol)
	ttl := s.TTLs(category)

	rec := HybridRecord{Symbol: strings.ToUpper(strings.TrimSpace(symbol)), Category: category}
	var meta, live Freshness
	if it, ok := s.meta.touch(key, now); ok {
		m := metaView(it)
		rec.Metadata = &m
		meta = Freshness{Present: true, Age: now.Sub(it.updated), TTL: ttl.Metadata}
	}
	if it, ok := s.live.touch(key, now); ok {
		l := liveView(it)
		rec.Live = &l
		live = Freshness{Present: true, Age: now.Sub(it.updated), TTL: ttl.Live}
	}
	rec.Status = ComputeStatus(meta, live)
	return rec, rec.Metadata != nil || rec.Live != nil
}

// Sweep removes every expired entry from both tiers.
func (s *Store) Sweep() (metaRemoved, liveRemoved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	metaRemoved = s.meta.sweep(now, func(e MetadataEntry) time.Duration { return s.TTLs(e.Category).Metadata })
	liveRemoved = s.live.sweep(now, func(e LiveEntry) time.Duration { return s.TTLs(e.Category).Live })

	observ.CacheEvictions.WithLabelValues("metadata", "expired").Add(float64(metaRemoved))
	observ.CacheEvictions.WithLabelValues("live", "expired").Add(float64(liveRemoved))
	observ.CacheEntries.WithLabelValues("metadata").Set(float64(s.meta.size()))
	observ.CacheEntries.WithLabelValues("live").Set(float64(s.live.size()))
	if metaRemoved+liveRemoved > 0 {
		s.logger.WithFields(logrus.Fields{"metadata": metaRemoved, "live": liveRemoved}).Debug("swept expired entries")
	}
	return metaRemoved, liveRemoved
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Metadata: s.meta.stats(), Live: s.live.stats()}
}

// Start runs Sweep every SweepInterval until Stop or ctx ends.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.Sweep()
			}
		}
	}()
}

func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func metaView(it *item[MetadataEntry]) MetadataEntry {
	e := it.value
	e.LastUpdated = it.updated
	e.LastAccessed = it.lastAccessed
	e.AccessCount = it.accessCount
	return e
}

func liveView(it *item[LiveEntry]) LiveEntry {
	e := it.value
	e.LastUpdated = it.updated
	e.LastAccessed = it.lastAccessed
	e.AccessCount = it.accessCount
	return e
}
