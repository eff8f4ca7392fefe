// Package feed wires admission, queues, rotation, the cache and prefetch into
// the service consumers call.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-feed/internal/admission"
	"github.com/Rajchodisetti/market-feed/internal/cache"
	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/discovery"
	"github.com/Rajchodisetti/market-feed/internal/health"
	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/prefetch"
	"github.com/Rajchodisetti/market-feed/internal/provider"
	"github.com/Rajchodisetti/market-feed/internal/queue"
	"github.com/Rajchodisetti/market-feed/internal/registry"
	"github.com/Rajchodisetti/market-feed/internal/rotation"
)

var (
	// ErrCacheMiss means nothing usable is cached and a live fetch failed.
	ErrCacheMiss       = errors.New("no cached data")
	ErrUnknownProvider = errors.New("unknown provider")
)

type Config struct {
	// Capabilities overrides the category to live capability mapping.
	Capabilities    map[cache.Category]registry.Capability
	Admission       admission.Options
	Cache           cache.Config
	Prefetch        prefetch.Config
	PrefetchEnabled bool
}

// ProviderReport is the operational view of one provider.
type ProviderReport struct {
	Provider     string                `json:"provider"`
	Priority     string                `json:"priority"`
	Capabilities []registry.Capability `json:"capabilities"`
	Health       health.Snapshot       `json:"health"`
	Admission    admission.Stats       `json:"admission"`
	QueueDepth   int                   `json:"queue_depth"`
}

type CacheStats struct {
	MetadataSize    int              `json:"metadata_size"`
	LiveSize        int              `json:"live_size"`
	PrefetchLastRun time.Time        `json:"prefetch_last_run"`
	PrefetchNextRun time.Time        `json:"prefetch_next_run"`
	Metadata        cache.TableStats `json:"metadata"`
	Live            cache.TableStats `json:"live"`
	LastPrefetch    prefetch.Report  `json:"last_prefetch"`
}

// Service is the market data feed core.
type Service struct {
	registry     *registry.Registry
	clock        clock.Clock
	logger       logrus.FieldLogger
	tracker      *health.Tracker
	adapters     map[string]provider.Adapter
	controllers  map[string]*admission.Controller
	queues       map[string]*queue.Scheduler
	selectors    map[registry.Capability]*rotation.Selector
	capabilities map[cache.Category]registry.Capability
	store        *cache.Store
	discovery    prefetch.Discovery
	prefetch     *prefetch.Scheduler
	prefetchOn   bool
	maxWait      time.Duration
}

// New creates a new feed service. Every profile in reg needs an adapter.
func New(reg *registry.Registry, adapters map[string]provider.Adapter, disc prefetch.Discovery, cfg Config, c clock.Clock, logger logrus.FieldLogger) (*Service, error) {
	if c == nil {
		c = clock.Real{}
	}
	logger = observ.Logger(logger)

	s := &Service{
		registry:     reg,
		clock:        c,
		logger:       logger.WithField("component", "feed"),
		tracker:      health.NewTracker(c, logger),
		adapters:     make(map[string]provider.Adapter),
		controllers:  make(map[string]*admission.Controller),
		queues:       make(map[string]*queue.Scheduler),
		selectors:    make(map[registry.Capability]*rotation.Selector),
		capabilities: cache.DefaultCapabilities(),
		discovery:    disc,
		prefetchOn:   cfg.PrefetchEnabled,
		maxWait:      cfg.Admission.MaxWait,
	}
	if s.maxWait <= 0 {
		s.maxWait = admission.DefaultOptions().MaxWait
	}
	for cat, capability := range cfg.Capabilities {
		s.capabilities[cat] = capability
	}

	for _, p := range reg.All() {
		a, ok := adapters[p.ID]
		if !ok {
			return nil, fmt.Errorf("provider %s: no adapter configured", p.ID)
		}
		s.adapters[p.ID] = a
		ctl := admission.NewController(p, c, s.tracker, logger, cfg.Admission)
		s.controllers[p.ID] = ctl
		s.queues[p.ID] = queue.NewScheduler(ctl, c, logger)
	}
	for _, capability := range reg.Capabilities() {
		var ctls []*admission.Controller
		for _, p := range reg.ForCapability(capability) {
			ctls = append(ctls, s.controllers[p.ID])
		}
		s.selectors[capability] = rotation.NewSelector(capability, ctls, c)
	}

	s.store = cache.New(cfg.Cache, c, logger)
	if disc != nil {
		s.prefetch = prefetch.NewScheduler(cfg.Prefetch, s.store, disc, s, c, logger)
	}
	return s, nil
}

func (s *Service) Store() *cache.Store { return s.store }

func (s *Service) Prefetch() *prefetch.Scheduler { return s.prefetch }

// Start launches the queue drains, the cache sweeper and, when enabled, the
// prefetch cycle.
func (s *Service) Start(ctx context.Context) {
	for _, q := range s.queues {
		q.Start(ctx)
	}
	s.store.Start(ctx)
	if s.prefetch != nil && s.prefetchOn {
		s.prefetch.Start(ctx)
	}
	s.logger.WithField("providers", len(s.controllers)).Info("feed service started")
}

func (s *Service) Stop() {
	if s.prefetch != nil {
		s.prefetch.Stop()
	}
	for _, q := range s.queues {
		q.Stop()
	}
	s.store.Stop()
	s.logger.Info("feed service stopped")
}

// Capability returns the live capability serving category.
func (s *Service) Capability(category cache.Category) (registry.Capability, bool) {
	c, ok := s.capabilities[category]
	return c, ok
}

// GetAssetData returns the cached record for symbol. A lapsed live tier
// gets one on-demand refresh and a lapsed metadata tier is rebuilt from
// discovery; if the live refresh fails the cached record is returned as is.
// ErrCacheMiss is returned only when nothing is cached.
func (s *Service) GetAssetData(ctx context.Context, symbol string, category cache.Category) (cache.HybridRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	rec, ok := s.store.Hybrid(symbol, category)
	if ok && rec.Status == cache.StatusFresh {
		observ.CacheLookups.WithLabelValues(string(category), string(rec.Status)).Inc()
		return rec, nil
	}

	now := s.clock.Now()
	ttl := s.store.TTLs(category)
	liveValid := rec.Live != nil && cache.Freshness{Present: true, Age: now.Sub(rec.Live.LastUpdated), TTL: ttl.Live}.Valid()
	metaValid := rec.Metadata != nil && cache.Freshness{Present: true, Age: now.Sub(rec.Metadata.LastUpdated), TTL: ttl.Metadata}.Valid()

	var err error
	if !liveValid {
		_, err = s.RefreshLive(ctx, symbol, category, registry.PriorityHigh)
	}
	if err == nil {
		if !metaValid {
			s.refreshMetadata(ctx, symbol, category, rec.Metadata)
		}
		rec, _ = s.store.Hybrid(symbol, category)
		observ.CacheLookups.WithLabelValues(string(category), string(rec.Status)).Inc()
		return rec, nil
	}

	log := s.logger.WithFields(logrus.Fields{"symbol": symbol, "category": category, "error": err.Error()})
	if ok {
		log.WithField("status", rec.Status).Debug("live refresh failed, serving cached record")
		observ.CacheLookups.WithLabelValues(string(category), string(rec.Status)).Inc()
		return rec, nil
	}
	log.Debug("cache miss and live refresh failed")
	observ.CacheLookups.WithLabelValues(string(category), "miss").Inc()
	return cache.HybridRecord{}, fmt.Errorf("%w for %s/%s: %w", ErrCacheMiss, category, symbol, err)
}

// refreshMetadata rebuilds the metadata tier for symbol from discovery,
// falling back to a placeholder when discovery has no data for it. Real
// metadata is never replaced by a placeholder.
func (s *Service) refreshMetadata(ctx context.Context, symbol string, category cache.Category, current *cache.MetadataEntry) {
	cand := discovery.Candidate{Symbol: symbol}
	if s.discovery != nil {
		cands, err := s.discovery.ListCandidateSymbols(ctx, string(category))
		if err != nil {
			s.logger.WithFields(logrus.Fields{"category": category, "error": err.Error()}).Debug("discovery lookup failed")
		}
		for _, c := range cands {
			if strings.EqualFold(c.Symbol, symbol) {
				cand = c
				cand.Symbol = symbol
				break
			}
		}
	}
	if !cand.HasData() && current != nil && !current.Placeholder {
		return
	}
	s.store.SetMetadata(prefetch.MetadataFromCandidate(category, cand))
}

func (s *Service) selector(category cache.Category) (*rotation.Selector, error) {
	capability, ok := s.capabilities[category]
	if !ok {
		return nil, fmt.Errorf("category %q has no live capability", category)
	}
	sel, ok := s.selectors[capability]
	if !ok {
		return nil, provider.NewAllProvidersExhausted(string(capability), 0)
	}
	return sel, nil
}

// fetchLive calls the provider's adapter and stores the validated quote.
func (s *Service) fetchLive(ctx context.Context, providerID, symbol string, category cache.Category) (cache.LiveEntry, error) {
	q, err := s.adapters[providerID].FetchQuote(ctx, symbol, string(category))
	if err != nil {
		return cache.LiveEntry{}, err
	}
	if err := q.Validate(); err != nil {
		return cache.LiveEntry{}, err
	}
	if q.Source == "" {
		q.Source = providerID
	}
	entry := cache.LiveFromQuote(q, category)
	entry.Symbol = symbol
	entry.LastUpdated = s.clock.Now()
	s.store.SetLive(entry)
	return entry, nil
}

// RefreshLive fetches a live quote through rotation and admission and stores
// it without waiting. Providers are tried best first; one that loses the
// admission race or fails hands over to the next.
func (s *Service) RefreshLive(ctx context.Context, symbol string, category cache.Category, priority registry.Priority) (cache.LiveEntry, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	sel, err := s.selector(category)
	if err != nil {
		return cache.LiveEntry{}, err
	}
	ranked, err := sel.Ranked(priority)
	if err != nil {
		return cache.LiveEntry{}, err
	}

	var lastErr error
	for _, ctl := range ranked {
		var entry cache.LiveEntry
		ran, err := ctl.TryDispatch(ctx, func(ctx context.Context) error {
			var err error
			entry, err = s.fetchLive(ctx, ctl.ID(), symbol, category)
			return err
		})
		if !ran {
			continue
		}
		sel.MarkUsed(ctl.ID())
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", ctl.ID(), err)
			continue
		}
		return entry, nil
	}
	if lastErr != nil {
		return cache.LiveEntry{}, lastErr
	}
	return cache.LiveEntry{}, provider.NewAllProvidersExhausted(string(sel.Capability()), sel.MinWait())
}

// ScheduleLive is RefreshLive for background work: the request goes through
// the chosen provider's queue and waits there for admission, with the
// provider's retry policy. It needs Start to have been called.
func (s *Service) ScheduleLive(ctx context.Context, symbol string, category cache.Category, priority registry.Priority) (cache.LiveEntry, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	sel, err := s.selector(category)
	if err != nil {
		return cache.LiveEntry{}, err
	}
	ctl, err := s.queueTarget(sel, priority)
	if err != nil {
		return cache.LiveEntry{}, err
	}
	id := ctl.ID()
	entry, err := queue.Submit(ctx, s.queues[id], func(ctx context.Context) (cache.LiveEntry, error) {
		sel.MarkUsed(id)
		return s.fetchLive(ctx, id, symbol, category)
	}, priority)
	if err != nil {
		return cache.LiveEntry{}, fmt.Errorf("%s: %w", id, err)
	}
	return entry, nil
}

// queueTarget picks the provider whose queue will serve a new entry first:
// the best ready provider with an empty queue, otherwise the shortest queue
// and then the shortest wait. Providers blocked beyond the admission max
// wait are not queued on.
func (s *Service) queueTarget(sel *rotation.Selector, priority registry.Priority) (*admission.Controller, error) {
	if ranked, err := sel.Ranked(priority); err == nil {
		for _, ctl := range ranked {
			if s.queues[ctl.ID()].Depth() == 0 {
				return ctl, nil
			}
		}
	}

	var best *admission.Controller
	var bestDepth int
	var bestWait time.Duration
	for _, ctl := range sel.Providers() {
		depth, wait := s.queues[ctl.ID()].Depth(), ctl.TimeUntilReady()
		if wait > s.maxWait {
			continue
		}
		if best == nil || depth < bestDepth || (depth == bestDepth && wait < bestWait) {
			best, bestDepth, bestWait = ctl, depth, wait
		}
	}
	if best == nil {
		return nil, provider.NewAllProvidersExhausted(string(sel.Capability()), sel.MinWait())
	}
	return best, nil
}

// PacingDelay is the largest cooldown among the providers serving category.
func (s *Service) PacingDelay(category cache.Category) time.Duration {
	var d time.Duration
	for _, p := range s.registry.ForCapability(s.capabilities[category]) {
		if p.Cooldown > d {
			d = p.Cooldown
		}
	}
	return d
}

// ScheduleProviderRequest runs task against providerID through that
// provider's queue, honouring its quotas and retry policy.
func ScheduleProviderRequest[T any](ctx context.Context, s *Service, providerID string, task func(context.Context, provider.Adapter) (T, error), callerPriority registry.Priority) (T, error) {
	q, ok := s.queues[providerID]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	adapter := s.adapters[providerID]
	return queue.Submit(ctx, q, func(ctx context.Context) (T, error) {
		return task(ctx, adapter)
	}, callerPriority)
}

// GetProviderHealth reports every provider, sorted by id.
func (s *Service) GetProviderHealth() []ProviderReport {
	out := make([]ProviderReport, 0, len(s.controllers))
	for _, p := range s.registry.All() {
		out = append(out, ProviderReport{
			Provider:     p.ID,
			Priority:     p.Priority.String(),
			Capabilities: p.Capabilities,
			Health:       s.tracker.Snapshot(p.ID),
			Admission:    s.controllers[p.ID].Stats(),
			QueueDepth:   s.queues[p.ID].Depth(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// OverallHealth folds the provider snapshots into one status.
func (s *Service) OverallHealth() health.Status {
	reports := s.GetProviderHealth()
	snaps := make([]health.Snapshot, len(reports))
	for i, r := range reports {
		snaps[i] = r.Health
	}
	return health.Overall(snaps)
}

func (s *Service) GetCacheStats() CacheStats {
	st := s.store.Stats()
	out := CacheStats{
		MetadataSize: st.Metadata.Size,
		LiveSize:     st.Live.Size,
		Metadata:     st.Metadata,
		Live:         st.Live,
	}
	if s.prefetch != nil {
		out.PrefetchLastRun = s.prefetch.LastRun()
		out.PrefetchNextRun = s.prefetch.NextRun()
		out.LastPrefetch = s.prefetch.LastReport()
	}
	return out
}
