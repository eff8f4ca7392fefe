// Package prefetch keeps the cache warm: on a fixed interval it walks each
// category's candidate list, writes metadata and refreshes live quotes in
// paced batches.
package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/market-feed/internal/cache"
	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/discovery"
	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

// Discovery supplies candidate symbols per category.
type Discovery interface {
	ListCandidateSymbols(ctx context.Context, category string) ([]discovery.Candidate, error)
}

// LiveRefresher fetches one live quote into the cache and knows how long to
// pause between batches for a category. ScheduleLive waits for admission
// rather than failing fast.
type LiveRefresher interface {
	ScheduleLive(ctx context.Context, symbol string, category cache.Category, priority registry.Priority) (cache.LiveEntry, error)
	PacingDelay(category cache.Category) time.Duration
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	// BatchDelay overrides the refresher's pacing delay when > 0.
	BatchDelay            map[cache.Category]time.Duration
	MaxSymbolsPerCategory int
	Categories            []cache.Category
}

// CategoryReport is the outcome of one category within a cycle.
type CategoryReport struct {
	Candidates       int    `json:"candidates"`
	ReusedCandidates bool   `json:"reused_candidates,omitempty"`
	DiscoveryError   string `json:"discovery_error,omitempty"`
	Metadata         int    `json:"metadata"`
	Placeholders     int    `json:"placeholders"`
	LiveRefreshed    int    `json:"live_refreshed"`
	LiveFailed       int    `json:"live_failed"`
	Skipped          bool   `json:"skipped,omitempty"`
}

type Report struct {
	CycleID    string                            `json:"cycle_id"`
	StartedAt  time.Time                         `json:"started_at"`
	Duration   time.Duration                     `json:"duration"`
	Categories map[cache.Category]CategoryReport `json:"categories"`
}

// Scheduler runs prefetch cycles.
type Scheduler struct {
	cfg       Config
	store     *cache.Store
	discovery Discovery
	live      LiveRefresher
	clock     clock.Clock
	logger    logrus.FieldLogger

	mu       sync.Mutex
	lastRun  time.Time
	nextRun  time.Time
	lastGood map[cache.Category][]discovery.Candidate
	report   Report
	cycle    sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new prefetch scheduler
func NewScheduler(cfg Config, store *cache.Store, disc Discovery, live LiveRefresher, c clock.Clock, logger logrus.FieldLogger) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxSymbolsPerCategory <= 0 {
		cfg.MaxSymbolsPerCategory = 50
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = cache.Categories()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		discovery: disc,
		live:      live,
		clock:     c,
		logger:    observ.Logger(logger).WithField("component", "prefetch"),
		lastGood:  make(map[cache.Category][]discovery.Candidate),
	}
}

func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Start runs one cycle right away and then one per Interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ticker := s.clock.NewTicker(s.cfg.Interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		s.RunCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.RunCycle(ctx)
			}
		}
	}()
	s.logger.WithFields(logrus.Fields{
		"interval":   s.cfg.Interval.String(),
		"categories": len(s.cfg.Categories),
	}).Info("prefetch scheduler started")
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunCycle refreshes every configured category once. Failures are counted
// in the report; the cycle always visits every category.
func (s *Scheduler) RunCycle(ctx context.Context) Report {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	start := s.clock.Now()
	report := Report{
		CycleID:    uuid.NewString(),
		StartedAt:  start,
		Categories: make(map[cache.Category]CategoryReport, len(s.cfg.Categories)),
	}
	ctx, span := observ.Tracer().Start(ctx, "prefetch.cycle")
	span.SetAttributes(attribute.String("cycle_id", report.CycleID))
	log := s.logger.WithField("cycle", report.CycleID)

	for _, cat := range s.cfg.Categories {
		if ctx.Err() != nil {
			break
		}
		catStart := s.clock.Now()
		cr := s.runCategory(ctx, cat, log.WithField("category", cat))
		report.Categories[cat] = cr

		observ.PrefetchCycles.WithLabelValues(string(cat)).Inc()
		observ.PrefetchDuration.WithLabelValues(string(cat)).Observe(s.clock.Now().Sub(catStart).Seconds())
		observ.PrefetchSymbols.WithLabelValues(string(cat), "live_ok").Add(float64(cr.LiveRefreshed))
		observ.PrefetchSymbols.WithLabelValues(string(cat), "live_failed").Add(float64(cr.LiveFailed))
		observ.PrefetchSymbols.WithLabelValues(string(cat), "placeholder").Add(float64(cr.Placeholders))
	}
	report.Duration = s.clock.Now().Sub(start)
	observ.EndSpan(span, nil)

	s.mu.Lock()
	s.lastRun = start
	s.nextRun = start.Add(s.cfg.Interval)
	s.report = report
	s.mu.Unlock()

	log.WithField("duration", report.Duration.String()).Info("prefetch cycle complete")
	return report
}

func (s *Scheduler) runCategory(ctx context.Context, cat cache.Category, log logrus.FieldLogger) CategoryReport {
	var cr CategoryReport

	cands, err := s.discovery.ListCandidateSymbols(ctx, string(cat))
	if err != nil {
		cr.DiscoveryError = err.Error()
		s.mu.Lock()
		cands = s.lastGood[cat]
		s.mu.Unlock()
		if len(cands) == 0 {
			log.WithError(err).Warn("discovery failed, skipping category")
			cr.Skipped = true
			return cr
		}
		cr.ReusedCandidates = true
		log.WithError(err).Warn("discovery failed, reusing last candidate list")
	} else {
		s.mu.Lock()
		s.lastGood[cat] = cands
		s.mu.Unlock()
	}

	if len(cands) > s.cfg.MaxSymbolsPerCategory {
		cands = cands[:s.cfg.MaxSymbolsPerCategory]
	}
	cr.Candidates = len(cands)

	for _, c := range cands {
		if s.writeMetadata(cat, c) {
			cr.Placeholders++
		} else {
			cr.Metadata++
		}
	}

	delay := s.cfg.BatchDelay[cat]
	if delay <= 0 && s.live != nil {
		delay = s.live.PacingDelay(cat)
	}

	var refreshed, failed int64
	for i := 0; i < len(cands) && s.live != nil; i += s.cfg.BatchSize {
		if i > 0 {
			if err := clock.Sleep(ctx, s.clock, delay); err != nil {
				break
			}
		}
		end := i + s.cfg.BatchSize
		if end > len(cands) {
			end = len(cands)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.BatchSize)
		for _, c := range cands[i:end] {
			sym := c.Symbol
			g.Go(func() error {
				if _, err := s.live.ScheduleLive(gctx, sym, cat, registry.PriorityLow); err != nil {
					atomic.AddInt64(&failed, 1)
					log.WithFields(logrus.Fields{"symbol": sym, "error": err.Error()}).Debug("live refresh failed, metadata only")
					return nil
				}
				atomic.AddInt64(&refreshed, 1)
				return nil
			})
		}
		_ = g.Wait()
	}
	cr.LiveRefreshed = int(refreshed)
	cr.LiveFailed = int(failed)
	return cr
}

// writeMetadata stores c's descriptive data, or a placeholder when it has
// none and the cache holds nothing usable. It reports whether the entry is a
// placeholder.
func (s *Scheduler) writeMetadata(cat cache.Category, c discovery.Candidate) bool {
	if !c.HasData() {
		if existing, ok := s.store.GetMetadata(c.Symbol, cat); ok && !existing.Placeholder {
			return false
		}
	}
	e := MetadataFromCandidate(cat, c)
	s.store.SetMetadata(e)
	return e.Placeholder
}

// MetadataFromCandidate converts a discovery candidate into a metadata
// entry, marking it as a placeholder when the candidate carries no data.
func MetadataFromCandidate(cat cache.Category, c discovery.Candidate) cache.MetadataEntry {
	return cache.MetadataEntry{
		Symbol:      c.Symbol,
		Category:    cat,
		Name:        c.Name,
		Sector:      c.Sector,
		Industry:    c.Industry,
		Exchange:    c.Exchange,
		Country:     c.Country,
		Currency:    c.Currency,
		Placeholder: !c.HasData(),
	}
}
