// Package health keeps a bounded per-provider history of request outcomes
// and derives a rolling status from its recent tail.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/observ"
)

// Status represents the health state of a data provider
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

const (
	DefaultCapacity = 1000
	DefaultWindow   = 5 * time.Minute
)

// RequestRecord is the outcome of one dispatched provider call.
type RequestRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"response_time"`
	StatusCode   int           `json:"status_code,omitempty"`
	RateLimited  bool          `json:"rate_limited"`
}

// Snapshot is the derived health of one provider.
type Snapshot struct {
	Provider         string        `json:"provider"`
	Status           Status        `json:"status"`
	SuccessRate      float64       `json:"success_rate"`
	AvgResponseTime  time.Duration `json:"avg_response_time"`
	LastCheck        time.Time     `json:"last_check"`
	SampleCount      int           `json:"sample_count"`
	RateLimitedCount int           `json:"rate_limited_count"`
}

// Thresholds decide the status from a window of records.
type Thresholds struct {
	HealthySuccessRate  float64       // 0.9
	DegradedSuccessRate float64       // 0.5
	SlowResponse        time.Duration // 5s
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HealthySuccessRate:  0.9,
		DegradedSuccessRate: 0.5,
		SlowResponse:        5 * time.Second,
	}
}

// Tracker records outcomes per provider. Safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	clock      clock.Clock
	capacity   int
	window     time.Duration
	thresholds Thresholds
	records    map[string][]RequestRecord
	snapshots  map[string]Snapshot
	logger     logrus.FieldLogger
}

// NewTracker creates a new health tracker
func NewTracker(c clock.Clock, logger logrus.FieldLogger) *Tracker {
	if c == nil {
		c = clock.Real{}
	}
	return &Tracker{
		clock:      c,
		capacity:   DefaultCapacity,
		window:     DefaultWindow,
		thresholds: DefaultThresholds(),
		records:    make(map[string][]RequestRecord),
		snapshots:  make(map[string]Snapshot),
		logger:     observ.Logger(logger).WithField("component", "health"),
	}
}

// WithThresholds replaces the status thresholds. Call before use.
func (t *Tracker) WithThresholds(th Thresholds) *Tracker {
	t.thresholds = th
	return t
}

// Record appends rec to the provider's history, dropping the oldest record
// beyond capacity, and recomputes the provider's snapshot.
func (t *Tracker) Record(providerID string, rec RequestRecord) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.clock.Now()
	}
	hist := append(t.records[providerID], rec)
	if over := len(hist) - t.capacity; over > 0 {
		hist = append(hist[:0:0], hist[over:]...)
	}
	t.records[providerID] = hist

	prev, seen := t.snapshots[providerID]
	snap := t.compute(providerID, hist, t.clock.Now())
	t.snapshots[providerID] = snap

	if seen && prev.Status != snap.Status {
		t.logger.WithFields(logrus.Fields{
			"provider":     providerID,
			"from":         prev.Status,
			"to":           snap.Status,
			"success_rate": snap.SuccessRate,
		}).Warn("provider status changed")
	}
	observ.ProviderHealth.WithLabelValues(providerID).Set(statusValue(snap.Status))
	return snap
}

// History returns a copy of the provider's records, oldest first.
func (t *Tracker) History(providerID string) []RequestRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hist := t.records[providerID]
	out := make([]RequestRecord, len(hist))
	copy(out, hist)
	return out
}

// Snapshot returns the provider's health as of now. A provider with no
// records in the window is healthy.
func (t *Tracker) Snapshot(providerID string) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.compute(providerID, t.records[providerID], t.clock.Now())
}

// Snapshots returns every known provider's health sorted by provider id.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.clock.Now()
	out := make([]Snapshot, 0, len(t.records))
	for id, hist := range t.records {
		out = append(out, t.compute(id, hist, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (t *Tracker) compute(providerID string, hist []RequestRecord, now time.Time) Snapshot {
	snap := Snapshot{Provider: providerID, Status: StatusHealthy, SuccessRate: 1, LastCheck: now}
	cutoff := now.Add(-t.window)

	// records are appended in completion order, so timestamps can interleave
	var ok int
	var total time.Duration
	for _, r := range hist {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		snap.SampleCount++
		total += r.ResponseTime
		if r.Success {
			ok++
		}
		if r.RateLimited {
			snap.RateLimitedCount++
		}
	}
	if snap.SampleCount == 0 {
		return snap
	}

	snap.SuccessRate = float64(ok) / float64(snap.SampleCount)
	snap.AvgResponseTime = total / time.Duration(snap.SampleCount)

	switch {
	case snap.SuccessRate < t.thresholds.DegradedSuccessRate:
		snap.Status = StatusCritical
	case snap.SuccessRate < t.thresholds.HealthySuccessRate:
		snap.Status = StatusDegraded
	case t.thresholds.SlowResponse > 0 && snap.AvgResponseTime > t.thresholds.SlowResponse:
		snap.Status = StatusDegraded
	}
	return snap
}

// Overall folds provider snapshots into one status: critical only when every
// provider is critical, degraded when any is not healthy.
func Overall(snaps []Snapshot) Status {
	if len(snaps) == 0 {
		return StatusHealthy
	}
	critical, degraded := 0, 0
	for _, s := range snaps {
		switch s.Status {
		case StatusCritical:
			critical++
		case StatusDegraded:
			degraded++
		}
	}
	switch {
	case critical == len(snaps):
		return StatusCritical
	case critical > 0 || degraded > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func statusValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
