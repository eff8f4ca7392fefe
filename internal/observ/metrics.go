package observ

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_admission_decisions_total",
			Help: "Admission decisions per provider",
		},
		[]string{"provider", "outcome"},
	)
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_provider_requests_total",
			Help: "Provider calls dispatched, by result kind",
		},
		[]string{"provider", "outcome"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_provider_request_duration_seconds",
			Help:    "Provider call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	ProviderThrottle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_provider_throttle_seconds",
			Help: "Current adaptive throttle delay",
		},
		[]string{"provider"},
	)
	ProviderUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_provider_utilization_ratio",
			Help: "Window usage relative to its limit",
		},
		[]string{"provider", "window"},
	)
	// 2 = healthy, 1 = degraded, 0 = critical
	ProviderHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_provider_health_status",
			Help: "Provider health derived from recent request records",
		},
		[]string{"provider"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_queue_depth",
			Help: "Pending entries per provider queue",
		},
		[]string{"provider"},
	)
	QueueRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_queue_retries_total",
			Help: "Queue entries re-enqueued after a retryable failure",
		},
		[]string{"provider"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_lookups_total",
			Help: "Asset lookups by resulting cache status",
		},
		[]string{"category", "status"},
	)
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_cache_entries",
			Help: "Entries held per cache table",
		},
		[]string{"table"},
	)
	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_cache_evictions_total",
			Help: "Cache removals by reason",
		},
		[]string{"table", "reason"},
	)
	PrefetchCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_prefetch_cycles_total",
			Help: "Completed prefetch cycles",
		},
		[]string{"category"},
	)
	PrefetchSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_prefetch_symbols_total",
			Help: "Symbols processed by prefetch, by outcome",
		},
		[]string{"category", "outcome"},
	)
	PrefetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_prefetch_cycle_duration_seconds",
			Help:    "Wall time of one prefetch cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(
		AdmissionDecisions,
		ProviderRequests,
		ProviderLatency,
		ProviderThrottle,
		ProviderUtilization,
		ProviderHealth,
		QueueDepth,
		QueueRetries,
		CacheLookups,
		CacheEntries,
		CacheEvictions,
		PrefetchCycles,
		PrefetchSymbols,
		PrefetchDuration,
	)
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthStatus is the body served by HealthHandler.
type HealthStatus struct {
	Status    string         `json:"status"` // "healthy", "degraded", "critical"
	Timestamp string         `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Version   string         `json:"version"`
	Details   map[string]any `json:"details"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler serves the status computed by check. Degraded answers 206
// and critical answers 503 so load balancers can act on the code alone.
func HealthHandler(check func() (string, map[string]any)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, details := check()
		health := HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Details:   details,
		}

		code := http.StatusOK
		switch status {
		case "degraded":
			code = http.StatusPartialContent
		case "critical":
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	})
}

// JSONHandler serves the value returned by fn as JSON.
func JSONHandler(fn func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fn())
	})
}
