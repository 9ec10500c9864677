package personas

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the persona store's own registry-local Prometheus metrics.
// Cross-package metrics that other components care about (match counts,
// per-persona EMA score) live in the central taskmesh_persona_* series in
// internal/metrics and are updated directly by Store and the optimizer.
type Metrics struct {
	MatchLatency *prometheus.HistogramVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheSize    prometheus.Gauge
}

// NewMetrics creates a new metrics instance bound to its own registry, so
// a Store can be constructed more than once in tests without colliding on
// global metric registration.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		MatchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "taskmesh",
				Subsystem: "personas",
				Name:      "match_duration_seconds",
				Help:      "Duration of persona DNA matching in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"result"}, // result: matched/below_threshold
		),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Subsystem: "personas",
			Name:      "cache_hits_total",
			Help:      "Total number of persona match cache hits",
		}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmesh",
			Subsystem: "personas",
			Name:      "cache_misses_total",
			Help:      "Total number of persona match cache misses",
		}),

		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskmesh",
			Subsystem: "personas",
			Name:      "cache_entries",
			Help:      "Number of entries in the persona match cache",
		}),
	}
}

// RecordMatch records a match attempt's latency and outcome.
func (m *Metrics) RecordMatch(result string, latency time.Duration) {
	m.MatchLatency.WithLabelValues(result).Observe(latency.Seconds())
}

// GetCacheHitRateFromCounters calculates hit rate from raw counter values.
func GetCacheHitRateFromCounters(hits, misses float64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total * 100
}
