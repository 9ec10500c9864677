package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	policyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_policy_evaluations_total",
			Help: "Total number of policy evaluations",
		},
		[]string{"decision", "mode"},
	)

	policyEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_policy_evaluation_duration_seconds",
			Help:    "Time spent evaluating policies",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"mode"},
	)

	policyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_policy_errors_total",
			Help: "Total number of policy evaluation errors",
		},
		[]string{"error_type", "mode"},
	)

	policyLoadTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmesh_policy_load_timestamp_seconds",
			Help: "Timestamp of last successful policy load",
		},
		[]string{"policy_path"},
	)

	policyCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmesh_policy_files_loaded",
			Help: "Number of policy files currently loaded",
		},
		[]string{"policy_path"},
	)

	policyCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_policy_cache_hits_total",
			Help: "Total number of policy decision cache hits",
		},
		[]string{"mode"},
	)

	policyCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_policy_cache_misses_total",
			Help: "Total number of policy decision cache misses",
		},
		[]string{"mode"},
	)
)

// RecordPolicyLoad records a successful policy reload.
func RecordPolicyLoad(path string, fileCount int, timestamp float64) {
	policyLoadTime.WithLabelValues(path).Set(timestamp)
	policyCount.WithLabelValues(path).Set(float64(fileCount))
}

// RecordEvaluation records one policy decision.
func RecordEvaluation(allow bool, mode string) {
	decision := "deny"
	if allow {
		decision = "allow"
	}
	policyEvaluations.WithLabelValues(decision, mode).Inc()
}

// RecordDuration records how long one evaluation took.
func RecordDuration(mode string, seconds float64) {
	policyEvaluationDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordError records a policy evaluation failure.
func RecordError(errorType, mode string) {
	policyErrors.WithLabelValues(errorType, mode).Inc()
}

// RecordCacheHit records a decision cache hit.
func RecordCacheHit(mode string) {
	policyCacheHits.WithLabelValues(mode).Inc()
}

// RecordCacheMiss records a decision cache miss.
func RecordCacheMiss(mode string) {
	policyCacheMisses.WithLabelValues(mode).Inc()
}
