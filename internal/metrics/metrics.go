package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"status"}, // status: completed/partial/failed/cancelled
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"complexity"},
	)

	// Subtask metrics
	SubtasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_subtasks_dispatched_total",
			Help: "Total number of subtasks dispatched to agents",
		},
		[]string{"domain"},
	)

	SubtaskStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_subtask_state_transitions_total",
			Help: "Total number of subtask state transitions",
		},
		[]string{"from", "to"},
	)

	SubtaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_subtask_duration_seconds",
			Help:    "Subtask execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain", "status"},
	)

	// Agent / inference metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"persona_id", "status"},
	)

	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_inference_requests_total",
			Help: "Total number of inference requests issued to the local model backend",
		},
		[]string{"model", "status"},
	)

	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_inference_latency_seconds",
			Help:    "Inference request latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	InferenceTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskmesh_inference_tokens",
			Help:    "Number of tokens used per inference call",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	// Persona store metrics
	PersonaMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_persona_matches_total",
			Help: "Total number of persona selection attempts",
		},
		[]string{"method", "result"}, // method: dna/recommend, result: hit/miss/created
	)

	PersonaScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmesh_persona_score",
			Help: "Current exponential-moving-average success score for a persona",
		},
		[]string{"persona_id"},
	)

	// Conversation / short-term memory metrics
	ConversationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_conversation_cache_hits_total",
			Help: "Total number of conversation cache hits",
		},
	)

	ConversationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_conversation_cache_misses_total",
			Help: "Total number of conversation cache misses",
		},
	)

	ConversationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskmesh_conversation_cache_size",
			Help: "Current number of conversations in local cache",
		},
	)

	ConversationCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_conversation_cache_evictions_total",
			Help: "Total number of conversations evicted from cache",
		},
	)

	// Long-term memory metrics
	WorkflowRecordsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_workflow_records_stored_total",
			Help: "Total number of workflow records appended to long-term memory",
		},
	)

	WorkflowRecordsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_workflow_records_archived_total",
			Help: "Total number of workflow archive rotations to a dated file",
		},
		[]string{"reason"}, // reason: monthly/capacity
	)

	WorkflowSearchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskmesh_workflow_search_latency_seconds",
			Help:    "Long-term memory search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Message bus metrics
	BusEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_bus_events_published_total",
			Help: "Total number of events published on the message bus",
		},
		[]string{"event_type"},
	)

	BusSubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_bus_subscriber_drops_total",
			Help: "Total number of events dropped because a subscriber's channel was full",
		},
		[]string{"event_type"},
	)

	// Decomposition metrics
	DecompositionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskmesh_decomposition_latency_seconds",
			Help:    "Task decomposition latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecompositionFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_decomposition_fallbacks_total",
			Help: "Total number of decompositions that fell back to a domain template",
		},
		[]string{"reason"}, // reason: timeout/error/invalid_response
	)

	// Decomposition template registry metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_templates_loaded_total",
			Help: "Total number of decomposition templates loaded",
		},
		[]string{"name"},
	)

	TemplateValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_template_validation_errors_total",
			Help: "Total number of decomposition template validation errors",
		},
		[]string{"code"},
	)

	// Outcome evaluation metrics
	OutcomeScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_outcome_score",
			Help:    "Overall outcome score per evaluated subtask",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"domain"},
	)
)

// RecordTaskMetrics records metrics for a completed top-level task
func RecordTaskMetrics(complexity, status string, durationSeconds float64) {
	TasksCompleted.WithLabelValues(status).Inc()
	TaskDuration.WithLabelValues(complexity).Observe(durationSeconds)
}

// RecordSubtaskTransition records a subtask state-machine transition
func RecordSubtaskTransition(from, to string) {
	SubtaskStateTransitions.WithLabelValues(from, to).Inc()
}

// RecordSubtaskCompletion records metrics for a terminal subtask
func RecordSubtaskCompletion(domain, status string, durationSeconds float64) {
	SubtaskDuration.WithLabelValues(domain, status).Observe(durationSeconds)
}

// RecordAgentExecution records metrics for an agent execution
func RecordAgentExecution(personaID, status string) {
	AgentExecutions.WithLabelValues(personaID, status).Inc()
}

// RecordInferenceMetrics records metrics for an inference call
func RecordInferenceMetrics(model, status string, durationSeconds float64, tokens int) {
	InferenceRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		InferenceLatency.WithLabelValues(model).Observe(durationSeconds)
	}
	if tokens > 0 {
		InferenceTokens.Observe(float64(tokens))
	}
}

// RecordDecompositionMetrics records decomposition latency and, if it
// fell back to a template, the reason.
func RecordDecompositionMetrics(durationSeconds float64, fallbackReason string) {
	if durationSeconds > 0 {
		DecompositionLatency.Observe(durationSeconds)
	}
	if fallbackReason != "" {
		DecompositionFallbacks.WithLabelValues(fallbackReason).Inc()
	}
}

// RecordOutcomeScore records an evaluated subtask's overall score
func RecordOutcomeScore(domain string, score float64) {
	OutcomeScore.WithLabelValues(domain).Observe(score)
}
