// Package metrics declares the prometheus instrumentation surfaced by the
// orchestrator core: Router, Task Decomposer, Workflow Engine, and Result
// Aggregator counters/histograms/gauges, following the promauto pattern
// this codebase uses everywhere else.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_routing_decisions_total",
			Help: "Routing decisions made, labeled by method and resulting task type",
		},
		[]string{"method", "task_type"},
	)

	RoutingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrouter_routing_cache_hits_total",
			Help: "Routing decisions served from cache",
		},
	)

	RoutingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrouter_routing_cache_misses_total",
			Help: "Routing decisions not found in cache",
		},
	)

	RoutingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentrouter_routing_latency_seconds",
			Help:    "Time spent producing a routing decision, including any LLM fallback call",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Decomposition metrics
	DecompositionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_decompositions_total",
			Help: "Task decompositions performed, labeled by outcome (llm_plan/fallback_plan)",
		},
		[]string{"outcome"},
	)

	DecompositionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentrouter_decomposition_latency_seconds",
			Help:    "Time spent producing a task plan",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_workflows_started_total",
			Help: "Workflows submitted to the engine, labeled by execution mode",
		},
		[]string{"mode"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_workflows_completed_total",
			Help: "Workflows that finished, labeled by mode and whether every task completed",
		},
		[]string{"mode", "outcome"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrouter_workflow_duration_seconds",
			Help:    "Wall-clock duration of a workflow run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Task metrics
	TasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_tasks_executed_total",
			Help: "Individual task executions, labeled by task type and terminal status",
		},
		[]string{"task_type", "status"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_task_retries_total",
			Help: "Task retry attempts, labeled by task type",
		},
		[]string{"task_type"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrouter_task_duration_seconds",
			Help:    "Duration of a single task execution, labeled by task type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	// Aggregation metrics
	AggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_aggregations_total",
			Help: "Result aggregations performed, labeled by strategy",
		},
		[]string{"strategy"},
	)

	AggregateConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentrouter_aggregate_confidence",
			Help:    "Aggregate confidence score attached to the final result",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	DeduplicatedResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrouter_deduplicated_results_total",
			Help: "Source results dropped as exact or near duplicates during aggregation",
		},
	)

	// Resilience metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrouter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open), labeled by breaker name",
		},
		[]string{"name"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrouter_llm_calls_total",
			Help: "Outbound LLM client calls, labeled by caller and status",
		},
		[]string{"caller", "status"},
	)
)

// RecordWorkflowMetrics records the summary metrics for one completed
// workflow run.
func RecordWorkflowMetrics(mode, outcome string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(mode, outcome).Inc()
	WorkflowDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordTaskMetrics records the outcome of a single task execution.
func RecordTaskMetrics(taskType, status string, attempts int, durationSeconds float64) {
	TasksExecuted.WithLabelValues(taskType, status).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
	if attempts > 1 {
		TaskRetries.WithLabelValues(taskType).Add(float64(attempts - 1))
	}
}

// circuitBreakerStateValue maps a resilience.State-shaped string onto the
// numeric gauge value convention documented on CircuitBreakerState.
func circuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordCircuitBreakerState updates the gauge for a named breaker.
func RecordCircuitBreakerState(name, state string) {
	CircuitBreakerState.WithLabelValues(name).Set(circuitBreakerStateValue(state))
}
