package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Planning metrics
	PlansCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_plans_created_total",
			Help: "Total number of orchestration plans created",
		},
	)

	PlansFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_plans_failed_total",
			Help: "Total number of planning failures",
		},
		[]string{"reason"},
	)

	PlanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aura_plan_duration_seconds",
			Help:    "Planning oracle round trip in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	PlanSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aura_plan_steps",
			Help:    "Number of agent assignments per plan",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		},
	)

	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_workflows_started_total",
			Help: "Total number of background workflows started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_workflows_completed_total",
			Help: "Total number of background workflows finished",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aura_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	WorkflowsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aura_workflows_in_flight",
			Help: "Number of workflows currently executing",
		},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent", "outcome"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aura_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		},
		[]string{"agent"},
	)

	AgentPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_agent_panics_total",
			Help: "Agent executions that panicked and were recovered",
		},
		[]string{"agent"},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_stream_events_published_total",
			Help: "Events handed to the stream broker",
		},
		[]string{"type"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_stream_events_failed_total",
			Help: "Events that could not be encoded or delivered",
		},
		[]string{"type"},
	)

	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_stream_events_rejected_total",
			Help: "Events dropped because their type is not a known event kind",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_stream_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	StreamObservers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aura_stream_observers",
			Help: "Currently connected live stream observers",
		},
		[]string{"transport"},
	)

	StreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_stream_frames_total",
			Help: "Frames written to live stream observers",
		},
		[]string{"transport", "kind"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_session_cache_hits_total",
			Help: "Session lookups served from the local cache",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_session_cache_misses_total",
			Help: "Session lookups that went to Redis",
		},
	)

	SessionMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_session_messages_total",
			Help: "Messages appended to session transcripts",
		},
		[]string{"role"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_llm_requests_total",
			Help: "Text generation calls by model and status",
		},
		[]string{"model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aura_llm_latency_seconds",
			Help:    "Text generation latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_notifications_total",
			Help: "Notifications emitted by channel and type",
		},
		[]string{"channel", "type"},
	)

	// HTTP metrics
	QueriesRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aura_queries_rate_limited_total",
			Help: "Orchestrator queries rejected by the rate limiter",
		},
	)
)

// RecordAgentMetrics records one agent execution.
func RecordAgentMetrics(agent string, success bool, durationMs float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	AgentExecutions.WithLabelValues(agent, outcome).Inc()
	AgentExecutionDuration.WithLabelValues(agent).Observe(durationMs)
}

// RecordWorkflowMetrics records a finished workflow.
func RecordWorkflowMetrics(status string, durationSeconds float64) {
	WorkflowsCompleted.WithLabelValues(status).Inc()
	WorkflowDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordLLMMetrics records one text generation call.
func RecordLLMMetrics(model, status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(model, status).Inc()
	LLMLatency.WithLabelValues(model).Observe(durationSeconds)
}
