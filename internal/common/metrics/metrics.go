package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_route_decisions_total",
			Help: "Routed turns by outcome and answer source",
		},
		[]string{"outcome", "source"},
	)

	RouteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_route_duration_seconds",
			Help:    "End-to-end latency of routing one turn",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_provider_attempts_total",
			Help: "Language-model provider attempts by result",
		},
		[]string{"provider", "result"},
	)

	FallbackExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_fallback_exhausted_total",
			Help: "Turns where every language-model provider failed",
		},
	)

	BookingCompiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_booking_compiles_total",
			Help: "Booking contract compilations by preview status",
		},
		[]string{"status"},
	)

	BookingToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_booking_toggles_total",
			Help: "Booking contract V2 toggle requests by result",
		},
		[]string{"action", "result"},
	)

	RuntimeHealthReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_runtime_health_reports_total",
			Help: "Runtime truth reports by grade",
		},
		[]string{"grade"},
	)

	ConfigLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_config_loads_total",
			Help: "Company config snapshot lookups by result",
		},
		[]string{"result"},
	)

	ConfigInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_config_invalidations_total",
			Help: "Company config invalidations by origin",
		},
		[]string{"origin"},
	)

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_messages_consumed_total",
			Help: "Broker deliveries by consumer and outcome",
		},
		[]string{"consumer", "result"},
	)
)
