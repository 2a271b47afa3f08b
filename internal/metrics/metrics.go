package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActorState tracks the lifecycle state of each actor (see actor.State for values)
	ActorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgactor_actor_state",
			Help: "Current lifecycle state of the actor",
		},
		[]string{"actor"},
	)

	// ActorRestarts tracks supervised restarts per actor
	ActorRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgactor_actor_restarts_total",
			Help: "Total number of supervised actor restarts",
		},
		[]string{"actor"},
	)

	// ResourceBuilds tracks resource handle build attempts
	ResourceBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgactor_resource_builds_total",
			Help: "Total number of resource handle build attempts",
		},
		[]string{"actor", "result"},
	)

	// ResourceBuildLatency tracks how long a handle build takes
	ResourceBuildLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgactor_resource_build_seconds",
			Help:    "Resource handle build latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"actor"},
	)

	// TasksTotal tracks dispatched tasks by outcome
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgactor_tasks_total",
			Help: "Total number of tasks by outcome",
		},
		[]string{"actor", "outcome"},
	)

	// TaskLatency tracks task execution latency
	TaskLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgactor_task_latency_seconds",
			Help:    "Task execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"actor"},
	)

	// PoolConnections tracks pool connections by state (total, idle, acquired, max)
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgactor_pool_connections",
			Help: "Pool connections by state",
		},
		[]string{"actor", "state"},
	)

	// PoolUsage tracks acquired/max connections as a percentage
	PoolUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgactor_pool_usage_percent",
			Help: "Connection pool usage percentage",
		},
		[]string{"actor"},
	)

	// LooperRuns tracks periodic trigger runs
	LooperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgactor_looper_runs_total",
			Help: "Total number of periodic trigger runs",
		},
		[]string{"looper", "result"},
	)
)
