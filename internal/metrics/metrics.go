package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TelemetryIngested counts accepted telemetry samples.
	TelemetryIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikepoint_telemetry_ingested_total",
		Help: "Telemetry samples accepted, by tenant",
	}, []string{"tenant"})

	// TelemetryRejected counts telemetry reports rejected at the door.
	TelemetryRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikepoint_telemetry_rejected_total",
		Help: "Telemetry reports rejected, by reason",
	}, []string{"reason"})

	// JobsDispatched counts scan jobs handed to an execution target.
	JobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikepoint_jobs_dispatched_total",
		Help: "Scan jobs dispatched, by tool and route",
	}, []string{"tool", "route"})

	// JobsCompleted counts scan jobs reaching a terminal state.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikepoint_jobs_completed_total",
		Help: "Scan jobs reaching a terminal state, by tool and state",
	}, []string{"tool", "state"})

	// JourneysFinished counts journeys reaching a terminal status.
	JourneysFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikepoint_journeys_finished_total",
		Help: "Journeys reaching a terminal status",
	}, []string{"type", "status"})

	// JobDuration observes wall time from dispatch to terminal state.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strikepoint_job_duration_seconds",
		Help:    "Scan job duration from dispatch to terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
	}, []string{"tool"})

	// WorkerJobsActive gauges tool processes currently running on the worker.
	WorkerJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strikepoint_worker_jobs_active",
		Help: "Tool processes currently running on this scan worker",
	})

	// CallbackRetries counts result-callback delivery retries on the worker.
	CallbackRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strikepoint_callback_retries_total",
		Help: "Result callback deliveries that needed a retry",
	})

	// CallbackFailures counts results that could not be delivered at all.
	CallbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strikepoint_callback_failures_total",
		Help: "Result callbacks abandoned after exhausting retries",
	})
)
