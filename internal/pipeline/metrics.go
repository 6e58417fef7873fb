package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wirestream"

var (
	stageMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_messages_total",
		Help:      "Messages handed to a stage.",
	}, []string{"task", "stage"})

	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_errors_total",
		Help:      "Errors returned by a stage.",
	}, []string{"task", "stage"})

	// Worker invocations of the parallel operators that have not returned yet.
	workersInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "workers_in_flight",
		Help:      "Running worker invocations of parallelize and race stages.",
	}, []string{"task"})

	recoveredErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "recovered_errors_total",
		Help:      "Worker errors handed to an error handler of a catch operator.",
	}, []string{"task", "stage"})

	windowEmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "window",
		Name:      "emissions_total",
		Help:      "Window emissions forwarded downstream.",
	}, []string{"task", "kind", "trigger"})

	backgroundErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "window",
		Name:      "inactivity_errors_total",
		Help:      "Errors raised while emitting a window closed by inactivity.",
	}, []string{"task", "kind"})
)
