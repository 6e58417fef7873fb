package window

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lateDrops = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wirestream",
	Subsystem: "window",
	Name:      "late_drops_total",
	Help:      "Values rejected because their event time is behind the window.",
}, []string{"kind"})
