package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label names, mirroring the teacher's LabelIface/LabelState-style
// constants in liveness/metrics.go.
const (
	LabelComponent = "component"
	LabelDirection = "direction"
)

var (
	MetricCoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uswire_scheduler_coroutines",
			Help: "Number of coroutines tracked by the scheduler.",
		},
	)

	MetricTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uswire_scheduler_ticks_total",
			Help: "Count of advance_clock calls observed by the engine.",
		},
	)

	// MetricEventsEmitted and MetricFramesByDirection are registered here,
	// but no package in this module updates them.
	MetricEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uswire_events_emitted_total",
			Help: "Count of Event values emitted by the engine, by component.",
		},
		[]string{LabelComponent},
	)

	MetricFramesByDirection = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uswire_frames_total",
			Help: "Count of frames processed, by component and direction (rx/tx).",
		},
		[]string{LabelComponent, LabelDirection},
	)
)
