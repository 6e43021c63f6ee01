package driver

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Steps           prometheus.Counter
	Exports         prometheus.Counter
	Failures        *prometheus.CounterVec
	StepDuration    prometheus.Histogram
	ForcingDuration prometheus.Histogram
	SimTime         prometheus.Gauge
	Phase           prometheus.Gauge
}

// NewMetrics creates the driver collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidesim",
			Name:      "steps_total",
			Help:      "Timesteps completed.",
		}),
		Exports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidesim",
			Name:      "exports_total",
			Help:      "Export boundaries reached.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidesim",
			Name:      "failures_total",
			Help:      "Run failures by component.",
		}, []string{"component"}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidesim",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one solver advance.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		ForcingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tidesim",
			Name:      "forcing_update_seconds",
			Help:      "Wall time of one forcing update.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		SimTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tidesim",
			Name:      "simulation_time_seconds",
			Help:      "Current simulation time.",
		}),
		Phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tidesim",
			Name:      "phase",
			Help:      "Driver phase: 0 uninitialized, 1 initialized, 2 running, 3 completed, 4 failed.",
		}),
	}
	reg.MustRegister(m.Steps, m.Exports, m.Failures, m.StepDuration, m.ForcingDuration, m.SimTime, m.Phase)
	return m
}
