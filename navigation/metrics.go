package navigation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the controller's operational counters. Passing a nil
// registerer creates the collectors without registering them, which keeps
// tests isolated.
type Metrics struct {
	Ticks              prometheus.Counter
	Replans            prometheus.Counter
	EmergencyStops     prometheus.Counter
	PlanFailures       prometheus.Counter
	EffectiveParticles prometheus.Gauge
}

// NewMetrics builds and registers the controller metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "nav_ticks_total",
			Help: "Control ticks processed.",
		}),
		Replans: factory.NewCounter(prometheus.CounterOpts{
			Name: "nav_replans_total",
			Help: "Replans triggered by map changes.",
		}),
		EmergencyStops: factory.NewCounter(prometheus.CounterOpts{
			Name: "nav_emergency_stops_total",
			Help: "Velocity commands suppressed by the emergency stop.",
		}),
		PlanFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "nav_plan_failures_total",
			Help: "Plans that found no path to the goal.",
		}),
		EffectiveParticles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nav_effective_particles",
			Help: "Effective particle count of the localizer.",
		}),
	}
}
