package metrics

import (
	coremetrics "github.com/ecoware/microsim/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exposes the simulation state as Prometheus metrics.
type PromSink struct {
	steps      prometheus.Counter
	pDelta     prometheus.Gauge
	gridPower  prometheus.Gauge
	batterySoC prometheus.Gauge
	actorPower *prometheus.GaugeVec
}

// NewPromSink registers the simulation metrics on the default Prometheus
// registerer. The metrics server is started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer. A nil
// registerer defaults to the global one.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_steps_total",
			Help: "Number of executed simulation steps",
		}),
		pDelta: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_p_delta_watts",
			Help: "Aggregate actor power delta of the last step",
		}),
		gridPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_grid_power_watts",
			Help: "Grid power of the last step (positive feeds the grid)",
		}),
		batterySoC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "microgrid_battery_soc",
			Help: "Battery state of charge after the last step",
		}),
		actorPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "microgrid_actor_power_watts",
			Help: "Per-actor power of the last step",
		}, []string{"actor"}),
	}
	for _, c := range []prometheus.Collector{s.steps, s.pDelta, s.gridPower, s.batterySoC, s.actorPower} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return s, nil
}

// RecordStep implements metrics.Sink.
func (s *PromSink) RecordStep(m coremetrics.StepMetrics) error {
	s.steps.Inc()
	s.pDelta.Set(m.PDelta)
	s.gridPower.Set(m.GridPower)
	s.batterySoC.Set(m.BatterySoC)
	for name, p := range m.ActorPowers {
		s.actorPower.WithLabelValues(name).Set(p)
	}
	return nil
}

// Close implements metrics.Sink.
func (s *PromSink) Close() error { return nil }
