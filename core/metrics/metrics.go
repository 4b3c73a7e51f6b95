// Package metrics defines the sink interface for per-step simulation
// telemetry. Implementations live in infra/metrics.
package metrics

import "time"

// StepMetrics is the per-step record emitted by the engine.
type StepMetrics struct {
	Time        time.Time
	PDelta      float64
	GridPower   float64
	BatterySoC  float64
	ActorPowers map[string]float64
}

// Sink receives step telemetry. Implementations must tolerate being called
// from a goroutine other than the step loop.
type Sink interface {
	RecordStep(m StepMetrics) error
	Close() error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordStep(StepMetrics) error { return nil }
func (NopSink) Close() error                 { return nil }
