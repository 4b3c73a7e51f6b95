package metrics

import (
	"errors"

	coremetrics "github.com/ecoware/microsim/core/metrics"
)

// MultiSink fans records out to several sinks, collecting all errors.
type MultiSink struct {
	sinks []coremetrics.Sink
}

// NewMultiSink combines the given sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// RecordStep implements metrics.Sink.
func (m *MultiSink) RecordStep(rec coremetrics.StepMetrics) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordStep(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
