package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/ecoware/microsim/core/metrics"
)

func TestPromSinkRecordsStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	m := coremetrics.StepMetrics{
		Time:        time.Now(),
		PDelta:      -5,
		GridPower:   2.5,
		BatterySoC:  0.8,
		ActorPowers: map[string]float64{"solar": 20, "dc": -25},
	}
	require.NoError(t, sink.RecordStep(m))
	require.NoError(t, sink.RecordStep(m))

	assert.InDelta(t, 2, testutil.ToFloat64(sink.steps), 1e-9)
	assert.InDelta(t, -5, testutil.ToFloat64(sink.pDelta), 1e-9)
	assert.InDelta(t, 2.5, testutil.ToFloat64(sink.gridPower), 1e-9)
	assert.InDelta(t, 0.8, testutil.ToFloat64(sink.batterySoC), 1e-9)
	assert.InDelta(t, 20, testutil.ToFloat64(sink.actorPower.WithLabelValues("solar")), 1e-9)

	assert.NoError(t, sink.Close())
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	// Registering the same metrics again must not fail.
	_, err = NewPromSinkWithRegistry(reg)
	assert.NoError(t, err)
}

func TestMultiSinkFansOut(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	multi := NewMultiSink(prom, coremetrics.NopSink{})
	require.NoError(t, multi.RecordStep(coremetrics.StepMetrics{PDelta: 1}))
	assert.InDelta(t, 1, testutil.ToFloat64(prom.steps), 1e-9)
	assert.NoError(t, multi.Close())
}
