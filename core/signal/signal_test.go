package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func minutePoints(values ...float64) []Point {
	pts := make([]Point, len(values))
	for i, v := range values {
		pts[i] = Point{Time: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return pts
}

func TestHistoricalSignalForwardFill(t *testing.T) {
	sig, err := NewHistoricalSignal(map[string][]Point{"de": minutePoints(100, 200, 300)})
	require.NoError(t, err)

	v, err := sig.At(base, "de")
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	// Between points the last known value holds.
	v, err = sig.At(base.Add(90*time.Second), "de")
	require.NoError(t, err)
	assert.Equal(t, 200.0, v)

	// Past the end the last value holds forever.
	v, err = sig.At(base.Add(time.Hour), "de")
	require.NoError(t, err)
	assert.Equal(t, 300.0, v)

	// Before the first point there is nothing to fill from.
	_, err = sig.At(base.Add(-time.Second), "de")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestHistoricalSignalBackwardFill(t *testing.T) {
	sig, err := NewHistoricalSignal(
		map[string][]Point{"de": minutePoints(100, 200, 300)},
		WithFill(FillBackward),
	)
	require.NoError(t, err)

	v, err := sig.At(base.Add(61*time.Second), "de")
	require.NoError(t, err)
	assert.Equal(t, 300.0, v)

	v, err = sig.At(base.Add(-time.Hour), "de")
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	_, err = sig.At(base.Add(3*time.Minute), "de")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestHistoricalSignalAtIsIdempotent(t *testing.T) {
	sig, err := NewHistoricalSignal(map[string][]Point{"de": minutePoints(1, 2, 3)})
	require.NoError(t, err)

	q := base.Add(30 * time.Second)
	first, err := sig.At(q, "de")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		v, err := sig.At(q, "de")
		require.NoError(t, err)
		assert.Equal(t, first, v)
	}
}

func TestHistoricalSignalZoneResolution(t *testing.T) {
	single, err := NewHistoricalSignal(map[string][]Point{"de": minutePoints(1)})
	require.NoError(t, err)
	v, err := single.At(base, "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	multi, err := NewHistoricalSignal(map[string][]Point{
		"de": minutePoints(1),
		"fr": minutePoints(2),
	})
	require.NoError(t, err)

	// Ambiguous zone must be rejected, not guessed.
	_, err = multi.At(base, "")
	assert.Error(t, err)
	_, err = multi.At(base, "pl")
	assert.Error(t, err)
	v, err = multi.At(base, "fr")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestHistoricalSignalRejectsBadSeries(t *testing.T) {
	_, err := NewHistoricalSignal(map[string][]Point{})
	assert.Error(t, err)

	_, err = NewHistoricalSignal(map[string][]Point{"de": {}})
	assert.Error(t, err)

	dup := []Point{{Time: base, Value: 1}, {Time: base, Value: 2}}
	_, err = NewHistoricalSignal(map[string][]Point{"de": dup})
	assert.Error(t, err)

	unordered := []Point{
		{Time: base.Add(time.Minute), Value: 1},
		{Time: base, Value: 2},
	}
	_, err = NewHistoricalSignal(map[string][]Point{"de": unordered})
	assert.Error(t, err)
}

func TestForecastWindowExcludesStart(t *testing.T) {
	sig, err := NewHistoricalSignal(map[string][]Point{"de": minutePoints(1, 2, 3, 4)})
	require.NoError(t, err)

	pts, err := sig.Forecast(base, base.Add(2*time.Minute), "de", ForecastOptions{})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 2.0, pts[0].Value)
	assert.Equal(t, 3.0, pts[1].Value)

	_, err = sig.Forecast(base, base, "de", ForecastOptions{})
	assert.Error(t, err, "empty window")
}

func TestForecastResample(t *testing.T) {
	sig, err := NewHistoricalSignal(map[string][]Point{"de": minutePoints(0, 60, 120)})
	require.NoError(t, err)

	// 30s frequency hits the gaps between the minute points.
	pts, err := sig.Forecast(base, base.Add(2*time.Minute), "de", ForecastOptions{
		Frequency: 30 * time.Second,
		Resample:  "linear",
	})
	require.NoError(t, err)
	require.Len(t, pts, 4)
	assert.InDelta(t, 30, pts[0].Value, 1e-9)
	assert.InDelta(t, 60, pts[1].Value, 1e-9)
	assert.InDelta(t, 90, pts[2].Value, 1e-9)
	assert.InDelta(t, 120, pts[3].Value, 1e-9)

	pts, err = sig.Forecast(base, base.Add(time.Minute), "de", ForecastOptions{
		Frequency: 30 * time.Second,
		Resample:  "ffill",
	})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.InDelta(t, 0, pts[0].Value, 1e-9)
	assert.InDelta(t, 60, pts[1].Value, 1e-9)

	// Missing resample method on an off-grid timestamp is an error.
	_, err = sig.Forecast(base, base.Add(time.Minute), "de", ForecastOptions{
		Frequency: 45 * time.Second,
	})
	assert.Error(t, err)
}

func TestForecastUsesDedicatedSeries(t *testing.T) {
	forecast := []Point{
		{Time: base.Add(time.Minute), Value: 999},
		{Time: base.Add(2 * time.Minute), Value: 888},
	}
	sig, err := NewHistoricalSignal(
		map[string][]Point{"de": minutePoints(1, 2, 3)},
		WithForecast(map[string][]Point{"de": forecast}),
	)
	require.NoError(t, err)

	pts, err := sig.Forecast(base, base.Add(2*time.Minute), "de", ForecastOptions{})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 999.0, pts[0].Value)
	assert.Equal(t, 888.0, pts[1].Value)

	// At still answers from the actual series.
	v, err := sig.At(base.Add(time.Minute), "de")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestMockSignal(t *testing.T) {
	m := NewMockSignal(42)
	v, err := m.At(time.Now(), "anything")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	m.Set(-7)
	v, _ = m.At(time.Time{}, "")
	assert.Equal(t, -7.0, v)
}
