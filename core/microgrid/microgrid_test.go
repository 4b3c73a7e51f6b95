package microgrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoware/microsim/core/actor"
	"github.com/ecoware/microsim/core/signal"
	"github.com/ecoware/microsim/core/storage"
)

func testActors(t *testing.T) []actor.Actor {
	t.Helper()
	solar, err := actor.NewGenerator("solar", signal.NewMockSignal(20), "")
	require.NoError(t, err)
	wind, err := actor.NewGenerator("wind", signal.NewMockSignal(0), "")
	require.NoError(t, err)
	m1, err := actor.NewMockPowerMeter("node-a", 15)
	require.NoError(t, err)
	m2, err := actor.NewMockPowerMeter("node-b", 10)
	require.NoError(t, err)
	dc, err := actor.NewComputingSystem("dc", 1, m1, m2)
	require.NoError(t, err)
	return []actor.Actor{solar, wind, dc}
}

func TestStepWithoutStorage(t *testing.T) {
	mg, err := New(testActors(t), nil, nil)
	require.NoError(t, err)

	now := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	state, err := mg.Step(now, 60)
	require.NoError(t, err)

	// 20 + 0 - 25: the deficit flows straight to the grid.
	assert.InDelta(t, -5, state.PDelta, 1e-9)
	assert.InDelta(t, -5, state.GridPower, 1e-9)
	assert.Equal(t, now, state.Time)

	p, ok := state.Reading("dc")
	require.True(t, ok)
	assert.InDelta(t, -25, p, 1e-9)
	p, ok = state.Reading("solar")
	require.True(t, ok)
	assert.InDelta(t, 20, p, 1e-9)
	_, ok = state.Reading("nope")
	assert.False(t, ok)
}

func TestStepWithBattery(t *testing.T) {
	battery, err := storage.NewSimpleBattery(storage.SimpleBatteryConfig{
		Capacity: 1000, ChargeLevel: 800, MinSoC: 0.1,
	})
	require.NoError(t, err)
	mg, err := New(testActors(t), battery, nil)
	require.NoError(t, err)

	state, err := mg.Step(time.Now(), 60)
	require.NoError(t, err)

	// The battery covers the 5 W deficit for the whole minute.
	assert.InDelta(t, -5, state.PDelta, 1e-9)
	assert.InDelta(t, 0, state.GridPower, 1e-9)
	assert.InDelta(t, 500, state.StorageState.ChargeLevel, 1e-9)
	assert.InDelta(t, 0.5, state.StorageState.SoC(), 1e-9)
}

func TestStepIsReproducible(t *testing.T) {
	mg, err := New(testActors(t), nil, nil)
	require.NoError(t, err)

	now := time.Now()
	first, err := mg.Step(now, 60)
	require.NoError(t, err)
	second, err := mg.Step(now, 60)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStepAbortsOnActorError(t *testing.T) {
	sig, err := signal.NewHistoricalSignal(map[string][]signal.Point{
		"de": {{Time: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), Value: 10}},
	})
	require.NoError(t, err)
	gen, err := actor.NewGenerator("solar", sig, "de")
	require.NoError(t, err)
	mg, err := New([]actor.Actor{gen}, nil, nil)
	require.NoError(t, err)

	// Querying before the first data point must fail the step, not report 0.
	_, err = mg.Step(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, signal.ErrNoData)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)

	a, err := actor.NewGenerator("solar", signal.NewMockSignal(1), "")
	require.NoError(t, err)
	b, err := actor.NewGenerator("solar", signal.NewMockSignal(2), "")
	require.NoError(t, err)
	_, err = New([]actor.Actor{a, b}, nil, nil)
	assert.Error(t, err, "duplicate actor names")
}
