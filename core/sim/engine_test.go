package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoware/microsim/core/actor"
	"github.com/ecoware/microsim/core/controller"
	"github.com/ecoware/microsim/core/microgrid"
	"github.com/ecoware/microsim/core/signal"
	"github.com/ecoware/microsim/core/storage"
	"github.com/ecoware/microsim/infra/logger"
)

// recordingController captures the timestamps of its Step calls.
type recordingController struct {
	stepSize time.Duration
	stepErr  error

	mu        sync.Mutex
	steps     []time.Time
	finalized bool
}

func (r *recordingController) Init(*microgrid.Microgrid) error { return nil }
func (r *recordingController) StepSize() time.Duration         { return r.stepSize }

func (r *recordingController) Step(t time.Time, _ microgrid.State) error {
	r.mu.Lock()
	r.steps = append(r.steps, t)
	r.mu.Unlock()
	return r.stepErr
}

func (r *recordingController) Finalize(context.Context) error {
	r.mu.Lock()
	r.finalized = true
	r.mu.Unlock()
	return nil
}

func testGrid(t *testing.T, production float64) *microgrid.Microgrid {
	t.Helper()
	gen, err := actor.NewGenerator("solar", signal.NewMockSignal(production), "")
	require.NoError(t, err)
	battery, err := storage.NewSimpleBattery(storage.SimpleBatteryConfig{
		Capacity: 1e6, ChargeLevel: 5e5,
	})
	require.NoError(t, err)
	mg, err := microgrid.New([]actor.Actor{gen}, battery, nil)
	require.NoError(t, err)
	return mg
}

func TestEngineRunsAllSteps(t *testing.T) {
	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	ctrl := &recordingController{}
	e, err := New(Config{StepSize: time.Minute}, NewClock(start), testGrid(t, 10),
		[]controller.Controller{ctrl}, logger.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), 5*time.Minute))

	require.Len(t, ctrl.steps, 5)
	assert.Equal(t, start.Add(time.Minute), ctrl.steps[0], "first step ends one interval after start")
	assert.Equal(t, start.Add(5*time.Minute), ctrl.steps[4])
	assert.True(t, ctrl.finalized)
}

func TestEngineControllerCadence(t *testing.T) {
	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	fast := &recordingController{}
	slow := &recordingController{stepSize: 2 * time.Minute}
	e, err := New(Config{StepSize: time.Minute}, NewClock(start), testGrid(t, 10),
		[]controller.Controller{fast, slow}, logger.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), 6*time.Minute))

	assert.Len(t, fast.steps, 6)
	require.Len(t, slow.steps, 3)
	assert.Equal(t, start.Add(2*time.Minute), slow.steps[0])
	assert.Equal(t, start.Add(6*time.Minute), slow.steps[2])
}

func TestEngineIsDeterministic(t *testing.T) {
	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	run := func() []microgrid.State {
		e, err := New(Config{StepSize: time.Minute}, NewClock(start), testGrid(t, 10),
			nil, logger.NopLogger{})
		require.NoError(t, err)
		states := e.Subscribe()
		var got []microgrid.State
		done := make(chan struct{})
		go func() {
			defer close(done)
			for s := range states {
				got = append(got, s)
			}
		}()
		require.NoError(t, e.Run(context.Background(), 8*time.Minute))
		<-done
		return got
	}

	// Eight steps fit the subscriber buffer, so no snapshot is dropped.
	first := run()
	second := run()
	require.Len(t, first, 8)
	assert.Equal(t, first, second)
}

func TestEngineStopsOnControllerError(t *testing.T) {
	boom := errors.New("boom")
	ctrl := &recordingController{stepErr: boom}
	e, err := New(Config{StepSize: time.Minute}, NewClock(time.Now()), testGrid(t, 10),
		[]controller.Controller{ctrl}, logger.NopLogger{})
	require.NoError(t, err)

	err = e.Run(context.Background(), 10*time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ctrl.steps, 1)
	assert.True(t, ctrl.finalized, "finalize runs on the error path")
}

func TestEngineRealTimeCancellation(t *testing.T) {
	ctrl := &recordingController{}
	// 1 ms of wall time per simulated minute.
	e, err := New(Config{StepSize: time.Minute, RTFactor: 60000}, NewClock(time.Now()),
		testGrid(t, 10), []controller.Controller{ctrl}, logger.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err = e.Run(ctx, 24*time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, ctrl.finalized)
	assert.Greater(t, len(ctrl.steps), 0)
	assert.Less(t, len(ctrl.steps), 24*60)
}

func TestEngineConfigValidation(t *testing.T) {
	mg := testGrid(t, 10)
	_, err := New(Config{}, NewClock(time.Now()), mg, nil, logger.NopLogger{})
	assert.Error(t, err, "missing step size")
	_, err = New(Config{StepSize: time.Minute, RTFactor: -1}, NewClock(time.Now()), mg, nil, logger.NopLogger{})
	assert.Error(t, err)
}
