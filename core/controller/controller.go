// Package controller defines the per-step hooks that observe and steer a
// running microgrid.
package controller

import (
	"context"
	"time"

	"github.com/ecoware/microsim/core/microgrid"
)

// Controller is invoked by the simulation engine at its own cadence with the
// current microgrid snapshot. Controllers may mutate storage and policy
// parameters; such mutations take effect with the next microgrid step, never
// retroactively.
type Controller interface {
	// Init is called once before the first step with the microgrid the
	// controller is attached to.
	Init(mg *microgrid.Microgrid) error
	// Step is called at each of the controller's due times.
	Step(t time.Time, state microgrid.State) error
	// Finalize releases resources. The context bounds the teardown.
	Finalize(ctx context.Context) error
	// StepSize returns the controller's own step interval. Zero means the
	// engine's base interval.
	StepSize() time.Duration
}
