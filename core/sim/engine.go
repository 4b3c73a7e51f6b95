// Package sim drives a microgrid and its controllers through discrete time.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoware/microsim/core/controller"
	"github.com/ecoware/microsim/core/logger"
	"github.com/ecoware/microsim/core/microgrid"
	"github.com/ecoware/microsim/internal/eventbus"
)

// Config parameterizes an Engine.
type Config struct {
	// StepSize is the base simulation interval.
	StepSize time.Duration
	// RTFactor paces the loop against the wall clock: a factor of 60 runs
	// sixty simulated seconds per wall second. Zero runs as fast as
	// possible.
	RTFactor float64
	// FinalizeTimeout bounds controller teardown. Defaults to 10s.
	FinalizeTimeout time.Duration
}

// Engine owns the single-threaded step loop. It never blocks on network I/O:
// anything slow lives behind controllers' own concurrent machinery or behind
// the state bus, whose delivery is non-blocking.
type Engine struct {
	cfg         Config
	clock       Clock
	mg          *microgrid.Microgrid
	controllers []controller.Controller
	bus         *eventbus.Bus[microgrid.State]
	log         logger.Logger
}

// New validates the configuration and builds an engine.
func New(cfg Config, clock Clock, mg *microgrid.Microgrid, controllers []controller.Controller, log logger.Logger) (*Engine, error) {
	if cfg.StepSize <= 0 {
		return nil, fmt.Errorf("sim: step size must be positive, got %s", cfg.StepSize)
	}
	if cfg.RTFactor < 0 {
		return nil, fmt.Errorf("sim: rt factor must not be negative, got %g", cfg.RTFactor)
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	for _, c := range controllers {
		if c.StepSize() < 0 {
			return nil, fmt.Errorf("sim: controller step size must not be negative")
		}
	}
	return &Engine{
		cfg:         cfg,
		clock:       clock,
		mg:          mg,
		controllers: controllers,
		bus:         eventbus.New[microgrid.State](),
		log:         log,
	}, nil
}

// Subscribe returns a channel of per-step state snapshots. Delivery is
// non-blocking; slow subscribers miss snapshots.
func (e *Engine) Subscribe() <-chan microgrid.State { return e.bus.Subscribe() }

// Run executes the simulation for the given simulated duration. Cancelling
// ctx stops the loop between steps, immediately interrupting any real-time
// sleep; a step already in progress always completes, so storage is never
// left mid-update. Controllers are finalized on every exit path.
func (e *Engine) Run(ctx context.Context, until time.Duration) error {
	defer e.bus.Close()
	defer e.finalize()

	for _, c := range e.controllers {
		if err := c.Init(e.mg); err != nil {
			return fmt.Errorf("sim: init controller: %w", err)
		}
	}

	steps := int64(until / e.cfg.StepSize)
	stepSeconds := e.cfg.StepSize.Seconds()
	for i := int64(1); i <= steps; i++ {
		simSeconds := i * int64(e.cfg.StepSize/time.Second)
		now := e.clock.ToTime(simSeconds)

		state, err := e.mg.Step(now, stepSeconds)
		if err != nil {
			return err
		}
		for _, c := range e.controllers {
			if !e.due(c, i) {
				continue
			}
			if err := c.Step(now, state); err != nil {
				return fmt.Errorf("sim: controller step at %s: %w", now, err)
			}
		}
		e.bus.Publish(state)

		if e.cfg.RTFactor > 0 {
			if err := e.pace(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// due reports whether the controller's interval divides the current step.
func (e *Engine) due(c controller.Controller, step int64) bool {
	interval := c.StepSize()
	if interval == 0 || interval == e.cfg.StepSize {
		return true
	}
	ratio := int64(interval / e.cfg.StepSize)
	if ratio <= 1 {
		// Finer-grained controllers step at most once per engine step.
		return true
	}
	return step%ratio == 0
}

func (e *Engine) pace(ctx context.Context) error {
	wait := time.Duration(float64(e.cfg.StepSize) / e.cfg.RTFactor)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FinalizeTimeout)
	defer cancel()
	for _, c := range e.controllers {
		if err := c.Finalize(ctx); err != nil {
			e.log.Errorf("finalize controller: %v", err)
		}
	}
}
