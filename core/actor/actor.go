// Package actor exposes the power producers and consumers of a microgrid.
//
// Sign convention: production is positive, consumption is negative. Every
// actor fixes its convention at construction and never changes it.
package actor

import (
	"fmt"
	"time"

	"github.com/ecoware/microsim/core/signal"
)

// Actor reports a single scalar net power reading per step.
type Actor interface {
	// Name identifies the actor within a microgrid.
	Name() string
	// Power returns the actor's net power at time t in watts.
	Power(t time.Time) (float64, error)
}

// Generator produces power according to a signal, e.g. a solar trace. Its
// readings are non-negative production values.
type Generator struct {
	name string
	sig  signal.Signal
	zone string
}

// NewGenerator wraps the signal as a producing actor.
func NewGenerator(name string, sig signal.Signal, zone string) (*Generator, error) {
	if name == "" {
		return nil, fmt.Errorf("actor: generator name must not be empty")
	}
	if sig == nil {
		return nil, fmt.Errorf("actor: generator %q needs a signal", name)
	}
	return &Generator{name: name, sig: sig, zone: zone}, nil
}

// Name implements Actor.
func (g *Generator) Name() string { return g.name }

// Power returns the generated power at t.
func (g *Generator) Power(t time.Time) (float64, error) {
	p, err := g.sig.At(t, g.zone)
	if err != nil {
		return 0, fmt.Errorf("actor %q: %w", g.name, err)
	}
	if p < 0 {
		return 0, fmt.Errorf("actor %q: negative production %g at %s", g.name, p, t)
	}
	return p, nil
}

// ComputingSystem combines multiple power meter readings into one consuming
// actor, scaled by a power usage effectiveness factor.
type ComputingSystem struct {
	name   string
	pue    float64
	meters []PowerMeter
}

// NewComputingSystem builds a computing system actor. PUE must be >= 1; zero
// defaults to 1.
func NewComputingSystem(name string, pue float64, meters ...PowerMeter) (*ComputingSystem, error) {
	if name == "" {
		return nil, fmt.Errorf("actor: computing system name must not be empty")
	}
	if pue == 0 {
		pue = 1
	}
	if pue < 1 {
		return nil, fmt.Errorf("actor: pue must be >= 1, got %g", pue)
	}
	if len(meters) == 0 {
		return nil, fmt.Errorf("actor: computing system %q needs at least one power meter", name)
	}
	return &ComputingSystem{name: name, pue: pue, meters: meters}, nil
}

// Name implements Actor.
func (c *ComputingSystem) Name() string { return c.name }

// Power returns the negated, PUE-scaled sum of all meter readings.
func (c *ComputingSystem) Power(t time.Time) (float64, error) {
	var sum float64
	for _, m := range c.meters {
		p, err := m.Measure(t)
		if err != nil {
			return 0, fmt.Errorf("actor %q: meter %q: %w", c.name, m.Name(), err)
		}
		sum += p
	}
	return -c.pue * sum, nil
}

// Meters returns the system's power meters.
func (c *ComputingSystem) Meters() []PowerMeter { return c.meters }
