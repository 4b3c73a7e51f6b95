package storage

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/interp"
)

// CurvePoint is one knot of an open-circuit-voltage curve.
type CurvePoint struct {
	SoC     float64 `json:"soc"`
	Voltage float64 `json:"voltage"`
}

// NonlinearBatteryConfig parameterizes a cell-based battery model.
type NonlinearBatteryConfig struct {
	Cells       int     `json:"cells"`
	Capacity    float64 `json:"capacity"`     // Ws
	ChargeLevel float64 `json:"charge_level"` // Ws
	MinSoC      float64 `json:"min_soc"`
	// OCV maps state of charge to per-cell open-circuit voltage. Knots must
	// span [0,1] with strictly increasing SoC.
	OCV []CurvePoint `json:"ocv"`
	// Resistance is the per-cell internal resistance in ohm.
	Resistance float64 `json:"resistance"`
	// EtaC and EtaD are the charge and discharge efficiencies in (0,1].
	EtaC float64 `json:"eta_c"`
	EtaD float64 `json:"eta_d"`
	// AlphaC and AlphaD limit the charge and discharge current in ampere.
	// Zero means unlimited.
	AlphaC float64 `json:"alpha_c"`
	AlphaD float64 `json:"alpha_d"`
}

// NonlinearBattery models a battery pack as identical series-connected cells
// with a piecewise-linear open-circuit-voltage curve, internal resistance,
// asymmetric (dis)charge efficiencies and current limits. Its Update contract
// is identical to SimpleBattery; only the internal physics differ.
type NonlinearBattery struct {
	mu          sync.Mutex
	cfg         NonlinearBatteryConfig
	chargeLevel float64
	minSoC      float64
	ocv         interp.PiecewiseLinear
}

// NewNonlinearBattery validates the configuration and fits the OCV curve.
func NewNonlinearBattery(cfg NonlinearBatteryConfig) (*NonlinearBattery, error) {
	if cfg.Cells <= 0 {
		return nil, fmt.Errorf("storage: cells must be positive, got %d", cfg.Cells)
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("storage: capacity must be positive, got %g", cfg.Capacity)
	}
	if cfg.ChargeLevel < 0 || cfg.ChargeLevel > cfg.Capacity {
		return nil, fmt.Errorf("storage: charge level %g outside [0,%g]", cfg.ChargeLevel, cfg.Capacity)
	}
	if cfg.MinSoC < 0 || cfg.MinSoC > 1 {
		return nil, fmt.Errorf("storage: min_soc %g outside [0,1]", cfg.MinSoC)
	}
	if cfg.EtaC <= 0 || cfg.EtaC > 1 || cfg.EtaD <= 0 || cfg.EtaD > 1 {
		return nil, fmt.Errorf("storage: efficiencies must be in (0,1], got eta_c=%g eta_d=%g", cfg.EtaC, cfg.EtaD)
	}
	if cfg.AlphaC < 0 || cfg.AlphaD < 0 {
		return nil, fmt.Errorf("storage: current limits must not be negative")
	}
	if cfg.Resistance < 0 {
		return nil, fmt.Errorf("storage: resistance must not be negative, got %g", cfg.Resistance)
	}
	if len(cfg.OCV) < 2 {
		return nil, fmt.Errorf("storage: ocv curve needs at least two knots")
	}
	xs := make([]float64, len(cfg.OCV))
	ys := make([]float64, len(cfg.OCV))
	for i, pt := range cfg.OCV {
		if i > 0 && pt.SoC <= cfg.OCV[i-1].SoC {
			return nil, fmt.Errorf("storage: ocv knots must have strictly increasing soc")
		}
		if pt.Voltage <= 0 {
			return nil, fmt.Errorf("storage: ocv voltage must be positive at soc %g", pt.SoC)
		}
		xs[i], ys[i] = pt.SoC, pt.Voltage
	}
	if xs[0] != 0 || xs[len(xs)-1] != 1 {
		return nil, fmt.Errorf("storage: ocv curve must span soc [0,1]")
	}
	b := &NonlinearBattery{cfg: cfg, chargeLevel: cfg.ChargeLevel, minSoC: cfg.MinSoC}
	if err := b.ocv.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("storage: fit ocv curve: %w", err)
	}
	return b, nil
}

// Update implements Storage.
func (b *NonlinearBattery) Update(power, duration float64) (float64, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("storage: duration must be positive, got %g", duration)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if power == 0 {
		return 0, nil
	}

	soc := b.chargeLevel / b.cfg.Capacity
	cells := float64(b.cfg.Cells)
	open := cells * b.ocv.Predict(soc)
	// One refinement pass for the resistive voltage drop/rise.
	current := power / open
	terminal := open + current*cells*b.cfg.Resistance
	if terminal <= 0 {
		terminal = open
	}
	current = power / terminal
	if b.cfg.AlphaC > 0 && current > b.cfg.AlphaC {
		current = b.cfg.AlphaC
	}
	if b.cfg.AlphaD > 0 && current < -b.cfg.AlphaD {
		current = -b.cfg.AlphaD
	}
	applied := current * terminal

	// Internal energy delta after efficiency losses.
	var delta float64
	if applied > 0 {
		delta = applied * b.cfg.EtaC * duration
	} else {
		delta = applied / b.cfg.EtaD * duration
	}

	lower := b.minSoC * b.cfg.Capacity
	if b.chargeLevel < lower {
		lower = b.chargeLevel
	}
	level := b.chargeLevel + delta
	if level > b.cfg.Capacity {
		level = b.cfg.Capacity
	} else if level < lower {
		level = lower
	}
	stored := level - b.chargeLevel
	b.chargeLevel = level

	// Map the stored delta back to external power to report the excess.
	var externalApplied float64
	if stored > 0 {
		externalApplied = stored / (b.cfg.EtaC * duration)
	} else {
		externalApplied = stored * b.cfg.EtaD / duration
	}
	return power - externalApplied, nil
}

// SoC returns the current state of charge.
func (b *NonlinearBattery) SoC() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chargeLevel / b.cfg.Capacity
}

// State returns a snapshot of the battery. The reported max charge power is
// derived from the charge current limit at the current operating voltage.
func (b *NonlinearBattery) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	soc := b.chargeLevel / b.cfg.Capacity
	var maxPower float64
	if b.cfg.AlphaC > 0 {
		maxPower = b.cfg.AlphaC * float64(b.cfg.Cells) * b.ocv.Predict(soc)
	}
	return State{
		ChargeLevel:    b.chargeLevel,
		Capacity:       b.cfg.Capacity,
		MinSoC:         b.minSoC,
		MaxChargePower: maxPower,
	}
}

// SetMinSoC updates the state-of-charge floor for future updates.
func (b *NonlinearBattery) SetMinSoC(minSoC float64) error {
	if minSoC < 0 || minSoC > 1 {
		return fmt.Errorf("storage: min_soc %g outside [0,1]", minSoC)
	}
	b.mu.Lock()
	b.minSoC = minSoC
	b.mu.Unlock()
	return nil
}
