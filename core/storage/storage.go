// Package storage models stateful energy storage devices and the policies
// that route power between actors, storage and the public grid.
//
// All energy amounts are in watt-seconds (Ws), powers in watts. Positive
// power charges a device, negative power discharges it.
package storage

import (
	"fmt"
	"sync"
)

// State is a read-only snapshot of a storage device.
type State struct {
	ChargeLevel    float64 `json:"charge_level"`
	Capacity       float64 `json:"capacity"`
	MinSoC         float64 `json:"min_soc"`
	MaxChargePower float64 `json:"max_charge_power"`
}

// SoC returns the state of charge in [0,1].
func (s State) SoC() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return s.ChargeLevel / s.Capacity
}

// Storage is a stateful device that absorbs or supplies power.
type Storage interface {
	// Update requests (dis)charging with the given power for the given
	// duration in seconds. It returns the excess power that could not be
	// absorbed or supplied; the excess has the same sign as power, or is
	// zero. Duration must be positive.
	Update(power, duration float64) (float64, error)
	// SoC returns the current state of charge in [0,1].
	SoC() float64
	// State returns a snapshot of the device.
	State() State
	// SetMinSoC tightens (or relaxes) the lower state-of-charge bound for
	// future updates. It never moves the current charge level.
	SetMinSoC(minSoC float64) error
}

// SimpleBattery is a linear storage model with a state-of-charge floor and an
// optional symmetric (dis)charge rate limit.
type SimpleBattery struct {
	mu          sync.Mutex
	capacity    float64
	chargeLevel float64
	minSoC      float64
	cRate       float64 // max |power| in W, 0 means unlimited
}

// SimpleBatteryConfig holds the construction parameters of a SimpleBattery.
type SimpleBatteryConfig struct {
	Capacity    float64 `json:"capacity"`
	ChargeLevel float64 `json:"charge_level"`
	MinSoC      float64 `json:"min_soc"`
	CRate       float64 `json:"c_rate"`
}

// NewSimpleBattery validates the configuration and returns the battery.
func NewSimpleBattery(cfg SimpleBatteryConfig) (*SimpleBattery, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("storage: capacity must be positive, got %g", cfg.Capacity)
	}
	if cfg.ChargeLevel < 0 || cfg.ChargeLevel > cfg.Capacity {
		return nil, fmt.Errorf("storage: charge level %g outside [0,%g]", cfg.ChargeLevel, cfg.Capacity)
	}
	if cfg.MinSoC < 0 || cfg.MinSoC > 1 {
		return nil, fmt.Errorf("storage: min_soc %g outside [0,1]", cfg.MinSoC)
	}
	if cfg.CRate < 0 {
		return nil, fmt.Errorf("storage: c_rate must not be negative, got %g", cfg.CRate)
	}
	return &SimpleBattery{
		capacity:    cfg.Capacity,
		chargeLevel: cfg.ChargeLevel,
		minSoC:      cfg.MinSoC,
		cRate:       cfg.CRate,
	}, nil
}

// Update applies the requested power for the given duration and returns the
// excess power. The charge level is clamped to [minSoC*capacity, capacity];
// if the state of charge already sits below a recently raised minSoC, the
// current level acts as the lower bound so that a discharge request never
// charges the battery.
func (b *SimpleBattery) Update(power, duration float64) (float64, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("storage: duration must be positive, got %g", duration)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	applied := power
	if b.cRate > 0 {
		if applied > b.cRate {
			applied = b.cRate
		} else if applied < -b.cRate {
			applied = -b.cRate
		}
	}
	lower := b.minSoC * b.capacity
	if b.chargeLevel < lower {
		lower = b.chargeLevel
	}
	level := b.chargeLevel + applied*duration
	if level > b.capacity {
		level = b.capacity
	} else if level < lower {
		level = lower
	}
	excess := power - (level-b.chargeLevel)/duration
	b.chargeLevel = level
	return excess, nil
}

// SoC returns the current state of charge.
func (b *SimpleBattery) SoC() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chargeLevel / b.capacity
}

// State returns a snapshot of the battery.
func (b *SimpleBattery) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		ChargeLevel:    b.chargeLevel,
		Capacity:       b.capacity,
		MinSoC:         b.minSoC,
		MaxChargePower: b.cRate,
	}
}

// SetMinSoC updates the state-of-charge floor for future updates.
func (b *SimpleBattery) SetMinSoC(minSoC float64) error {
	if minSoC < 0 || minSoC > 1 {
		return fmt.Errorf("storage: min_soc %g outside [0,1]", minSoC)
	}
	b.mu.Lock()
	b.minSoC = minSoC
	b.mu.Unlock()
	return nil
}
