package storage

import "sync"

// Policy decides how much of the aggregate actor power delta is routed to
// storage versus the public grid.
type Policy interface {
	// Apply routes pDelta (positive = surplus production) for the given
	// duration and returns the resulting grid power (positive = feed-in,
	// negative = draw).
	Apply(pDelta float64, store Storage, duration float64) (float64, error)
}

// DefaultPolicy lets storage absorb or supply as much of the power delta as
// it can and sends the residual to the grid. An optional grid power override
// forces a fixed grid draw/feed and routes the remainder entirely to storage,
// e.g. to charge the battery from the grid during low-carbon hours.
//
// Energy is conserved for every step: pDelta equals the power actually
// applied to storage plus the returned grid power.
type DefaultPolicy struct {
	mu       sync.Mutex
	override *float64
}

// NewDefaultPolicy returns a policy without a grid power override.
func NewDefaultPolicy() *DefaultPolicy { return &DefaultPolicy{} }

// SetGridPower sets the grid power override.
func (p *DefaultPolicy) SetGridPower(power float64) {
	p.mu.Lock()
	p.override = &power
	p.mu.Unlock()
}

// ClearGridPower removes the override.
func (p *DefaultPolicy) ClearGridPower() {
	p.mu.Lock()
	p.override = nil
	p.mu.Unlock()
}

// GridPower reports the current override.
func (p *DefaultPolicy) GridPower() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.override == nil {
		return 0, false
	}
	return *p.override, true
}

// Apply implements Policy.
func (p *DefaultPolicy) Apply(pDelta float64, store Storage, duration float64) (float64, error) {
	if store == nil {
		return pDelta, nil
	}
	batteryPower := pDelta
	if override, ok := p.GridPower(); ok {
		batteryPower = pDelta - override
	}
	if max := store.State().MaxChargePower; max > 0 {
		if batteryPower > max {
			batteryPower = max
		} else if batteryPower < -max {
			batteryPower = -max
		}
	}
	excess, err := store.Update(batteryPower, duration)
	if err != nil {
		return 0, err
	}
	return pDelta - batteryPower + excess, nil
}
