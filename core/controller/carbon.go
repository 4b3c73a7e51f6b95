package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoware/microsim/core/actor"
	"github.com/ecoware/microsim/core/microgrid"
	"github.com/ecoware/microsim/core/signal"
	"github.com/ecoware/microsim/core/storage"
)

// PowerMode is the discrete operating level of a compute node.
type PowerMode string

const (
	PowerSaving     PowerMode = "power-saving"
	Normal          PowerMode = "normal"
	HighPerformance PowerMode = "high performance"
)

// ValidPowerMode reports whether s names a known power mode.
func ValidPowerMode(s string) bool {
	switch PowerMode(s) {
	case PowerSaving, Normal, HighPerformance:
		return true
	}
	return false
}

// PowerModes lists all valid modes.
func PowerModes() []PowerMode {
	return []PowerMode{PowerSaving, Normal, HighPerformance}
}

// Decision is the output of one carbon-aware rule evaluation.
type Decision struct {
	// MinSoC is the battery floor to set.
	MinSoC float64
	// GridCharge is the power in W to draw from the public grid into the
	// battery. Zero forces a balanced grid (no draw, no feed beyond excess).
	GridCharge float64
	// Modes assigns a power mode to every node.
	Modes map[string]PowerMode
}

// Decide evaluates the carbon-aware rule set. It is a pure function of the
// time of day, the battery state of charge and the carbon intensity:
//
//   - from 11:00 onward the battery floor is raised to 0.6 if the charge
//     allows it, otherwise it stays at 0.3;
//   - below 200 gCO2/kWh and under 60% charge the battery charges from the
//     grid at 20 W;
//   - nodes run at high performance while energy is clean (ci <= 200) or
//     the battery is well charged (soc > 0.8), drop to power saving when
//     energy is dirty (ci >= 250) and the battery is low (soc < 0.6), and
//     run normally otherwise.
func Decide(timeOfDay time.Duration, soc, ci float64, nodes []string) Decision {
	d := Decision{Modes: make(map[string]PowerMode, len(nodes))}
	if timeOfDay >= 11*time.Hour && soc >= 0.6 {
		d.MinSoC = 0.6
	} else {
		d.MinSoC = 0.3
	}
	if ci <= 200 && soc < 0.6 {
		d.GridCharge = 20
	}
	for _, node := range nodes {
		switch {
		case ci <= 200 || soc > 0.8:
			d.Modes[node] = HighPerformance
		case ci >= 250 && soc < 0.6:
			d.Modes[node] = PowerSaving
		default:
			d.Modes[node] = Normal
		}
	}
	return d
}

// CarbonAwareController applies the rule set to a microgrid: it adjusts the
// battery floor, the grid charge override and the requested power draw of
// each compute node's meter.
type CarbonAwareController struct {
	stepSize time.Duration
	carbon   signal.Signal
	zone     string
	meters   map[string]*actor.MockPowerMeter
	// modeWatts maps node name and power mode to the node's power draw.
	modeWatts map[string]map[PowerMode]float64

	storage storage.Storage
	policy  *storage.DefaultPolicy
}

// NewCarbonAwareController wires the controller to the carbon signal and the
// per-node mode tables. Every meter needs a complete mode table.
func NewCarbonAwareController(
	stepSize time.Duration,
	carbon signal.Signal,
	zone string,
	meters map[string]*actor.MockPowerMeter,
	modeWatts map[string]map[PowerMode]float64,
) (*CarbonAwareController, error) {
	if carbon == nil {
		return nil, fmt.Errorf("controller: carbon signal is required")
	}
	for name := range meters {
		table, ok := modeWatts[name]
		if !ok {
			return nil, fmt.Errorf("controller: node %q has no power mode table", name)
		}
		for _, mode := range PowerModes() {
			if _, ok := table[mode]; !ok {
				return nil, fmt.Errorf("controller: node %q misses power mode %q", name, mode)
			}
		}
	}
	return &CarbonAwareController{
		stepSize:  stepSize,
		carbon:    carbon,
		zone:      zone,
		meters:    meters,
		modeWatts: modeWatts,
	}, nil
}

// Init captures the microgrid's storage and policy.
func (c *CarbonAwareController) Init(mg *microgrid.Microgrid) error {
	if mg.Storage() == nil {
		return fmt.Errorf("controller: carbon-aware control needs a storage device")
	}
	policy, ok := mg.Policy().(*storage.DefaultPolicy)
	if !ok {
		return fmt.Errorf("controller: carbon-aware control needs the default storage policy")
	}
	c.storage = mg.Storage()
	c.policy = policy
	return nil
}

// StepSize implements Controller.
func (c *CarbonAwareController) StepSize() time.Duration { return c.stepSize }

// Step evaluates the rules and applies the decision. The mutations become
// visible with the next microgrid step.
func (c *CarbonAwareController) Step(t time.Time, state microgrid.State) error {
	ci, err := c.carbon.At(t, c.zone)
	if err != nil {
		return fmt.Errorf("controller: carbon intensity: %w", err)
	}
	nodes := make([]string, 0, len(c.meters))
	for name := range c.meters {
		nodes = append(nodes, name)
	}
	tod := t.UTC().Sub(time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC))
	d := Decide(tod, state.StorageState.SoC(), ci, nodes)

	if err := c.storage.SetMinSoC(d.MinSoC); err != nil {
		return err
	}
	// Positive grid charge means drawing from the grid, hence a negative
	// grid power override.
	c.policy.SetGridPower(-d.GridCharge)
	for name, mode := range d.Modes {
		if err := c.meters[name].SetPower(c.modeWatts[name][mode]); err != nil {
			return err
		}
	}
	return nil
}

// Finalize implements Controller.
func (c *CarbonAwareController) Finalize(context.Context) error { return nil }
