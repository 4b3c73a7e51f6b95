package config

import (
	"fmt"
	"time"

	"github.com/ecoware/microsim/core/storage"
)

// SimulationConfig controls the engine loop.
type SimulationConfig struct {
	// Start is the simulated start time, RFC3339.
	Start string `json:"start"`
	// StepSeconds is the base simulation interval.
	StepSeconds int `json:"step_seconds"`
	// DurationSeconds is the total simulated time.
	DurationSeconds int `json:"duration_seconds"`
	// RTFactor paces the loop against the wall clock. Zero runs as fast as
	// possible.
	RTFactor float64 `json:"rt_factor"`
}

func (c *SimulationConfig) SetDefaults() {
	if c.StepSeconds == 0 {
		c.StepSeconds = 60
	}
}

func (c *SimulationConfig) Validate() error {
	if c.Start == "" {
		return fmt.Errorf("config: simulation.start is required")
	}
	if _, err := time.Parse(time.RFC3339, c.Start); err != nil {
		return fmt.Errorf("config: simulation.start: %w", err)
	}
	if c.StepSeconds <= 0 {
		return fmt.Errorf("config: simulation.step_seconds must be positive")
	}
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("config: simulation.duration_seconds must be positive")
	}
	if c.RTFactor < 0 {
		return fmt.Errorf("config: simulation.rt_factor must not be negative")
	}
	return nil
}

// StartTime returns the parsed start. Validate must have passed.
func (c *SimulationConfig) StartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Start)
	return t
}

// SignalConfig describes one CSV-backed trace signal.
type SignalConfig struct {
	Path string `json:"path"`
	// Unit of the value column: W, kW, MW, g_per_kWh or lb_per_MWh.
	Unit string `json:"unit"`
	// Fill is "ffill" (default) or "bfill".
	Fill       string `json:"fill"`
	TimeLayout string `json:"time_layout"`
	Zone       string `json:"zone"`
}

// ActorConfig describes one power actor. Type is "generator" or
// "computing_system".
type ActorConfig struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// Signal references a key of the signals section (generator only).
	Signal string `json:"signal"`
	Zone   string `json:"zone"`
	// PUE is the power usage effectiveness (computing_system only).
	PUE    float64       `json:"pue"`
	Meters []MeterConfig `json:"meters"`
}

// MeterConfig describes one power meter of a computing system. A meter with
// an address polls a remote node; otherwise it is a settable mock meter.
type MeterConfig struct {
	Name        string  `json:"name"`
	Power       float64 `json:"power"`
	Address     string  `json:"address"`
	PollSeconds int     `json:"poll_seconds"`
}

func (c *ActorConfig) Validate(signals map[string]SignalConfig) error {
	if c.Name == "" {
		return fmt.Errorf("config: actor name must not be empty")
	}
	switch c.Type {
	case "generator":
		if c.Signal == "" {
			return fmt.Errorf("config: actor %q: generator needs a signal", c.Name)
		}
		if _, ok := signals[c.Signal]; !ok {
			return fmt.Errorf("config: actor %q references unknown signal %q", c.Name, c.Signal)
		}
	case "computing_system":
		if len(c.Meters) == 0 {
			return fmt.Errorf("config: actor %q: computing system needs at least one meter", c.Name)
		}
		for _, m := range c.Meters {
			if m.Name == "" {
				return fmt.Errorf("config: actor %q: meter name must not be empty", c.Name)
			}
		}
	default:
		return fmt.Errorf("config: actor %q has unknown type %q", c.Name, c.Type)
	}
	return nil
}

// StorageConfig selects and parameterizes the storage model. Type is "none",
// "simple" or "nonlinear".
type StorageConfig struct {
	Type      string                         `json:"type"`
	Simple    storage.SimpleBatteryConfig    `json:"simple"`
	Nonlinear storage.NonlinearBatteryConfig `json:"nonlinear"`
}

func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "", "none", "simple", "nonlinear":
		return nil
	}
	return fmt.Errorf("config: storage type %q unknown", c.Type)
}

// PolicyConfig seeds the default policy. GridPower, when set, fixes the grid
// exchange until a controller overrides it.
type PolicyConfig struct {
	GridPower *float64 `json:"grid_power"`
}

// ControllersConfig enables and parameterizes the controllers.
type ControllersConfig struct {
	Monitor     MonitorConfig     `json:"monitor"`
	CarbonAware CarbonAwareConfig `json:"carbon_aware"`
	SiL         SiLConfig         `json:"sil"`
}

func (c *ControllersConfig) Validate(signals map[string]SignalConfig) error {
	if c.Monitor.Enabled {
		for _, s := range c.Monitor.Signals {
			if _, ok := signals[s.Signal]; !ok {
				return fmt.Errorf("config: monitor references unknown signal %q", s.Signal)
			}
		}
	}
	if err := c.CarbonAware.Validate(signals); err != nil {
		return err
	}
	if err := c.SiL.Validate(signals); err != nil {
		return err
	}
	return nil
}

// MonitorConfig controls the in-memory state recorder.
type MonitorConfig struct {
	Enabled     bool   `json:"enabled"`
	StepSeconds int    `json:"step_seconds"`
	CSVPath     string `json:"csv_path"`
	// Signals adds extra trace columns to the recording.
	Signals []PublishedSignalConfig `json:"signals"`
}

// CarbonAwareConfig controls the autonomous carbon-aware controller.
type CarbonAwareConfig struct {
	Enabled     bool   `json:"enabled"`
	StepSeconds int    `json:"step_seconds"`
	Signal      string `json:"signal"`
	Zone        string `json:"zone"`
	// Nodes maps a node name to its per-mode power draw in watts. Each
	// table must cover power-saving, normal and high performance.
	Nodes map[string]map[string]float64 `json:"nodes"`
}

func (c *CarbonAwareConfig) Validate(signals map[string]SignalConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.Signal == "" {
		return fmt.Errorf("config: carbon_aware.signal is required")
	}
	if _, ok := signals[c.Signal]; !ok {
		return fmt.Errorf("config: carbon_aware references unknown signal %q", c.Signal)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("config: carbon_aware needs at least one node")
	}
	return nil
}

// SiLNodeConfig names one externally controllable compute node.
type SiLNodeConfig struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// PublishedSignalConfig exposes one signal's live value under a name, either
// in the API snapshot or as a monitor column.
type PublishedSignalConfig struct {
	// Name is the key under which the value appears, e.g. "solar" or "ci".
	Name   string `json:"name"`
	Signal string `json:"signal"`
	Zone   string `json:"zone"`
}

// SiLConfig controls the software-in-the-loop controller and its HTTP API.
type SiLConfig struct {
	Enabled              bool              `json:"enabled"`
	Addr                 string            `json:"addr"`
	StepSeconds          int               `json:"step_seconds"`
	NotifyTimeoutSeconds int               `json:"notify_timeout_seconds"`
	EventBuffer          int               `json:"event_buffer"`
	Nodes                []SiLNodeConfig         `json:"nodes"`
	Signals              []PublishedSignalConfig `json:"signals"`
}

func (c *SiLConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
}

func (c *SiLConfig) Validate(signals map[string]SignalConfig) error {
	if !c.Enabled {
		return nil
	}
	for _, n := range c.Nodes {
		if n.Name == "" || n.Address == "" {
			return fmt.Errorf("config: sil node needs name and address")
		}
	}
	for _, s := range c.Signals {
		if s.Name == "" {
			return fmt.Errorf("config: sil signal needs a name")
		}
		if _, ok := signals[s.Signal]; !ok {
			return fmt.Errorf("config: sil signal %q references unknown signal %q", s.Name, s.Signal)
		}
	}
	return nil
}
