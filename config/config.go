package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ecoware/microsim/core/metrics"
)

// Config is the root configuration of a simulation run.
type Config struct {
	Simulation  SimulationConfig        `json:"simulation"`
	Signals     map[string]SignalConfig `json:"signals"`
	Actors      []ActorConfig           `json:"actors"`
	Storage     StorageConfig           `json:"storage"`
	Policy      PolicyConfig            `json:"policy"`
	Controllers ControllersConfig       `json:"controllers"`
	Metrics     metrics.Config          `json:"metrics"`
}

// Load reads the configuration from a YAML or JSON file, applies optional
// MG_-prefixed environment overrides, defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, e.g. MG_SIMULATION__STEP_SECONDS=30.
	if err := k.Load(env.Provider("MG_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "mg_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	c.Simulation.SetDefaults()
	c.Controllers.SiL.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if len(c.Actors) == 0 {
		return fmt.Errorf("config: at least one actor is required")
	}
	for i := range c.Actors {
		if err := c.Actors[i].Validate(c.Signals); err != nil {
			return err
		}
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Controllers.Validate(c.Signals)
}
