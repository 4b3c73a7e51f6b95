package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `simulation:
  start: "2020-06-01T00:00:00Z"
  step_seconds: 60
  duration_seconds: 86400
  rt_factor: 0
signals:
  solar:
    path: "traces/solar.csv"
    unit: "W"
  ci:
    path: "traces/ci.csv"
    unit: "g_per_kWh"
    zone: "DE"
actors:
  - name: "solar"
    type: "generator"
    signal: "solar"
  - name: "dc"
    type: "computing_system"
    pue: 1.4
    meters:
      - name: "gcp"
        power: 150
storage:
  type: "simple"
  simple:
    capacity: 100
    charge_level: 80
    min_soc: 0.1
controllers:
  monitor:
    enabled: true
    csv_path: "out.csv"
  sil:
    enabled: true
    nodes:
      - name: "gcp"
        address: "http://localhost:8001"
    signals:
      - name: "ci"
        signal: "ci"
        zone: "DE"
metrics:
  prometheus_enabled: true
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"start", cfg.Simulation.Start, "2020-06-01T00:00:00Z"},
		{"step", cfg.Simulation.StepSeconds, 60},
		{"duration", cfg.Simulation.DurationSeconds, 86400},
		{"solar path", cfg.Signals["solar"].Path, "traces/solar.csv"},
		{"ci zone", cfg.Signals["ci"].Zone, "DE"},
		{"actor count", len(cfg.Actors), 2},
		{"dc pue", cfg.Actors[1].PUE, 1.4},
		{"meter name", cfg.Actors[1].Meters[0].Name, "gcp"},
		{"storage type", cfg.Storage.Type, "simple"},
		{"capacity", cfg.Storage.Simple.Capacity, 100.0},
		{"monitor enabled", cfg.Controllers.Monitor.Enabled, true},
		{"sil addr default", cfg.Controllers.SiL.Addr, ":8000"},
		{"sil node", cfg.Controllers.SiL.Nodes[0].Name, "gcp"},
		{"prom port default", cfg.Metrics.PrometheusPort, ":9090"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}

	if cfg.Simulation.StartTime().IsZero() {
		t.Error("parsed start time is zero")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MG_SIMULATION__STEP_SECONDS", "30")
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Simulation.StepSeconds != 30 {
		t.Errorf("env override ignored: got %d", cfg.Simulation.StepSeconds)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{
			name: "missing start",
			data: "simulation:\n  duration_seconds: 60\nactors:\n  - name: a\n    type: generator\n    signal: s\nsignals:\n  s:\n    path: p.csv\n",
		},
		{
			name: "no actors",
			data: "simulation:\n  start: \"2020-06-01T00:00:00Z\"\n  duration_seconds: 60\n",
		},
		{
			name: "unknown actor type",
			data: "simulation:\n  start: \"2020-06-01T00:00:00Z\"\n  duration_seconds: 60\nactors:\n  - name: a\n    type: windmill\n",
		},
		{
			name: "generator without signal",
			data: "simulation:\n  start: \"2020-06-01T00:00:00Z\"\n  duration_seconds: 60\nactors:\n  - name: a\n    type: generator\n",
		},
		{
			name: "unknown storage type",
			data: "simulation:\n  start: \"2020-06-01T00:00:00Z\"\n  duration_seconds: 60\nactors:\n  - name: a\n    type: generator\n    signal: s\nsignals:\n  s:\n    path: p.csv\nstorage:\n  type: flywheel\n",
		},
		{
			name: "sil signal references unknown signal",
			data: "simulation:\n  start: \"2020-06-01T00:00:00Z\"\n  duration_seconds: 60\nactors:\n  - name: a\n    type: generator\n    signal: s\nsignals:\n  s:\n    path: p.csv\ncontrollers:\n  sil:\n    enabled: true\n    signals:\n      - name: ci\n        signal: nope\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.data)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an unsupported format error")
	}
}
