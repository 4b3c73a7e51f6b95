package controller

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ecoware/microsim/core/microgrid"
	"github.com/ecoware/microsim/core/signal"
)

// Monitor is a passive observer that records every snapshot it sees and can
// export the history as CSV. Extra grid signals (e.g. carbon intensity) may
// be attached; their value at each step is recorded alongside the snapshot.
type Monitor struct {
	stepSize time.Duration
	signals  map[string]signal.Signal
	zones    map[string]string

	mu   sync.Mutex
	rows []monitorRow
}

type monitorRow struct {
	state  microgrid.State
	extras map[string]float64
}

// NewMonitor creates a monitor stepping at the given interval (zero adopts
// the engine interval).
func NewMonitor(stepSize time.Duration) *Monitor {
	return &Monitor{
		stepSize: stepSize,
		signals:  map[string]signal.Signal{},
		zones:    map[string]string{},
	}
}

// AddSignal records the signal's value at each step under the given column
// name.
func (m *Monitor) AddSignal(name string, sig signal.Signal, zone string) {
	m.signals[name] = sig
	m.zones[name] = zone
}

// Init implements Controller.
func (m *Monitor) Init(*microgrid.Microgrid) error { return nil }

// StepSize implements Controller.
func (m *Monitor) StepSize() time.Duration { return m.stepSize }

// Step records the snapshot.
func (m *Monitor) Step(t time.Time, state microgrid.State) error {
	extras := make(map[string]float64, len(m.signals))
	for name, sig := range m.signals {
		v, err := sig.At(t, m.zones[name])
		if err != nil {
			return fmt.Errorf("monitor: signal %q: %w", name, err)
		}
		extras[name] = v
	}
	m.mu.Lock()
	m.rows = append(m.rows, monitorRow{state: state, extras: extras})
	m.mu.Unlock()
	return nil
}

// Finalize implements Controller.
func (m *Monitor) Finalize(context.Context) error { return nil }

// Len returns the number of recorded steps.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ToCSV writes the recorded history. Columns: time, one per actor, p_delta,
// grid_power, battery_soc, then the extra signals in lexical order.
func (m *Monitor) ToCSV(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) == 0 {
		return fmt.Errorf("monitor: no steps recorded")
	}

	first := m.rows[0]
	header := []string{"time"}
	for _, r := range first.state.Readings {
		header = append(header, r.Name)
	}
	header = append(header, "p_delta", "grid_power", "battery_soc")
	extraNames := make([]string, 0, len(first.extras))
	for name := range first.extras {
		extraNames = append(extraNames, name)
	}
	sort.Strings(extraNames)
	header = append(header, extraNames...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range m.rows {
		rec := []string{row.state.Time.UTC().Format(time.RFC3339)}
		for _, r := range row.state.Readings {
			rec = append(rec, formatFloat(r.Power))
		}
		rec = append(rec,
			formatFloat(row.state.PDelta),
			formatFloat(row.state.GridPower),
			formatFloat(row.state.StorageState.SoC()),
		)
		for _, name := range extraNames {
			rec = append(rec, formatFloat(row.extras[name]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV stores the history at path.
func (m *Monitor) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("monitor: create %s: %w", path, err)
	}
	defer f.Close()
	if err := m.ToCSV(f); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
