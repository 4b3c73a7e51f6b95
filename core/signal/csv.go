package signal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVConfig describes how a CSV trace file is interpreted.
type CSVConfig struct {
	// Unit of the power/value column: "W" (default), "kW" or "MW". Values
	// are converted to watts on load.
	Unit string
	// TimeLayout parses the first column. Defaults to RFC3339, with a
	// fallback to "2006-01-02 15:04:05".
	TimeLayout string
	// Fill selects the fill method of the resulting signal.
	Fill FillMethod
	// Zone names the single zone of the file. Defaults to the header of the
	// value column.
	Zone string
}

// FromCSV loads a two-column CSV file (time, value) into a HistoricalSignal.
// The first row is treated as a header. Non-monotonic or duplicate
// timestamps and unknown units abort the load.
func FromCSV(path string, cfg CSVConfig) (*HistoricalSignal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("signal: open trace: %w", err)
	}
	defer f.Close()
	sig, err := ReadCSV(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("signal: %s: %w", path, err)
	}
	return sig, nil
}

// ReadCSV parses CSV trace data from r. See FromCSV.
func ReadCSV(r io.Reader, cfg CSVConfig) (*HistoricalSignal, error) {
	factor, err := unitFactor(cfg.Unit)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	zone := cfg.Zone
	if zone == "" {
		zone = header[1]
	}
	var pts []Point
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTime(rec[0], cfg.TimeLayout)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse value %q: %w", line, rec[1], err)
		}
		pts = append(pts, Point{Time: ts, Value: v * factor})
	}
	opts := []Option{}
	if cfg.Fill != "" {
		opts = append(opts, WithFill(cfg.Fill))
	}
	return NewHistoricalSignal(map[string][]Point{zone: pts}, opts...)
}

func unitFactor(unit string) (float64, error) {
	switch unit {
	case "", "W":
		return 1, nil
	case "kW":
		return 1e3, nil
	case "MW":
		return 1e6, nil
	case "g_per_kWh":
		return 1, nil
	case "lb_per_MWh":
		// Converted to gCO2/kWh, the unit assumed everywhere else.
		return 0.45359237, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}

func parseTime(s, layout string) (time.Time, error) {
	if layout != "" {
		t, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
