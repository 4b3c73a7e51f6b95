package signal

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNoData indicates that a signal has no value for the requested time.
// Callers must treat it as fatal for the running query; the value zero is
// never substituted.
var ErrNoData = errors.New("no data available")

// FillMethod determines how values between timestamps are acquired.
type FillMethod string

const (
	// FillForward returns the last known value at or before the queried time.
	FillForward FillMethod = "ffill"
	// FillBackward returns the next known value at or after the queried time.
	FillBackward FillMethod = "bfill"
)

// Point is a single timestamped value.
type Point struct {
	Time  time.Time
	Value float64
}

// Signal is a read-only time-indexed data source, e.g. solar irradiance or
// grid carbon intensity. Implementations must be safe for repeated queries:
// calling At twice with the same arguments and unchanged backing data returns
// the same value.
type Signal interface {
	// At returns the value of the given zone at time t. The zone may be empty
	// if the signal carries exactly one zone.
	At(t time.Time, zone string) (float64, error)
}

// Forecaster is implemented by signals that can answer queries over a future
// window.
type Forecaster interface {
	// Forecast returns the data points in the window (start, end]. The value
	// valid at start itself is not included.
	Forecast(start, end time.Time, zone string, opts ForecastOptions) ([]Point, error)
}

// ForecastOptions tunes how forecast windows are materialized.
type ForecastOptions struct {
	// Frequency resamples the forecast to a fixed interval. Zero returns the
	// raw data points inside the window.
	Frequency time.Duration
	// Resample selects how gaps are filled when Frequency is set: "ffill",
	// "bfill", "linear" or "nearest". Required when resampling hits
	// timestamps that are not present in the data.
	Resample string
}

type zoneSeries struct {
	times  []time.Time
	values []float64
}

// HistoricalSignal serves recorded time-series data, optionally with a
// dedicated forecast series. Zones map to the columns of the source data.
type HistoricalSignal struct {
	fill     FillMethod
	actual   map[string]zoneSeries
	forecast map[string]zoneSeries
}

// NewHistoricalSignal builds a signal from per-zone data points. The points
// of each zone must be strictly increasing in time; duplicate or unordered
// timestamps are a configuration error.
func NewHistoricalSignal(actual map[string][]Point, opts ...Option) (*HistoricalSignal, error) {
	if len(actual) == 0 {
		return nil, errors.New("signal: no zones provided")
	}
	s := &HistoricalSignal{fill: FillForward, actual: make(map[string]zoneSeries, len(actual))}
	for _, o := range opts {
		o(s)
	}
	if s.fill != FillForward && s.fill != FillBackward {
		return nil, fmt.Errorf("signal: unsupported fill method %q", s.fill)
	}
	for zone, pts := range actual {
		series, err := newSeries(zone, pts)
		if err != nil {
			return nil, err
		}
		s.actual[zone] = series
	}
	for zone, pts := range s.forecast {
		series, err := newSeries(zone, timesOf(pts))
		if err != nil {
			return nil, err
		}
		s.forecast[zone] = series
	}
	return s, nil
}

func timesOf(s zoneSeries) []Point {
	pts := make([]Point, len(s.times))
	for i := range s.times {
		pts[i] = Point{Time: s.times[i], Value: s.values[i]}
	}
	return pts
}

// Option configures a HistoricalSignal.
type Option func(*HistoricalSignal)

// WithFill sets the fill method used by At.
func WithFill(m FillMethod) Option {
	return func(s *HistoricalSignal) { s.fill = m }
}

// WithForecast attaches a static forecast series per zone. Forecast queries
// fall back to the actual data for zones without one.
func WithForecast(forecast map[string][]Point) Option {
	return func(s *HistoricalSignal) {
		s.forecast = make(map[string]zoneSeries, len(forecast))
		for zone, pts := range forecast {
			srt := append([]Point(nil), pts...)
			sort.Slice(srt, func(i, j int) bool { return srt[i].Time.Before(srt[j].Time) })
			zs := zoneSeries{}
			for _, p := range srt {
				zs.times = append(zs.times, p.Time)
				zs.values = append(zs.values, p.Value)
			}
			s.forecast[zone] = zs
		}
	}
}

func newSeries(zone string, pts []Point) (zoneSeries, error) {
	if len(pts) == 0 {
		return zoneSeries{}, fmt.Errorf("signal: zone %q has no data", zone)
	}
	s := zoneSeries{
		times:  make([]time.Time, 0, len(pts)),
		values: make([]float64, 0, len(pts)),
	}
	for i, p := range pts {
		if i > 0 {
			prev := s.times[i-1]
			if p.Time.Equal(prev) {
				return zoneSeries{}, fmt.Errorf("signal: zone %q has duplicate timestamp %s", zone, p.Time)
			}
			if p.Time.Before(prev) {
				return zoneSeries{}, fmt.Errorf("signal: zone %q timestamps are not monotonic at %s", zone, p.Time)
			}
		}
		s.times = append(s.times, p.Time)
		s.values = append(s.values, p.Value)
	}
	return s, nil
}

// Zones lists all zones with actual data.
func (s *HistoricalSignal) Zones() []string {
	zones := make([]string, 0, len(s.actual))
	for z := range s.actual {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

func (s *HistoricalSignal) resolveZone(zone string) (string, error) {
	if zone != "" {
		if _, ok := s.actual[zone]; !ok {
			return "", fmt.Errorf("signal: unknown zone %q", zone)
		}
		return zone, nil
	}
	if len(s.actual) == 1 {
		for z := range s.actual {
			return z, nil
		}
	}
	return "", fmt.Errorf("signal: zone must be specified, available: %v", s.Zones())
}

// At returns the value of the zone at time t according to the fill method.
func (s *HistoricalSignal) At(t time.Time, zone string) (float64, error) {
	zone, err := s.resolveZone(zone)
	if err != nil {
		return 0, err
	}
	series := s.actual[zone]
	switch s.fill {
	case FillBackward:
		idx := sort.Search(len(series.times), func(i int) bool {
			return !series.times[i].Before(t)
		})
		if idx >= len(series.times) {
			return 0, fmt.Errorf("%w: %s is after the last data point in zone %q", ErrNoData, t, zone)
		}
		return series.values[idx], nil
	default: // ffill
		idx := sort.Search(len(series.times), func(i int) bool {
			return series.times[i].After(t)
		}) - 1
		if idx < 0 {
			return 0, fmt.Errorf("%w: %s is before the first data point in zone %q", ErrNoData, t, zone)
		}
		return series.values[idx], nil
	}
}

// Forecast returns forecasted data points within (start, end]. If a dedicated
// forecast series was attached it is used, otherwise the actual data serves
// as a static forecast.
func (s *HistoricalSignal) Forecast(start, end time.Time, zone string, opts ForecastOptions) ([]Point, error) {
	zone, err := s.resolveZone(zone)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("signal: forecast window end %s is not after start %s", end, start)
	}
	series, ok := s.forecast[zone]
	if !ok {
		series = s.actual[zone]
	}
	if opts.Frequency <= 0 {
		var pts []Point
		for i, ts := range series.times {
			if ts.After(start) && !ts.After(end) {
				pts = append(pts, Point{Time: ts, Value: series.values[i]})
			}
		}
		return pts, nil
	}
	return s.resample(series, zone, start, end, opts)
}

func (s *HistoricalSignal) resample(series zoneSeries, zone string, start, end time.Time, opts ForecastOptions) ([]Point, error) {
	var pts []Point
	for ts := start.Add(opts.Frequency); !ts.After(end); ts = ts.Add(opts.Frequency) {
		// Exact hits need no resample method.
		if idx := indexOf(series.times, ts); idx >= 0 {
			pts = append(pts, Point{Time: ts, Value: series.values[idx]})
			continue
		}
		v, err := s.interpolate(series, zone, start, ts, opts.Resample)
		if err != nil {
			return nil, err
		}
		pts = append(pts, Point{Time: ts, Value: v})
	}
	return pts, nil
}

func (s *HistoricalSignal) interpolate(series zoneSeries, zone string, start, ts time.Time, method string) (float64, error) {
	before := sort.Search(len(series.times), func(i int) bool {
		return series.times[i].After(ts)
	}) - 1
	after := before + 1
	switch method {
	case "ffill":
		if before >= 0 && series.times[before].After(start) {
			return series.values[before], nil
		}
		// Fall back to the actual value valid at the window start.
		return s.At(start, zone)
	case "bfill":
		if after < len(series.times) {
			return series.values[after], nil
		}
		return 0, fmt.Errorf("%w: cannot backward-fill forecast at %s in zone %q", ErrNoData, ts, zone)
	case "linear", "nearest":
		bt, bv, err := s.lowerBound(series, zone, start, before)
		if err != nil {
			return 0, err
		}
		if after >= len(series.times) {
			return 0, fmt.Errorf("%w: no forecast data after %s in zone %q", ErrNoData, ts, zone)
		}
		at, av := series.times[after], series.values[after]
		if method == "nearest" {
			if ts.Sub(bt) <= at.Sub(ts) {
				return bv, nil
			}
			return av, nil
		}
		frac := float64(ts.Sub(bt)) / float64(at.Sub(bt))
		return bv + (av-bv)*frac, nil
	case "":
		return 0, fmt.Errorf("signal: no data point at %s in zone %q and no resample method set", ts, zone)
	default:
		return 0, fmt.Errorf("signal: unsupported resample method %q", method)
	}
}

func (s *HistoricalSignal) lowerBound(series zoneSeries, zone string, start time.Time, before int) (time.Time, float64, error) {
	if before >= 0 && series.times[before].After(start) {
		return series.times[before], series.values[before], nil
	}
	v, err := s.At(start, zone)
	if err != nil {
		return time.Time{}, 0, err
	}
	return start, v, nil
}

func indexOf(times []time.Time, t time.Time) int {
	idx := sort.Search(len(times), func(i int) bool { return !times[i].Before(t) })
	if idx < len(times) && times[idx].Equal(t) {
		return idx
	}
	return -1
}

// MockSignal returns a settable static value, useful for tests and scripted
// scenarios.
type MockSignal struct {
	mu    sync.RWMutex
	value float64
}

// NewMockSignal creates a MockSignal with the given initial value.
func NewMockSignal(value float64) *MockSignal {
	return &MockSignal{value: value}
}

// Set replaces the signal value.
func (m *MockSignal) Set(value float64) {
	m.mu.Lock()
	m.value = value
	m.mu.Unlock()
}

// At returns the current static value regardless of time or zone.
func (m *MockSignal) At(time.Time, string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, nil
}
