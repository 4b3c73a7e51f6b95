package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ecoware/microsim/core/logger"
)

// PowerMeter measures the power demand of one node. Readings are always
// non-negative; the owning actor applies the sign convention.
type PowerMeter interface {
	Name() string
	Measure(t time.Time) (float64, error)
}

// MockPowerMeter reports a settable constant power demand.
type MockPowerMeter struct {
	mu   sync.RWMutex
	name string
	p    float64
}

// NewMockPowerMeter rejects negative demand values.
func NewMockPowerMeter(name string, p float64) (*MockPowerMeter, error) {
	if name == "" {
		return nil, fmt.Errorf("actor: power meter name must not be empty")
	}
	if p < 0 {
		return nil, fmt.Errorf("actor: meter %q: power must not be negative, got %g", name, p)
	}
	return &MockPowerMeter{name: name, p: p}, nil
}

// Name implements PowerMeter.
func (m *MockPowerMeter) Name() string { return m.name }

// Measure implements PowerMeter.
func (m *MockPowerMeter) Measure(time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p, nil
}

// SetPower updates the reported demand.
func (m *MockPowerMeter) SetPower(p float64) error {
	if p < 0 {
		return fmt.Errorf("actor: meter %q: power must not be negative, got %g", m.name, p)
	}
	m.mu.Lock()
	m.p = p
	m.mu.Unlock()
	return nil
}

// HTTPPowerMeter polls a remote node's power endpoint in the background and
// serves the last known reading to the step loop. Poll failures are logged
// and the previous reading is kept; only a meter that never produced a
// reading fails a Measure call.
type HTTPPowerMeter struct {
	name     string
	url      string
	interval time.Duration
	client   *http.Client
	log      logger.Logger

	mu    sync.RWMutex
	last  float64
	valid bool
}

// NewHTTPPowerMeter builds a meter polling address/power every interval.
func NewHTTPPowerMeter(name, address string, interval time.Duration, log logger.Logger) (*HTTPPowerMeter, error) {
	if name == "" {
		return nil, fmt.Errorf("actor: power meter name must not be empty")
	}
	if address == "" {
		return nil, fmt.Errorf("actor: meter %q: address must not be empty", name)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &HTTPPowerMeter{
		name:     name,
		url:      address + "/power",
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}, nil
}

// Name implements PowerMeter.
func (m *HTTPPowerMeter) Name() string { return m.name }

// Start launches the poll loop. It returns once the loop is running and
// stops when ctx is cancelled.
func (m *HTTPPowerMeter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.poll(ctx)
			}
		}
	}()
}

func (m *HTTPPowerMeter) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		m.log.Errorf("meter %s: build request: %v", m.name, err)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warnf("meter %s: poll failed, keeping last reading: %v", m.name, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.log.Warnf("meter %s: poll returned status %d", m.name, resp.StatusCode)
		return
	}
	var body struct {
		Power float64 `json:"power"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		m.log.Warnf("meter %s: decode reading: %v", m.name, err)
		return
	}
	if body.Power < 0 {
		m.log.Warnf("meter %s: dropping negative reading %g", m.name, body.Power)
		return
	}
	m.mu.Lock()
	m.last = body.Power
	m.valid = true
	m.mu.Unlock()
}

// Measure implements PowerMeter.
func (m *HTTPPowerMeter) Measure(time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.valid {
		return 0, fmt.Errorf("actor: meter %q has no reading yet", m.name)
	}
	return m.last, nil
}
