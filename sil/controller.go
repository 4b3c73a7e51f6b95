package sil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ecoware/microsim/core/controller"
	"github.com/ecoware/microsim/core/logger"
	"github.com/ecoware/microsim/core/microgrid"
	"github.com/ecoware/microsim/core/signal"
	"github.com/ecoware/microsim/core/storage"
)

// APIServer is the network-facing process serving reads from the broker
// snapshot and appending writes to its event log. It contains no simulation
// logic.
type APIServer interface {
	// Start serves until Shutdown and returns the terminal error.
	Start() error
	Shutdown(ctx context.Context) error
}

// Collector applies the drained events of one category to the simulation.
// The subkey is the part of the event key after the category, e.g. the node
// id for per-node writes.
type Collector func(c *Controller, subkey string, events []Event) error

// ZoneSignal names a grid signal published in the snapshot.
type ZoneSignal struct {
	Name   string
	Signal signal.Signal
	Zone   string
}

// Config parameterizes the SiL controller.
type Config struct {
	// StepSize is the controller cadence; zero adopts the engine interval.
	StepSize time.Duration
	// NotifyTimeout bounds each fire-and-forget node notification and the
	// final wait for in-flight ones. Defaults to 5s.
	NotifyTimeout time.Duration
	// EventBuffer sizes the broker's event log.
	EventBuffer int
}

// Controller bridges a running microgrid to live external software. It
// publishes a fresh snapshot after every step and drains accumulated external
// write events, applying the chronologically latest value per key before the
// next step.
type Controller struct {
	cfg        Config
	broker     *Broker
	server     APIServer
	collectors map[string]Collector
	nodes      map[string]*ComputeNode
	signals    []ZoneSignal
	log        logger.Logger

	mg       *microgrid.Microgrid
	policy   *storage.DefaultPolicy
	notifyWG sync.WaitGroup
	draining bool
}

// NewController builds a SiL controller around the given broker. Collectors
// default to the built-in battery and node collectors.
func NewController(cfg Config, broker *Broker, server APIServer, nodes []*ComputeNode, signals []ZoneSignal, log logger.Logger) (*Controller, error) {
	if broker == nil {
		return nil, fmt.Errorf("sil: broker is required")
	}
	if server == nil {
		return nil, fmt.Errorf("sil: api server is required")
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	nodeMap := make(map[string]*ComputeNode, len(nodes))
	for _, n := range nodes {
		if _, dup := nodeMap[n.Name()]; dup {
			return nil, fmt.Errorf("sil: duplicate node %q", n.Name())
		}
		nodeMap[n.Name()] = n
	}
	c := &Controller{
		cfg:      cfg,
		broker:   broker,
		server:   server,
		nodes:    nodeMap,
		signals:  signals,
		log:      log,
		draining: true,
	}
	c.collectors = map[string]Collector{
		KeyBatteryMinSoC:     collectMinSoC,
		KeyBatteryGridCharge: collectGridCharge,
		KeyNodesPowerMode:    collectNodePowerMode,
	}
	return c, nil
}

// SetCollector overrides or adds the collector for a category.
func (c *Controller) SetCollector(category string, fn Collector) {
	c.collectors[category] = fn
}

// Broker returns the shared broker.
func (c *Controller) Broker() *Broker { return c.broker }

// StepSize implements controller.Controller.
func (c *Controller) StepSize() time.Duration { return c.cfg.StepSize }

// Init captures the microgrid and starts the API server in its own
// goroutine so slow HTTP peers can never stall the step loop.
func (c *Controller) Init(mg *microgrid.Microgrid) error {
	c.mg = mg
	if p, ok := mg.Policy().(*storage.DefaultPolicy); ok {
		c.policy = p
	}
	go func() {
		if err := c.server.Start(); err != nil {
			c.log.Errorf("api server: %v", err)
		}
	}()
	return nil
}

// Step publishes the latest snapshot and reconciles pending external writes.
func (c *Controller) Step(t time.Time, state microgrid.State) error {
	snap := Snapshot{
		Time:        t,
		PDelta:      state.PDelta,
		GridPower:   state.GridPower,
		BatterySoC:  state.StorageState.SoC(),
		ActorPowers: make(map[string]float64, len(state.Readings)),
		Signals:     make(map[string]float64, len(c.signals)),
	}
	for _, r := range state.Readings {
		snap.ActorPowers[r.Name] = r.Power
	}
	for _, zs := range c.signals {
		v, err := zs.Signal.At(t, zs.Zone)
		if err != nil {
			return fmt.Errorf("sil: snapshot signal %q: %w", zs.Name, err)
		}
		snap.Signals[zs.Name] = v
	}
	c.broker.Publish(snap)

	if !c.draining {
		return nil
	}
	for key, events := range c.broker.Drain() {
		category, subkey := splitKey(key)
		fn, ok := c.collectors[category]
		if !ok {
			c.log.Warnf("no collector for event category %q, dropping %d event(s)", category, len(events))
			continue
		}
		if err := fn(c, subkey, events); err != nil {
			return fmt.Errorf("sil: collect %q: %w", key, err)
		}
	}
	return nil
}

// Finalize tears the controller down in order: stop accepting external
// writes, stop draining, await in-flight notifications (bounded), then shut
// down the network service.
func (c *Controller) Finalize(ctx context.Context) error {
	c.broker.Close()
	c.draining = false

	done := make(chan struct{})
	go func() {
		c.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warnf("shutdown: abandoning in-flight node notifications")
	case <-time.After(c.cfg.NotifyTimeout):
		c.log.Warnf("shutdown: abandoning in-flight node notifications after %s", c.cfg.NotifyTimeout)
	}
	return c.server.Shutdown(ctx)
}

// notify pushes the node's mode from a short-lived task. Failures are logged,
// never propagated: the simulation proceeds with the previous actuator state
// on the remote side.
func (c *Controller) notify(n *ComputeNode) {
	c.notifyWG.Add(1)
	go func() {
		defer c.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotifyTimeout)
		defer cancel()
		if err := n.Notify(ctx); err != nil {
			c.log.Errorf("node notification failed: %v", err)
		}
	}()
}

func splitKey(key string) (category, subkey string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func collectMinSoC(c *Controller, _ string, events []Event) error {
	e, ok := Latest(events)
	if !ok {
		return nil
	}
	v, err := toFloat(e.Value)
	if err != nil {
		return err
	}
	if c.mg.Storage() == nil {
		return fmt.Errorf("no storage configured")
	}
	c.log.Infof("applying battery min_soc=%g from event %s", v, e.ID)
	return c.mg.Storage().SetMinSoC(v)
}

func collectGridCharge(c *Controller, _ string, events []Event) error {
	e, ok := Latest(events)
	if !ok {
		return nil
	}
	v, err := toFloat(e.Value)
	if err != nil {
		return err
	}
	if c.policy == nil {
		return fmt.Errorf("no default storage policy configured")
	}
	// Grid charge draws from the grid, hence a negative grid power override.
	c.log.Infof("applying battery grid_charge=%g from event %s", v, e.ID)
	c.policy.SetGridPower(-v)
	return nil
}

func collectNodePowerMode(c *Controller, node string, events []Event) error {
	e, ok := Latest(events)
	if !ok {
		return nil
	}
	mode, okStr := e.Value.(string)
	if !okStr || !controller.ValidPowerMode(mode) {
		return fmt.Errorf("invalid power mode %v", e.Value)
	}
	n, okNode := c.nodes[node]
	if !okNode {
		c.log.Warnf("power mode event for unknown node %q", node)
		return nil
	}
	if n.SetMode(controller.PowerMode(mode)) {
		c.log.Infof("node %s switching to %s", node, mode)
		c.notify(n)
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", v)
	}
}
