package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoware/microsim/api"
	"github.com/ecoware/microsim/config"
	"github.com/ecoware/microsim/core/actor"
	"github.com/ecoware/microsim/core/controller"
	"github.com/ecoware/microsim/core/logger"
	coremetrics "github.com/ecoware/microsim/core/metrics"
	"github.com/ecoware/microsim/core/microgrid"
	"github.com/ecoware/microsim/core/signal"
	"github.com/ecoware/microsim/core/sim"
	"github.com/ecoware/microsim/core/storage"
	infralogger "github.com/ecoware/microsim/infra/logger"
	"github.com/ecoware/microsim/infra/metrics"
	"github.com/ecoware/microsim/sil"
)

// Service owns a fully wired simulation: microgrid, controllers, engine and
// metrics sinks.
type Service struct {
	Engine  *sim.Engine
	Monitor *controller.Monitor

	cfg         *config.Config
	sink        coremetrics.Sink
	httpMeters  []*actor.HTTPPowerMeter
	log         logger.Logger
	promEnabled bool
	promPort    string
}

// New builds a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := infralogger.New("service")

	signals, err := loadSignals(cfg.Signals)
	if err != nil {
		return nil, err
	}

	actors, mocks, httpMeters, err := buildActors(cfg.Actors, signals, logg)
	if err != nil {
		return nil, err
	}

	store, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	policy := storage.NewDefaultPolicy()
	if cfg.Policy.GridPower != nil {
		policy.SetGridPower(*cfg.Policy.GridPower)
	}

	mg, err := microgrid.New(actors, store, policy)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:         cfg,
		httpMeters:  httpMeters,
		log:         logg,
		sink:        coremetrics.NopSink{},
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}

	controllers, err := svc.buildControllers(cfg, signals, mocks)
	if err != nil {
		return nil, err
	}

	if err := svc.buildSink(cfg.Metrics); err != nil {
		return nil, err
	}

	clock := sim.NewClock(cfg.Simulation.StartTime())
	engine, err := sim.New(sim.Config{
		StepSize: time.Duration(cfg.Simulation.StepSeconds) * time.Second,
		RTFactor: cfg.Simulation.RTFactor,
	}, clock, mg, controllers, infralogger.New("engine"))
	if err != nil {
		return nil, err
	}
	svc.Engine = engine
	return svc, nil
}

func loadSignals(cfgs map[string]config.SignalConfig) (map[string]signal.Signal, error) {
	signals := make(map[string]signal.Signal, len(cfgs))
	for name, sc := range cfgs {
		sig, err := signal.FromCSV(sc.Path, signal.CSVConfig{
			Unit:       sc.Unit,
			TimeLayout: sc.TimeLayout,
			Fill:       signal.FillMethod(sc.Fill),
			Zone:       sc.Zone,
		})
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", name, err)
		}
		signals[name] = sig
	}
	return signals, nil
}

func buildActors(
	cfgs []config.ActorConfig,
	signals map[string]signal.Signal,
	logg logger.Logger,
) ([]actor.Actor, map[string]*actor.MockPowerMeter, []*actor.HTTPPowerMeter, error) {
	var actors []actor.Actor
	mocks := make(map[string]*actor.MockPowerMeter)
	var polled []*actor.HTTPPowerMeter
	for _, ac := range cfgs {
		switch ac.Type {
		case "generator":
			gen, err := actor.NewGenerator(ac.Name, signals[ac.Signal], ac.Zone)
			if err != nil {
				return nil, nil, nil, err
			}
			actors = append(actors, gen)
		case "computing_system":
			var meters []actor.PowerMeter
			for _, mc := range ac.Meters {
				if mc.Address != "" {
					m, err := actor.NewHTTPPowerMeter(mc.Name, mc.Address,
						time.Duration(mc.PollSeconds)*time.Second, logg)
					if err != nil {
						return nil, nil, nil, err
					}
					meters = append(meters, m)
					polled = append(polled, m)
					continue
				}
				m, err := actor.NewMockPowerMeter(mc.Name, mc.Power)
				if err != nil {
					return nil, nil, nil, err
				}
				meters = append(meters, m)
				mocks[mc.Name] = m
			}
			sys, err := actor.NewComputingSystem(ac.Name, ac.PUE, meters...)
			if err != nil {
				return nil, nil, nil, err
			}
			actors = append(actors, sys)
		}
	}
	return actors, mocks, polled, nil
}

func buildStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "simple":
		return storage.NewSimpleBattery(cfg.Simple)
	case "nonlinear":
		return storage.NewNonlinearBattery(cfg.Nonlinear)
	}
	return nil, fmt.Errorf("storage type %q unknown", cfg.Type)
}

func (s *Service) buildControllers(
	cfg *config.Config,
	signals map[string]signal.Signal,
	mocks map[string]*actor.MockPowerMeter,
) ([]controller.Controller, error) {
	var controllers []controller.Controller

	if cfg.Controllers.Monitor.Enabled {
		mon := controller.NewMonitor(time.Duration(cfg.Controllers.Monitor.StepSeconds) * time.Second)
		for _, ps := range cfg.Controllers.Monitor.Signals {
			mon.AddSignal(ps.Name, signals[ps.Signal], ps.Zone)
		}
		s.Monitor = mon
		controllers = append(controllers, mon)
	}

	if cfg.Controllers.CarbonAware.Enabled {
		ca := cfg.Controllers.CarbonAware
		meters := make(map[string]*actor.MockPowerMeter, len(ca.Nodes))
		modeWatts := make(map[string]map[controller.PowerMode]float64, len(ca.Nodes))
		for node, table := range ca.Nodes {
			m, ok := mocks[node]
			if !ok {
				return nil, fmt.Errorf("carbon_aware node %q has no mock power meter", node)
			}
			meters[node] = m
			watts := make(map[controller.PowerMode]float64, len(table))
			for mode, p := range table {
				watts[controller.PowerMode(mode)] = p
			}
			modeWatts[node] = watts
		}
		ctrl, err := controller.NewCarbonAwareController(
			time.Duration(ca.StepSeconds)*time.Second,
			signals[ca.Signal], ca.Zone, meters, modeWatts,
		)
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, ctrl)
	}

	if cfg.Controllers.SiL.Enabled {
		sc := cfg.Controllers.SiL
		broker := sil.NewBroker(sc.EventBuffer)
		server := api.NewServer(sc.Addr, broker, infralogger.New("api"))
		var nodes []*sil.ComputeNode
		for _, nc := range sc.Nodes {
			n, err := sil.NewComputeNode(nc.Name, nc.Address)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		var zoneSignals []sil.ZoneSignal
		for _, ps := range sc.Signals {
			zoneSignals = append(zoneSignals, sil.ZoneSignal{
				Name:   ps.Name,
				Signal: signals[ps.Signal],
				Zone:   ps.Zone,
			})
		}
		ctrl, err := sil.NewController(sil.Config{
			StepSize:      time.Duration(sc.StepSeconds) * time.Second,
			NotifyTimeout: time.Duration(sc.NotifyTimeoutSeconds) * time.Second,
			EventBuffer:   sc.EventBuffer,
		}, broker, server, nodes, zoneSignals, infralogger.New("sil"))
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, ctrl)
	}

	return controllers, nil
}

func (s *Service) buildSink(cfg coremetrics.Config) error {
	var sinks []coremetrics.Sink
	if cfg.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket))
	}
	switch len(sinks) {
	case 0:
	case 1:
		s.sink = sinks[0]
	default:
		s.sink = metrics.NewMultiSink(sinks...)
	}
	return nil
}

// Run executes the simulation until the configured duration elapses or ctx is
// cancelled. It returns once all controllers have finalized.
func (s *Service) Run(ctx context.Context) error {
	for _, m := range s.httpMeters {
		m.Start(ctx)
	}
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	states := s.Engine.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for state := range states {
			if err := s.sink.RecordStep(stepMetrics(state)); err != nil {
				s.log.Warnf("metrics sink: %v", err)
			}
		}
	}()

	until := time.Duration(s.cfg.Simulation.DurationSeconds) * time.Second
	err := s.Engine.Run(ctx, until)
	<-done

	if s.Monitor != nil && s.cfg.Controllers.Monitor.CSVPath != "" {
		if werr := s.Monitor.WriteCSV(s.cfg.Controllers.Monitor.CSVPath); werr != nil {
			s.log.Errorf("write monitor csv: %v", werr)
		} else {
			s.log.Infof("wrote %d rows to %s", s.Monitor.Len(), s.cfg.Controllers.Monitor.CSVPath)
		}
	}
	return err
}

// Close releases the metrics sink.
func (s *Service) Close() error { return s.sink.Close() }

func stepMetrics(state microgrid.State) coremetrics.StepMetrics {
	powers := make(map[string]float64, len(state.Readings))
	for _, r := range state.Readings {
		powers[r.Name] = r.Power
	}
	return coremetrics.StepMetrics{
		Time:        state.Time,
		PDelta:      state.PDelta,
		GridPower:   state.GridPower,
		BatterySoC:  state.StorageState.SoC(),
		ActorPowers: powers,
	}
}
