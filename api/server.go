// Package api exposes the SiL broker over HTTP. Handlers contain no
// simulation logic: reads serve the broker's latest snapshot, writes are
// validated and appended to its event log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ecoware/microsim/core/controller"
	"github.com/ecoware/microsim/core/logger"
	"github.com/ecoware/microsim/sil"
)

// Server runs the HTTP endpoint surface as an independent concurrent unit so
// that slow or stalled peers cannot stall simulation progress.
type Server struct {
	broker *sil.Broker
	log    logger.Logger
	srv    *http.Server
}

// NewServer builds the server on the given listen address.
func NewServer(addr string, broker *sil.Broker, log logger.Logger) *Server {
	s := &Server{broker: broker, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /solar", s.handleSignal("solar"))
	mux.HandleFunc("GET /ci", s.handleSignal("ci"))
	mux.HandleFunc("GET /battery-soc", s.handleScalar(func(snap sil.Snapshot) float64 { return snap.BatterySoC }))
	mux.HandleFunc("GET /grid-power", s.handleScalar(func(snap sil.Snapshot) float64 { return snap.GridPower }))
	mux.HandleFunc("PUT /battery", s.handlePutBattery)
	mux.HandleFunc("PUT /nodes/{id}", s.handlePutNode)
	mux.HandleFunc("GET /sim/collect-set", s.handleCollectSet)
	s.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Infof("api listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleSignal(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := s.broker.Snapshot()
		if !ok {
			http.Error(w, "no snapshot published yet", http.StatusNotFound)
			return
		}
		v, ok := snap.Signals[name]
		if !ok {
			http.Error(w, fmt.Sprintf("signal %q not published", name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{name: v})
	}
}

func (s *Server) handleScalar(pick func(sil.Snapshot) float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := s.broker.Snapshot()
		if !ok {
			http.Error(w, "no snapshot published yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, pick(snap))
	}
}

type batteryPayload struct {
	MinSoC     *float64 `json:"min_soc"`
	GridCharge *float64 `json:"grid_charge"`
}

func (s *Server) handlePutBattery(w http.ResponseWriter, r *http.Request) {
	var body batteryPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.MinSoC == nil || body.GridCharge == nil {
		http.Error(w, "min_soc and grid_charge are required", http.StatusUnprocessableEntity)
		return
	}
	if *body.MinSoC < 0 || *body.MinSoC > 1 {
		http.Error(w, "min_soc must be in [0,1]", http.StatusUnprocessableEntity)
		return
	}
	if err := s.broker.PutEvent(sil.KeyBatteryMinSoC, *body.MinSoC); err != nil {
		s.rejectWrite(w, err)
		return
	}
	if err := s.broker.PutEvent(sil.KeyBatteryGridCharge, *body.GridCharge); err != nil {
		s.rejectWrite(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type nodePayload struct {
	PowerMode string `json:"power_mode"`
}

func (s *Server) handlePutNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body nodePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !controller.ValidPowerMode(body.PowerMode) {
		msg := fmt.Sprintf("%q is not a valid power mode, available: %v", body.PowerMode, controller.PowerModes())
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	key := sil.KeyNodesPowerMode + "/" + id
	if err := s.broker.PutEvent(key, body.PowerMode); err != nil {
		s.rejectWrite(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handleCollectSet returns and atomically clears all pending per-key event
// logs, letting an external orchestrator drain in a pull style.
func (s *Server) handleCollectSet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Drain())
}

func (s *Server) rejectWrite(w http.ResponseWriter, err error) {
	s.log.Warnf("rejecting external write: %v", err)
	http.Error(w, err.Error(), http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
