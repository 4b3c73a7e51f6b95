// Package microgrid computes the per-step power balance of a set of actors,
// one storage device and a storage policy.
//
// Sign convention, applied uniformly across the module: production is
// positive and consumption is negative, so the aggregate power delta is a
// surplus when positive and a deficit when negative. Positive grid power
// feeds into the public grid, negative grid power draws from it.
package microgrid

import (
	"fmt"
	"time"

	"github.com/ecoware/microsim/core/actor"
	"github.com/ecoware/microsim/core/storage"
)

// ActorReading is the power of one actor at the current step.
type ActorReading struct {
	Name  string  `json:"name"`
	Power float64 `json:"p"`
}

// State is the immutable snapshot produced by one microgrid step. It is
// created fresh every step, handed to controllers, and then superseded; no
// history is retained by the core.
type State struct {
	Time         time.Time      `json:"time"`
	Readings     []ActorReading `json:"actor_readings"`
	PDelta       float64        `json:"p_delta"`
	StorageState storage.State  `json:"storage_state"`
	GridPower    float64        `json:"grid_power"`
}

// Reading returns the power of the named actor.
func (s State) Reading(name string) (float64, bool) {
	for _, r := range s.Readings {
		if r.Name == name {
			return r.Power, true
		}
	}
	return 0, false
}

// Microgrid composes actors, storage and a policy into a steppable power
// balance.
type Microgrid struct {
	actors  []actor.Actor
	storage storage.Storage
	policy  storage.Policy
}

// New validates the composition. Storage may be nil (the power delta passes
// through to the grid); a nil policy defaults to storage.DefaultPolicy.
// Actor names must be unique.
func New(actors []actor.Actor, store storage.Storage, policy storage.Policy) (*Microgrid, error) {
	if len(actors) == 0 {
		return nil, fmt.Errorf("microgrid: at least one actor is required")
	}
	seen := make(map[string]struct{}, len(actors))
	for _, a := range actors {
		if _, dup := seen[a.Name()]; dup {
			return nil, fmt.Errorf("microgrid: duplicate actor name %q", a.Name())
		}
		seen[a.Name()] = struct{}{}
	}
	if policy == nil {
		policy = storage.NewDefaultPolicy()
	}
	return &Microgrid{actors: actors, storage: store, policy: policy}, nil
}

// Storage returns the composed storage device, or nil.
func (m *Microgrid) Storage() storage.Storage { return m.storage }

// Policy returns the composed storage policy.
func (m *Microgrid) Policy() storage.Policy { return m.policy }

// Actors returns the composed actors in registration order.
func (m *Microgrid) Actors() []actor.Actor { return m.actors }

// Step advances the microgrid by duration seconds ending at time t and
// returns the resulting snapshot. Given identical actor signals and an
// identical prior storage state the result is reproducible bit for bit. A
// failing actor lookup aborts the step.
func (m *Microgrid) Step(t time.Time, duration float64) (State, error) {
	readings := make([]ActorReading, 0, len(m.actors))
	var pDelta float64
	for _, a := range m.actors {
		p, err := a.Power(t)
		if err != nil {
			return State{}, fmt.Errorf("microgrid: step at %s: %w", t, err)
		}
		readings = append(readings, ActorReading{Name: a.Name(), Power: p})
		pDelta += p
	}

	gridPower := pDelta
	var storageState storage.State
	if m.storage != nil {
		var err error
		gridPower, err = m.policy.Apply(pDelta, m.storage, duration)
		if err != nil {
			return State{}, fmt.Errorf("microgrid: step at %s: %w", t, err)
		}
		storageState = m.storage.State()
	}

	return State{
		Time:         t,
		Readings:     readings,
		PDelta:       pDelta,
		StorageState: storageState,
		GridPower:    gridPower,
	}, nil
}
