// Package sil bridges a running simulation to live external software over
// HTTP. The Broker is the only state shared between the single-threaded step
// loop and the network-facing goroutines.
package sil

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event keys understood by the built-in collectors.
const (
	KeyBatteryMinSoC     = "battery_min_soc"
	KeyBatteryGridCharge = "battery_grid_charge"
	KeyNodesPowerMode    = "nodes_power_mode"
)

// ErrClosed is returned for writes after the broker shut down.
var ErrClosed = errors.New("sil: broker closed")

// ErrFull is returned when the event buffer is saturated. The channel is
// best-effort; callers surface the rejection to the external writer.
var ErrFull = errors.New("sil: event buffer full")

// Event is one external write command. Events are never mutated after
// append; the timestamp is assigned at write time and drives last-write-wins
// reconciliation.
type Event struct {
	ID    uuid.UUID `json:"id"`
	Key   string    `json:"key"`
	Value any       `json:"value"`
	Time  time.Time `json:"time"`
}

// Snapshot is the read-only view of the microgrid state published once per
// step for external GET queries.
type Snapshot struct {
	Time        time.Time          `json:"time"`
	PDelta      float64            `json:"p_delta"`
	GridPower   float64            `json:"grid_power"`
	BatterySoC  float64            `json:"battery_soc"`
	ActorPowers map[string]float64 `json:"actor_powers"`
	// Signals carries zone signal values such as "solar" and "ci".
	Signals map[string]float64 `json:"signals"`
}

// Broker decouples the simulation step from external readers and writers.
// The snapshot is replaced atomically; readers see either the old or the new
// view, never a torn one. Writes accumulate in a bounded event log that the
// simulation side drains once per step, applying only the chronologically
// latest entry per key.
type Broker struct {
	mu     sync.RWMutex
	snap   *Snapshot
	events chan Event
	closed bool
}

// NewBroker creates a broker with the given event buffer size (0 picks a
// default of 1024).
func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Broker{events: make(chan Event, bufSize)}
}

// Publish atomically replaces the snapshot.
func (b *Broker) Publish(s Snapshot) {
	b.mu.Lock()
	b.snap = &s
	b.mu.Unlock()
}

// Snapshot returns the latest published view. ok is false before the first
// publish.
func (b *Broker) Snapshot() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.snap == nil {
		return Snapshot{}, false
	}
	return *b.snap, true
}

// PutEvent appends a write command under the given key, stamped with the
// current wall-clock time.
func (b *Broker) PutEvent(key string, value any) error {
	return b.put(Event{ID: uuid.New(), Key: key, Value: value, Time: time.Now()})
}

func (b *Broker) put(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.events <- e:
		return nil
	default:
		return ErrFull
	}
}

// Drain empties the event log and returns the pending entries grouped by
// key, in arrival order. An empty map means no parameter changes.
func (b *Broker) Drain() map[string][]Event {
	out := map[string][]Event{}
	for {
		select {
		case e := <-b.events:
			out[e.Key] = append(out[e.Key], e)
		default:
			return out
		}
	}
}

// Close stops accepting writes. Pending events remain drainable.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Latest selects the entry with the newest timestamp. Arrival order breaks
// ties but must not otherwise affect the outcome (last-write-wins).
func Latest(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	latest := events[0]
	for _, e := range events[1:] {
		if !e.Time.Before(latest.Time) {
			latest = e
		}
	}
	return latest, true
}
