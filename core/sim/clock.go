package sim

import "time"

// Clock maps simulated seconds onto wall timestamps from a fixed start.
type Clock struct {
	start time.Time
}

// NewClock creates a clock starting at the given wall time.
func NewClock(start time.Time) Clock {
	return Clock{start: start.UTC()}
}

// ToTime converts simulated seconds into a timestamp.
func (c Clock) ToTime(simSeconds int64) time.Time {
	return c.start.Add(time.Duration(simSeconds) * time.Second)
}

// ToSim converts a timestamp into simulated seconds.
func (c Clock) ToSim(t time.Time) int64 {
	return int64(t.Sub(c.start) / time.Second)
}

// Start returns the simulation start time.
func (c Clock) Start() time.Time { return c.start }
