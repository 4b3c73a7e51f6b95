package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockRoundTrip(t *testing.T) {
	start := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)

	assert.Equal(t, start, c.Start())
	assert.Equal(t, start.Add(90*time.Second), c.ToTime(90))
	assert.Equal(t, int64(90), c.ToSim(start.Add(90*time.Second)))
	assert.Equal(t, int64(-60), c.ToSim(start.Add(-time.Minute)))
}

func TestClockNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	c := NewClock(time.Date(2020, 6, 1, 1, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), c.Start())
}
