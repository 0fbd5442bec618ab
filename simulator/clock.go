package simulator

import (
	"sync"
	"time"
)

// simClock tracks simulated time alongside real elapsed time. In real-time
// mode simulated time follows the wall clock from the configured start. In
// fast-forward mode simulated time only moves when the scheduler advances it
// to the next fire time, so a long window replays in however long the
// dispatches take.
type simClock struct {
	mu          sync.Mutex
	fastForward bool
	simStart    time.Time
	simNow      time.Time
	realStart   time.Time
}

func newSimClock(start time.Time, fastForward bool) *simClock {
	return &simClock{
		fastForward: fastForward,
		simStart:    start,
		simNow:      start,
		realStart:   time.Now(),
	}
}

// Now returns the current simulated time.
func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fastForward {
		return c.simNow
	}
	return c.simStart.Add(time.Since(c.realStart))
}

// Advance moves simulated time forward to t. Ignored in real-time mode and
// for times behind the current reading, so callers never rewind the clock.
func (c *simClock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fastForward {
		return
	}
	if t.After(c.simNow) {
		c.simNow = t
	}
}

// SimulatedElapsed returns how far simulated time has progressed from the
// start of the run.
func (c *simClock) SimulatedElapsed() time.Duration {
	return c.Now().Sub(c.simStart)
}

// RealElapsed returns wall-clock time since the run started.
func (c *simClock) RealElapsed() time.Duration {
	return time.Since(c.realStart)
}
