// Package ratelimit provides a lightweight gate for enforcing a minimum
// interval between successful sink refreshes.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Gate allows an action at most once per interval, measured from the last
// recorded success. It is safe for concurrent use.
type Gate struct {
	interval    time.Duration
	lastSuccess int64 // unix nanos, accessed atomically
}

// NewGate constructs a Gate with the given minimum interval. A zero or
// negative interval disables throttling (always allows).
func NewGate(interval time.Duration) Gate {
	return Gate{interval: interval}
}

// Allow reports whether enough time has passed since the last success.
func (g *Gate) Allow(now time.Time) bool {
	if g == nil {
		return false
	}
	if g.interval <= 0 {
		return true
	}
	last := atomic.LoadInt64(&g.lastSuccess)
	return now.UnixNano()-last >= g.interval.Nanoseconds()
}

// MarkSuccess records a completed action; the gate stays shut until the
// interval elapses again.
func (g *Gate) MarkSuccess(now time.Time) {
	if g == nil {
		return
	}
	atomic.StoreInt64(&g.lastSuccess, now.UnixNano())
}
