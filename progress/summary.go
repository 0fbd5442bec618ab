// Package progress derives display-ready summaries from the engine's
// progress snapshots. The summary is recomputed in full on every tick; only
// the sink status fields carry over from the previous tick.
package progress

import (
	"math"
	"time"

	"devsim/simulator"
)

// Sink status values shared by the console renderer and the sink
// synchronizers.
const (
	StatusIdle         = "idle"
	StatusOngoing      = "ongoing"
	StatusComplete     = "complete"
	StatusError        = "error"
	StatusNotSupported = "not supported"
)

// Ratio is a percentage that may be not-applicable (when the denominator was
// zero). It marshals as a number or as "N/A", never as NaN.
type Ratio struct {
	Value float64
	Valid bool
}

// MarshalJSON renders the percentage rounded to two decimals, or "N/A".
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte(`"N/A"`), nil
	}
	return json.Marshal(round2(r.Value))
}

// Millis is a duration that marshals as whole milliseconds, so every
// duration field in the summary JSON shares one unit.
type Millis time.Duration

// MarshalJSON renders the duration in milliseconds.
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

// Pending is a duration that may be not-applicable (no window end).
type Pending struct {
	Duration time.Duration
	Valid    bool
}

// MarshalJSON renders the duration in milliseconds, or "N/A".
func (p Pending) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte(`"N/A"`), nil
	}
	return json.Marshal(p.Duration.Milliseconds())
}

// Window is the simulated time window of the run. A zero To means the run is
// unbounded and pending-time figures are not applicable.
type Window struct {
	From time.Time
	To   time.Time
}

// Bounded reports whether an end bound exists.
func (w Window) Bounded() bool {
	return !w.To.IsZero()
}

// Summary is the derived progress state pushed to the console and the sinks.
type Summary struct {
	UpdatesRequested uint64 `json:"updatesRequested"`
	UpdatesProcessed uint64 `json:"updatesProcessed"`
	UpdatesDelayed   uint64 `json:"updatesDelayed"`
	UpdatesErrored   uint64 `json:"updatesErrored"`

	Throughput   float64 `json:"updatesPerSecond"`
	DelayedRatio Ratio   `json:"delayedPercent"`
	ErroredRatio Ratio   `json:"erroredPercent"`

	RealElapsed      Millis  `json:"realElapsedMs"`
	SimulatedElapsed Millis  `json:"simulatedElapsedMs"`
	RealPending      Pending `json:"realPendingMs"`
	SimulatedPending Pending `json:"simulatedPendingMs"`

	SimulatedNow time.Time `json:"simulatedTime"`

	DweetStatus    string `json:"dweetStatus,omitempty"`
	TimelineStatus string `json:"timelineStatus,omitempty"`
}

// Compute derives a fresh Summary from the latest snapshot. The previous
// summary contributes only its sink status fields, which persist until a sink
// interaction overwrites them.
func Compute(prev Summary, snap *simulator.Snapshot, window Window) Summary {
	s := Summary{
		UpdatesRequested: snap.UpdatesRequested,
		UpdatesProcessed: snap.UpdatesProcessed,
		UpdatesDelayed:   snap.UpdatesDelayed,
		UpdatesErrored:   snap.UpdatesErrored,
		RealElapsed:      Millis(snap.RealElapsed),
		SimulatedElapsed: Millis(snap.SimulatedElapsed),
		SimulatedNow:     snap.SimulatedNow,
		DweetStatus:      prev.DweetStatus,
		TimelineStatus:   prev.TimelineStatus,
	}

	if seconds := snap.RealElapsed.Seconds(); seconds > 0 {
		s.Throughput = round2(float64(snap.UpdatesRequested) / seconds)
	}

	if snap.UpdatesProcessed > 0 {
		processed := float64(snap.UpdatesProcessed)
		s.DelayedRatio = Ratio{Value: float64(snap.UpdatesDelayed) / processed * 100, Valid: true}
		s.ErroredRatio = Ratio{Value: float64(snap.UpdatesErrored) / processed * 100, Valid: true}
	}

	if window.Bounded() {
		simPending := window.To.Sub(window.From) - snap.SimulatedElapsed
		if simPending < 0 {
			simPending = 0
		}
		s.SimulatedPending = Pending{Duration: simPending, Valid: true}
		// Linear extrapolation from progress so far; assumes the
		// simulated-time rate stays constant.
		if snap.SimulatedElapsed > 0 {
			real := float64(simPending) * float64(snap.RealElapsed) / float64(snap.SimulatedElapsed)
			s.RealPending = Pending{Duration: time.Duration(real), Valid: true}
		}
	}

	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
