// Package simulator schedules and dispatches simulated device updates. It
// drives a set of configured devices on their individual schedules, in real
// time or fast-forwarded across an explicit time window, and reports its
// lifecycle as a single typed event stream consumed by one dispatch loop.
package simulator

import "time"

// Kind discriminates the event union emitted by the engine.
type Kind int

const (
	KindTokenRequest Kind = iota
	KindTokenResponse
	KindTokenRequestScheduled
	KindUpdateScheduled
	KindUpdateRequest
	KindUpdateResponse
	KindInfo
	KindError
	KindProgress
	KindStop
	KindEnd
)

var kindNames = map[Kind]string{
	KindTokenRequest:          "token-request",
	KindTokenResponse:         "token-response",
	KindTokenRequestScheduled: "token-request-scheduled",
	KindUpdateScheduled:       "update-scheduled",
	KindUpdateRequest:         "update-request",
	KindUpdateResponse:        "update-response",
	KindInfo:                  "info",
	KindError:                 "error",
	KindProgress:              "progress-info",
	KindStop:                  "stop",
	KindEnd:                   "end",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one engine occurrence. Only the fields relevant to the Kind are
// populated; Progress is non-nil for KindProgress only.
type Event struct {
	Kind     Kind
	Time     time.Time // simulated time of the occurrence
	DeviceID string
	Message  string
	Err      error
	Progress *Snapshot
}

// Snapshot is the point-in-time progress payload carried by a progress-info
// event. It is immutable once emitted; the next tick supersedes it.
type Snapshot struct {
	UpdatesRequested uint64
	UpdatesProcessed uint64
	UpdatesDelayed   uint64
	UpdatesErrored   uint64
	RealElapsed      time.Duration
	SimulatedElapsed time.Duration
	SimulatedNow     time.Time
	Jobs             []ScheduledJob
}

// ScheduledJob lists the pending fire times of one device's update schedule.
type ScheduledJob struct {
	Name      string
	FireTimes []time.Time
}
