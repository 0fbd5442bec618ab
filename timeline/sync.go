package timeline

import (
	"context"
	"sync/atomic"
	"time"

	"devsim/internal/ratelimit"
	"devsim/progress"
	"devsim/simulator"
)

// Pusher replaces the sheet contents with a fresh set of rows.
type Pusher interface {
	Push(ctx context.Context, rows []Row) error
}

// Synchronizer gates sheet pushes behind the configured refresh interval and
// tracks the push status machine: idle -> ongoing -> {complete | error} ->
// eligible again once the interval elapses. Pushes run asynchronously; the
// ongoing status is the only guard against overlap, matching the tick loop's
// non-blocking contract.
type Synchronizer struct {
	pusher     Pusher
	gate       ratelimit.Gate
	dateFormat string
	status     atomic.Value // string
	onError    func(error)
}

// NewSynchronizer wires a synchronizer over the given pusher. onError
// observes push failures (logging, error ring) and may be nil.
func NewSynchronizer(pusher Pusher, refreshInterval time.Duration, dateFormat string, onError func(error)) *Synchronizer {
	s := &Synchronizer{
		pusher:     pusher,
		gate:       ratelimit.NewGate(refreshInterval),
		dateFormat: dateFormat,
		onError:    onError,
	}
	s.status.Store(progress.StatusIdle)
	return s
}

// Status returns the current push status.
func (s *Synchronizer) Status() string {
	return s.status.Load().(string)
}

// MarkNotSupported permanently disables the synchronizer; used when a
// time-window override is active.
func (s *Synchronizer) MarkNotSupported() {
	s.status.Store(progress.StatusNotSupported)
}

// Trigger attempts one sheet-update cycle for the given scheduled jobs.
// Returns true when a push was started. Skips silently while a push is
// ongoing, while disabled, or while the refresh gate is shut.
func (s *Synchronizer) Trigger(ctx context.Context, jobs []simulator.ScheduledJob, now time.Time) bool {
	switch s.Status() {
	case progress.StatusOngoing, progress.StatusNotSupported:
		return false
	}
	if !s.gate.Allow(now) {
		return false
	}

	rows := BuildRows(jobs, s.dateFormat)
	s.status.Store(progress.StatusOngoing)
	go func() {
		if err := s.pusher.Push(ctx, rows); err != nil {
			s.status.Store(progress.StatusError)
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		s.gate.MarkSuccess(time.Now())
		s.status.Store(progress.StatusComplete)
	}()
	return true
}
