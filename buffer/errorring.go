// Package buffer provides a small lock-free ring that retains the most
// recent error observations for attachment to sink pushes. Each slot stores
// an atomic pointer so readers either see a complete record or the previous
// one, never a partially written structure.
package buffer

import (
	"sync/atomic"
	"time"
)

// Record is one observed error with the time it was recorded.
type Record struct {
	ID      uint64    `json:"-"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ErrorRing is a fixed-capacity FIFO of error records. Once full, each Add
// evicts the oldest entry. Writers publish completed records atomically and
// readers walk backwards from the newest index, so no mutex is needed.
type ErrorRing struct {
	slots    []atomic.Pointer[Record]
	capacity int
	total    atomic.Uint64 // records added over the run (may exceed capacity)
}

// NewErrorRing allocates a ring retaining the last capacity records.
func NewErrorRing(capacity int) *ErrorRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &ErrorRing{
		slots:    make([]atomic.Pointer[Record], capacity),
		capacity: capacity,
	}
}

// Add records an error, assigning a monotonic ID so readers can skip slots
// that have been overwritten after wraparound.
func (r *ErrorRing) Add(at time.Time, message string) {
	id := r.total.Add(1)
	rec := &Record{ID: id, At: at, Message: message}
	r.slots[(id-1)%uint64(r.capacity)].Store(rec)
}

// Recent returns up to n records, newest first.
func (r *ErrorRing) Recent(n int) []Record {
	if n <= 0 {
		return []Record{}
	}
	total := r.total.Load()
	available := int(total)
	if available > r.capacity {
		available = r.capacity
	}
	if n > available {
		n = available
	}

	result := make([]Record, 0, n)
	if total == 0 {
		return result
	}
	minIndex := total - uint64(available)
	for idx := total; idx > minIndex && len(result) < n; {
		idx--
		if rec := r.slots[idx%uint64(r.capacity)].Load(); rec != nil && rec.ID == idx+1 {
			result = append(result, *rec)
		}
	}
	return result
}

// All returns every retained record, newest first.
func (r *ErrorRing) All() []Record {
	return r.Recent(r.capacity)
}

// Len reports how many records are currently retained.
func (r *ErrorRing) Len() int {
	total := int(r.total.Load())
	if total > r.capacity {
		return r.capacity
	}
	return total
}

// Total reports how many records were ever added.
func (r *ErrorRing) Total() uint64 {
	return r.total.Load()
}
