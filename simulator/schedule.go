package simulator

import (
	"container/heap"
	"time"

	"github.com/zeebo/xxh3"

	"devsim/config"
)

// job is one device's recurring update schedule in the fire-time heap.
type job struct {
	device   config.Device
	interval time.Duration
	next     time.Time
}

// jobQueue is a min-heap ordered by next fire time.
type jobQueue []*job

func (q jobQueue) Len() int            { return len(q) }
func (q jobQueue) Less(i, j int) bool  { return q[i].next.Before(q[j].next) }
func (q jobQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x interface{}) { *q = append(*q, x.(*job)) }
func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// staggerOffset derives a stable phase offset inside the schedule interval
// from the device ID, spreading devices with identical schedules across the
// interval instead of firing them all at once.
func staggerOffset(deviceID string, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(xxh3.HashString(deviceID) % uint64(interval))
}

// buildJobs seeds the heap with one job per device, first fire at
// start + stagger offset. Device schedules were validated at load time, so a
// parse failure here is a programming error and the device is skipped.
func buildJobs(devices []config.Device, start time.Time) jobQueue {
	queue := make(jobQueue, 0, len(devices))
	for _, dev := range devices {
		interval, err := dev.Interval()
		if err != nil {
			continue
		}
		queue = append(queue, &job{
			device:   dev,
			interval: interval,
			next:     start.Add(staggerOffset(dev.ID, interval)),
		})
	}
	heap.Init(&queue)
	return queue
}

// upcomingFires is how many future fire times a scheduled-job snapshot lists
// per device.
const upcomingFires = 3

// snapshotJobs materializes the pending fire times for a progress snapshot.
// Fires beyond the window end are omitted.
func snapshotJobs(queue jobQueue, end time.Time) []ScheduledJob {
	jobs := make([]ScheduledJob, 0, len(queue))
	for _, j := range queue {
		fires := make([]time.Time, 0, upcomingFires)
		next := j.next
		for i := 0; i < upcomingFires; i++ {
			if !end.IsZero() && next.After(end) {
				break
			}
			fires = append(fires, next)
			next = next.Add(j.interval)
		}
		if len(fires) == 0 {
			continue
		}
		jobs = append(jobs, ScheduledJob{Name: j.device.ID, FireTimes: fires})
	}
	return jobs
}
