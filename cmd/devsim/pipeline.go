package main

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"devsim/buffer"
	"devsim/dweet"
	"devsim/progress"
	"devsim/recorder"
	"devsim/simulator"
	"devsim/timeline"
)

// pipeline is the explicit context threaded through the event dispatch loop:
// the rolling summary, the error ring and the sink handles. All mutation
// happens on the single dispatch goroutine.
type pipeline struct {
	ctx    context.Context
	window progress.Window
	silent bool

	summary      progress.Summary
	ring         *buffer.ErrorRing
	dweetSink    *dweetPush
	timelineSync *timeline.Synchronizer
	rec          *recorder.Recorder
	dash         *dashboard
}

// notification is the JSON body pushed to the dweet sink: the full summary
// plus the retained error history.
type notification struct {
	Summary progress.Summary `json:"summary"`
	Errors  []buffer.Record  `json:"errors"`
}

func (p *pipeline) payload() notification {
	return notification{Summary: p.summary, Errors: p.ring.All()}
}

func (p *pipeline) handle(ev simulator.Event) {
	switch ev.Kind {
	case simulator.KindProgress:
		p.handleProgress(ev.Progress)
	case simulator.KindError:
		p.ring.Add(time.Now(), ev.Err.Error())
		log.Printf("error: %v", ev.Err)
		if p.dash != nil {
			p.dash.AppendError(ev.Err.Error())
		}
		if p.rec != nil && ev.DeviceID != "" {
			p.record(recorder.Outcome{
				DeviceID:    ev.DeviceID,
				SimulatedAt: ev.Time,
				Status:      recorder.StatusErrored,
				Error:       ev.Err.Error(),
			})
		}
	case simulator.KindInfo:
		log.Printf("%s", ev.Message)
	case simulator.KindTokenRequest:
		log.Printf("requesting authorization token")
	case simulator.KindTokenResponse:
		log.Printf("token response: %s", ev.Message)
	case simulator.KindTokenRequestScheduled:
		log.Printf("token refresh scheduled for %s", ev.Time.UTC().Format(time.RFC3339))
	case simulator.KindUpdateScheduled:
		log.Printf("device %s scheduled: %s", ev.DeviceID, ev.Message)
	case simulator.KindUpdateRequest:
		if p.dash != nil {
			p.dash.AppendUpdate(ev.DeviceID + " " + ev.Message)
		}
		if p.rec != nil {
			p.record(recorder.Outcome{
				DeviceID:    ev.DeviceID,
				Payload:     ev.Message,
				SimulatedAt: ev.Time,
				Status:      recorder.StatusRequested,
			})
		}
	case simulator.KindUpdateResponse:
		if p.rec != nil {
			p.record(recorder.Outcome{
				DeviceID:    ev.DeviceID,
				SimulatedAt: ev.Time,
				Status:      recorder.StatusResponded,
			})
		}
	case simulator.KindStop:
		log.Printf("simulation stopped")
	case simulator.KindEnd:
		log.Printf("simulation ended")
		if p.rec != nil {
			p.logRecorded()
		}
	}
}

// logRecorded reports the totals persisted over the run once the engine ends.
func (p *pipeline) logRecorded() {
	total, err := p.rec.Count("")
	if err != nil {
		log.Printf("%v", err)
		return
	}
	errored, err := p.rec.Count(recorder.StatusErrored)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	log.Printf("recorded %d update outcomes (%d errored)", total, errored)
}

// handleProgress recomputes the summary, renders it and fans it out to the
// configured sinks. Sink pushes are asynchronous; their status lands in the
// summary on the following tick.
func (p *pipeline) handleProgress(snap *simulator.Snapshot) {
	p.summary = progress.Compute(p.summary, snap, p.window)

	if p.timelineSync != nil {
		p.timelineSync.Trigger(p.ctx, snap.Jobs, time.Now())
		p.summary.TimelineStatus = p.timelineSync.Status()
	}
	if p.dweetSink != nil {
		p.dweetSink.Trigger(p.ctx, p.payload())
		p.summary.DweetStatus = p.dweetSink.Status()
	}

	if p.silent {
		return
	}
	lines := p.summary.Lines()
	if p.dash != nil {
		p.dash.SetStats(lines)
		return
	}
	for _, line := range lines {
		log.Print(line)
	}
	log.Print("") // spacer between progress blocks
}

func (p *pipeline) record(o recorder.Outcome) {
	if err := p.rec.Record(o); err != nil {
		log.Printf("%v", err)
	}
}

// dweetPush wraps the dweet client with the per-tick fire-and-forget push
// and its status tracking. A failed tick push is logged and ring-recorded
// but never halts the loop; the next tick retries naturally.
type dweetPush struct {
	client  *dweet.Client
	status  atomic.Value // string
	onError func(error)
}

func newDweetPush(client *dweet.Client, onError func(error)) *dweetPush {
	d := &dweetPush{client: client, onError: onError}
	d.status.Store(progress.StatusIdle)
	return d
}

func (d *dweetPush) Status() string {
	return d.status.Load().(string)
}

// Trigger starts one asynchronous push. Every tick pushes; completion of a
// prior push is observed only through the status field.
func (d *dweetPush) Trigger(ctx context.Context, payload interface{}) {
	d.status.Store(progress.StatusOngoing)
	go func() {
		if err := d.client.Publish(ctx, payload); err != nil {
			d.status.Store(progress.StatusError)
			if d.onError != nil {
				d.onError(err)
			}
			return
		}
		d.status.Store(progress.StatusComplete)
	}()
}

// Final makes the bounded shutdown push.
func (d *dweetPush) Final(ctx context.Context, payload interface{}) error {
	return d.client.PublishFinal(ctx, payload)
}
