package simulator

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"devsim/config"
)

// Options tune a simulation run. The zero value runs in real time with no
// window, a 5s progress interval, unlimited in-flight requests and no
// inter-dispatch delay.
type Options struct {
	// From and To bound the simulated window. A non-zero From switches the
	// engine to fast-forward mode; a non-zero To ends the run once the
	// schedule passes it.
	From time.Time
	To   time.Time

	// ProgressInterval is the real-time spacing of progress-info events.
	ProgressInterval time.Duration

	// MaxInFlight caps concurrent unanswered update requests. Fires that
	// hit the cap are counted as delayed and retried after a backoff.
	MaxInFlight int

	// Delay is the minimum real-time spacing between dispatches.
	Delay time.Duration

	// EventBuffer sizes the event channel. The consumer must drain the
	// channel until it closes.
	EventBuffer int

	// Transports overrides the per-protocol transports (tests).
	Transports map[string]Transport

	// Token overrides token acquisition (tests).
	Token TokenFunc

	// Seed fixes the value-generator RNG; 0 seeds from the clock.
	Seed int64
}

const (
	defaultProgressInterval = 5 * time.Second
	defaultEventBuffer      = 1024
	defaultRetryBackoff     = time.Second
	inFlightDrainTimeout    = 5 * time.Second
)

// Simulator runs device update schedules and emits the engine event stream.
// A single goroutine owns the schedule; transport sends fan out so a slow
// endpoint does not stall the clock.
type Simulator struct {
	cfg   *config.Simulation
	opts  Options
	clock *simClock

	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once

	transports map[string]Transport
	owned      []Transport
	tokenFn    TokenFunc

	mu    sync.Mutex
	queue jobQueue

	// Sender goroutines queue their result events here; only the run loop
	// writes to the events channel, so closing it stays race-free.
	resMu   sync.Mutex
	results []Event

	requested atomic.Uint64
	processed atomic.Uint64
	delayed   atomic.Uint64
	errored   atomic.Uint64
	inFlight  atomic.Int64
	senders   sync.WaitGroup

	token       string
	tokenExpiry time.Time

	rng *rand.Rand
}

// Start builds transports, seeds the schedule and launches the run loop.
// The returned simulator's event channel closes after the end event.
func Start(cfg *config.Simulation, opts Options) (*Simulator, error) {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	start := opts.From
	fastForward := !opts.From.IsZero()
	if start.IsZero() {
		start = time.Now()
	}

	s := &Simulator{
		cfg:        cfg,
		opts:       opts,
		clock:      newSimClock(start, fastForward),
		events:     make(chan Event, opts.EventBuffer),
		stopCh:     make(chan struct{}),
		transports: make(map[string]Transport),
		rng:        rand.New(rand.NewSource(seed)),
	}

	if err := s.buildTransports(); err != nil {
		return nil, err
	}
	if cfg.Authentication != nil {
		s.tokenFn = opts.Token
		if s.tokenFn == nil {
			s.tokenFn = defaultTokenFunc(cfg.Authentication)
		}
	}

	s.queue = buildJobs(cfg.Devices, start)

	go s.run()
	return s, nil
}

// Events returns the engine event stream. It closes after KindEnd.
func (s *Simulator) Events() <-chan Event {
	return s.events
}

// Stop requests shutdown. Safe to call more than once and from any
// goroutine; the run loop finishes with stop and end events.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Simulator) buildTransports() error {
	needed := make(map[string]bool)
	for _, dev := range s.cfg.Devices {
		proto := dev.Protocol
		if proto == "" {
			proto = config.ProtocolHTTP
		}
		needed[proto] = true
	}
	for proto := range needed {
		if override, ok := s.opts.Transports[proto]; ok {
			s.transports[proto] = override
			continue
		}
		switch proto {
		case config.ProtocolHTTP:
			tr := newHTTPTransport(s.cfg.IoTAgent, s.cfg.Domain)
			s.transports[proto] = tr
			s.owned = append(s.owned, tr)
		case config.ProtocolMQTT:
			tr, err := newMQTTTransport(s.cfg.MQTT)
			if err != nil {
				s.closeOwned()
				return err
			}
			s.transports[proto] = tr
			s.owned = append(s.owned, tr)
		default:
			s.closeOwned()
			return fmt.Errorf("no transport for protocol %q", proto)
		}
	}
	return nil
}

func (s *Simulator) closeOwned() {
	for _, tr := range s.owned {
		tr.Close()
	}
}

func (s *Simulator) run() {
	defer close(s.events)
	defer s.closeOwned()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	ticker := time.NewTicker(s.opts.ProgressInterval)
	defer ticker.Stop()

	s.emit(Event{Kind: KindInfo, Time: s.clock.Now(),
		Message: fmt.Sprintf("simulation started with %d devices", len(s.cfg.Devices))})

	if s.tokenFn != nil && !s.acquireToken(ctx) {
		s.finish()
		return
	}

	s.mu.Lock()
	for _, j := range s.queue {
		s.emit(Event{Kind: KindUpdateScheduled, Time: j.next, DeviceID: j.device.ID,
			Message: fmt.Sprintf("updates every %s", j.interval)})
	}
	s.mu.Unlock()

	var lastDispatch time.Time

	for {
		s.flushResults()

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			break
		}
		next := s.queue[0]
		if !s.opts.To.IsZero() && next.next.After(s.opts.To) {
			s.mu.Unlock()
			break
		}
		j := heap.Pop(&s.queue).(*job)
		s.mu.Unlock()

		if !s.waitForFire(j, ticker) {
			s.requeue(j)
			s.finish()
			return
		}

		if !s.throttleDispatch(lastDispatch, ticker) {
			s.requeue(j)
			s.finish()
			return
		}

		// Token TTL is wall-clock time on the identity server, so the refresh
		// check must not use the simulated clock: a fast-forwarded window
		// would otherwise re-acquire before every dispatch.
		if s.tokenFn != nil && !time.Now().Before(s.tokenExpiry.Add(-tokenRefreshMargin)) {
			if !s.acquireToken(ctx) {
				s.requeue(j)
				s.finish()
				return
			}
		}

		fire := j.next
		if s.opts.MaxInFlight > 0 && s.inFlight.Load() >= int64(s.opts.MaxInFlight) {
			s.delayed.Add(1)
			s.emit(Event{Kind: KindInfo, Time: fire, DeviceID: j.device.ID,
				Message: fmt.Sprintf("update delayed: %d requests not yet responded", s.inFlight.Load())})
			backoff := s.opts.Delay
			if backoff <= 0 {
				backoff = defaultRetryBackoff
			}
			j.next = fire.Add(backoff)
		} else {
			s.dispatch(ctx, j, fire)
			lastDispatch = time.Now()
			j.next = fire.Add(j.interval)
		}
		s.requeue(j)
	}

	if !s.opts.To.IsZero() {
		s.clock.Advance(s.opts.To)
	}
	s.finish()
}

// waitForFire blocks until the job's fire time in real mode, or advances the
// simulated clock in fast-forward mode. Returns false when stopping.
func (s *Simulator) waitForFire(j *job, ticker *time.Ticker) bool {
	if s.clock.fastForward {
		select {
		case <-s.stopCh:
			return false
		case <-ticker.C:
			s.flushResults()
			s.emitProgress()
		default:
		}
		s.clock.Advance(j.next)
		return true
	}

	timer := time.NewTimer(time.Until(j.next))
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return false
		case <-ticker.C:
			s.flushResults()
			s.emitProgress()
		case <-timer.C:
			return true
		}
	}
}

// throttleDispatch enforces the minimum real-time spacing between
// dispatches. Returns false when stopping.
func (s *Simulator) throttleDispatch(lastDispatch time.Time, ticker *time.Ticker) bool {
	if s.opts.Delay <= 0 || lastDispatch.IsZero() {
		return true
	}
	remaining := s.opts.Delay - time.Since(lastDispatch)
	if remaining <= 0 {
		return true
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return false
		case <-ticker.C:
			s.flushResults()
			s.emitProgress()
		case <-timer.C:
			return true
		}
	}
}

func (s *Simulator) requeue(j *job) {
	s.mu.Lock()
	heap.Push(&s.queue, j)
	s.mu.Unlock()
}

// dispatch resolves the attribute values for this fire and hands the payload
// to the transport on a sender goroutine so the schedule keeps moving.
func (s *Simulator) dispatch(ctx context.Context, j *job, fire time.Time) {
	values := make(map[string]string, len(j.device.Attributes))
	for _, attr := range j.device.Attributes {
		values[attr.Name] = evalValue(attr.Value, fire, s.rng)
	}
	payload, err := encodePayload(values)
	if err != nil {
		s.errored.Add(1)
		s.emit(Event{Kind: KindError, Time: fire, DeviceID: j.device.ID, Err: err})
		return
	}

	proto := j.device.Protocol
	if proto == "" {
		proto = config.ProtocolHTTP
	}
	transport := s.transports[proto]

	s.requested.Add(1)
	s.emit(Event{Kind: KindUpdateRequest, Time: fire, DeviceID: j.device.ID,
		Message: string(payload)})

	dev := j.device
	token := s.token
	s.inFlight.Add(1)
	s.senders.Add(1)
	go func() {
		defer s.senders.Done()
		err := transport.Send(ctx, &dev, payload, token)
		s.inFlight.Add(-1)
		s.processed.Add(1)
		if err != nil {
			s.errored.Add(1)
			s.queueResult(Event{Kind: KindError, Time: fire, DeviceID: dev.ID,
				Err: fmt.Errorf("update for device %q failed: %w", dev.ID, err)})
			return
		}
		s.queueResult(Event{Kind: KindUpdateResponse, Time: fire, DeviceID: dev.ID})
	}()
}

// acquireToken performs one token request, emitting the token lifecycle
// events. Returns false on failure, which ends the run.
func (s *Simulator) acquireToken(ctx context.Context) bool {
	s.emit(Event{Kind: KindTokenRequest, Time: s.clock.Now()})
	token, expires, err := s.tokenFn(ctx)
	if err != nil {
		s.emit(Event{Kind: KindError, Time: s.clock.Now(),
			Err: fmt.Errorf("token acquisition failed: %w", err)})
		return false
	}
	s.token = token
	s.tokenExpiry = expires
	s.emit(Event{Kind: KindTokenResponse, Time: s.clock.Now(),
		Message: fmt.Sprintf("token expires at %s", expires.UTC().Format(time.RFC3339))})
	s.emit(Event{Kind: KindTokenRequestScheduled, Time: expires.Add(-tokenRefreshMargin)})
	return true
}

// finish drains in-flight senders (bounded), then emits the final progress,
// stop and end events.
func (s *Simulator) finish() {
	done := make(chan struct{})
	go func() {
		s.senders.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(inFlightDrainTimeout):
		s.emit(Event{Kind: KindInfo, Time: s.clock.Now(),
			Message: fmt.Sprintf("giving up on %d unanswered requests", s.inFlight.Load())})
	}

	s.flushResults()
	s.emitProgress()
	s.emit(Event{Kind: KindStop, Time: s.clock.Now()})
	s.emit(Event{Kind: KindEnd, Time: s.clock.Now()})
}

func (s *Simulator) emitProgress() {
	s.mu.Lock()
	jobs := snapshotJobs(s.queue, s.opts.To)
	s.mu.Unlock()

	snap := &Snapshot{
		UpdatesRequested: s.requested.Load(),
		UpdatesProcessed: s.processed.Load(),
		UpdatesDelayed:   s.delayed.Load(),
		UpdatesErrored:   s.errored.Load(),
		RealElapsed:      s.clock.RealElapsed(),
		SimulatedElapsed: s.clock.SimulatedElapsed(),
		SimulatedNow:     s.clock.Now(),
		Jobs:             jobs,
	}
	s.emit(Event{Kind: KindProgress, Time: snap.SimulatedNow, Progress: snap})
}

func (s *Simulator) emit(ev Event) {
	s.events <- ev
}

func (s *Simulator) queueResult(ev Event) {
	s.resMu.Lock()
	s.results = append(s.results, ev)
	s.resMu.Unlock()
}

// flushResults forwards queued sender results onto the event stream. Run
// loop only.
func (s *Simulator) flushResults() {
	s.resMu.Lock()
	pending := s.results
	s.results = nil
	s.resMu.Unlock()
	for _, ev := range pending {
		s.emit(ev)
	}
}
