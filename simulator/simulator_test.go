package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"devsim/config"
)

// fakeTransport records sends and optionally fails or blocks.
type fakeTransport struct {
	mu    sync.Mutex
	sends []fakeSend
	err   error
	gate  chan struct{}
}

type fakeSend struct {
	deviceID string
	payload  string
	token    string
}

func (f *fakeTransport) Send(ctx context.Context, dev *config.Device, payload []byte, token string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, fakeSend{deviceID: dev.ID, payload: string(payload), token: token})
	return f.err
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) sent() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeSend, len(f.sends))
	copy(out, f.sends)
	return out
}

func testSimConfig(devices ...config.Device) *config.Simulation {
	return &config.Simulation{
		IoTAgent: &config.HTTPEndpoint{URL: "http://agent.test/iot/d"},
		Devices:  devices,
	}
}

func httpDevice(id, schedule string) config.Device {
	return config.Device{
		ID:       id,
		Protocol: config.ProtocolHTTP,
		APIKey:   "key1",
		Schedule: schedule,
		Attributes: []config.Attribute{
			{Name: "temperature", Value: "random(10,30)"},
			{Name: "at", Value: "date-now"},
		},
	}
}

// drain collects the whole event stream until the channel closes.
func drain(t *testing.T, s *Simulator) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream never closed; got %d events", len(events))
		}
	}
}

func lastProgress(t *testing.T, events []Event) *Snapshot {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == KindProgress {
			return events[i].Progress
		}
	}
	t.Fatalf("no progress event in stream")
	return nil
}

func TestFastForwardRun(t *testing.T) {
	from := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	to := from.Add(30 * time.Second)
	transport := &fakeTransport{}

	s, err := Start(testSimConfig(httpDevice("sensor-1", "5s"), httpDevice("sensor-2", "10s")), Options{
		From:       from,
		To:         to,
		Transports: map[string]Transport{config.ProtocolHTTP: transport},
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := drain(t, s)

	if len(events) < 2 {
		t.Fatalf("expected a full event stream, got %d events", len(events))
	}
	if events[len(events)-1].Kind != KindEnd || events[len(events)-2].Kind != KindStop {
		t.Fatalf("expected stream to close with stop then end, got %v then %v",
			events[len(events)-2].Kind, events[len(events)-1].Kind)
	}

	scheduled := 0
	requests := 0
	for _, ev := range events {
		switch ev.Kind {
		case KindUpdateScheduled:
			scheduled++
		case KindUpdateRequest:
			requests++
			if ev.Time.Before(from) || ev.Time.After(to) {
				t.Fatalf("update fired outside window: %v", ev.Time)
			}
			if !strings.Contains(ev.Message, "temperature") {
				t.Fatalf("update payload missing attribute: %q", ev.Message)
			}
		}
	}
	if scheduled != 2 {
		t.Fatalf("expected one update-scheduled event per device, got %d", scheduled)
	}
	if requests == 0 {
		t.Fatalf("expected update requests inside the window")
	}

	snap := lastProgress(t, events)
	if snap.UpdatesRequested != uint64(requests) {
		t.Fatalf("snapshot reports %d requested, stream carried %d", snap.UpdatesRequested, requests)
	}
	if snap.UpdatesProcessed != snap.UpdatesRequested {
		t.Fatalf("expected all requests processed at shutdown, got %d/%d",
			snap.UpdatesProcessed, snap.UpdatesRequested)
	}
	if len(transport.sent()) != requests {
		t.Fatalf("transport saw %d sends for %d requests", len(transport.sent()), requests)
	}
	if snap.SimulatedElapsed != 30*time.Second {
		t.Fatalf("expected simulated clock advanced to window end, got %v", snap.SimulatedElapsed)
	}
}

func TestStopEndsRealTimeRun(t *testing.T) {
	transport := &fakeTransport{}
	s, err := Start(testSimConfig(httpDevice("sensor-1", "1h")), Options{
		Transports: map[string]Transport{config.ProtocolHTTP: transport},
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop() // idempotent

	events := drain(t, s)
	if events[len(events)-1].Kind != KindEnd {
		t.Fatalf("expected end event, got %v", events[len(events)-1].Kind)
	}
	for _, ev := range events {
		if ev.Kind == KindUpdateRequest {
			t.Fatalf("no update should fire on an hourly schedule before stop")
		}
	}
}

func TestTokenLifecycle(t *testing.T) {
	from := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	transport := &fakeTransport{}
	cfg := testSimConfig(httpDevice("sensor-1", "5s"))
	cfg.Authentication = &config.Authentication{TokenURL: "http://idm.test/tokens"}

	s, err := Start(cfg, Options{
		From:       from,
		To:         from.Add(10 * time.Second),
		Transports: map[string]Transport{config.ProtocolHTTP: transport},
		Token: func(ctx context.Context) (string, time.Time, error) {
			return "tok-1", time.Now().Add(24 * time.Hour), nil
		},
		Seed: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := drain(t, s)

	var order []Kind
	for _, ev := range events {
		switch ev.Kind {
		case KindTokenRequest, KindTokenResponse, KindTokenRequestScheduled, KindUpdateRequest:
			order = append(order, ev.Kind)
		}
	}
	if len(order) < 4 {
		t.Fatalf("expected token lifecycle plus updates, got %v", order)
	}
	want := []Kind{KindTokenRequest, KindTokenResponse, KindTokenRequestScheduled}
	for i, k := range want {
		if order[i] != k {
			t.Fatalf("expected %v at position %d, got %v", k, i, order[i])
		}
	}
	for _, send := range transport.sent() {
		if send.token != "tok-1" {
			t.Fatalf("expected token attached to sends, got %q", send.token)
		}
	}
}

func TestTokenNotReacquiredInFastForward(t *testing.T) {
	// A fast-forwarded window far beyond the token TTL must not trigger a
	// refresh per dispatch: the TTL is wall-clock time on the identity
	// server, not simulated time.
	from := time.Now().Add(48 * time.Hour)
	transport := &fakeTransport{}
	cfg := testSimConfig(httpDevice("sensor-1", "5s"))
	cfg.Authentication = &config.Authentication{TokenURL: "http://idm.test/tokens"}

	var tokenCalls int
	s, err := Start(cfg, Options{
		From:       from,
		To:         from.Add(30 * time.Second),
		Transports: map[string]Transport{config.ProtocolHTTP: transport},
		Token: func(ctx context.Context) (string, time.Time, error) {
			tokenCalls++
			return "tok-1", time.Now().Add(time.Hour), nil
		},
		Seed: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := drain(t, s)

	requests := 0
	tokenRequests := 0
	for _, ev := range events {
		switch ev.Kind {
		case KindUpdateRequest:
			requests++
		case KindTokenRequest:
			tokenRequests++
		}
	}
	if requests == 0 {
		t.Fatalf("expected update requests inside the window")
	}
	if tokenRequests != 1 || tokenCalls != 1 {
		t.Fatalf("expected a single token acquisition, got %d token-request events and %d calls",
			tokenRequests, tokenCalls)
	}
}

func TestTokenFailureEndsRun(t *testing.T) {
	transport := &fakeTransport{}
	cfg := testSimConfig(httpDevice("sensor-1", "5s"))
	cfg.Authentication = &config.Authentication{TokenURL: "http://idm.test/tokens"}

	s, err := Start(cfg, Options{
		From:       time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2026, 8, 29, 0, 1, 0, 0, time.UTC),
		Transports: map[string]Transport{config.ProtocolHTTP: transport},
		Token: func(ctx context.Context) (string, time.Time, error) {
			return "", time.Time{}, errors.New("identity service down")
		},
		Seed: 1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := drain(t, s)

	sawError := false
	for _, ev := range events {
		if ev.Kind == KindError && strings.Contains(ev.Err.Error(), "token acquisition failed") {
			sawError = true
		}
		if ev.Kind == KindUpdateRequest {
			t.Fatalf("no update should fire without a token")
		}
	}
	if !sawError {
		t.Fatalf("expected a token acquisition error event")
	}
	if events[len(events)-1].Kind != KindEnd {
		t.Fatalf("expected run to end after token failure")
	}
}

func TestTransportErrorsCounted(t *testing.T) {
	from := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	transport := &fakeTransport{err: errors.New("agent unreachable")}

	s, err := Start(testSimConfig(httpDevice("sensor-1", "5s")), Options{
		From:       from,
		To:         from.Add(15 * time.Second),
		Transports: map[string]Transport{config.ProtocolHTTP: transport},
		Seed:       1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	events := drain(t, s)

	sawSendError := false
	for _, ev := range events {
		if ev.Kind == KindError && ev.DeviceID == "sensor-1" {
			sawSendError = true
			if !strings.Contains(ev.Err.Error(), "agent unreachable") {
				t.Fatalf("expected wrapped transport error, got %v", ev.Err)
			}
		}
	}
	if !sawSendError {
		t.Fatalf("expected error events for failed sends")
	}
	snap := lastProgress(t, events)
	if snap.UpdatesErrored == 0 || snap.UpdatesErrored != snap.UpdatesRequested {
		t.Fatalf("expected every request errored, got %d/%d", snap.UpdatesErrored, snap.UpdatesRequested)
	}
}

func TestMaxInFlightDelaysUpdates(t *testing.T) {
	from := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	gate := make(chan struct{})
	transport := &fakeTransport{gate: gate}

	s, err := Start(testSimConfig(httpDevice("sensor-1", "1s")), Options{
		From:        from,
		To:          from.Add(5 * time.Second),
		MaxInFlight: 1,
		Transports:  map[string]Transport{config.ProtocolHTTP: transport},
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var events []Event
	released := false
	timeout := time.After(30 * time.Second)
	for {
		var ev Event
		var ok bool
		select {
		case ev, ok = <-s.Events():
		case <-timeout:
			t.Fatalf("event stream never closed; got %d events", len(events))
		}
		if !ok {
			break
		}
		events = append(events, ev)
		if !released && ev.Kind == KindInfo && strings.Contains(ev.Message, "update delayed") {
			close(gate)
			released = true
		}
	}

	if !released {
		t.Fatalf("expected at least one delayed update at the in-flight cap")
	}
	snap := lastProgress(t, events)
	if snap.UpdatesDelayed == 0 {
		t.Fatalf("expected delayed counter to advance, snapshot %+v", snap)
	}
}

func TestStartRejectsUnknownProtocol(t *testing.T) {
	cfg := testSimConfig(config.Device{
		ID:       "sensor-1",
		Protocol: "coap",
		Schedule: "5s",
		Attributes: []config.Attribute{
			{Name: "t", Value: "1"},
		},
	})
	if _, err := Start(cfg, Options{Seed: 1}); err == nil {
		t.Fatalf("expected unknown protocol to fail Start")
	}
}

func TestKindNames(t *testing.T) {
	cases := map[Kind]string{
		KindTokenRequest:          "token-request",
		KindTokenRequestScheduled: "token-request-scheduled",
		KindUpdateRequest:         "update-request",
		KindProgress:              "progress-info",
		KindStop:                  "stop",
		KindEnd:                   "end",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("kind %d renders %q, want %q", int(k), got, want)
		}
	}
	if got := Kind(99).String(); got != "unknown" {
		t.Fatalf("expected unknown sentinel, got %q", got)
	}
	_ = fmt.Sprintf("%v", KindInfo)
}
