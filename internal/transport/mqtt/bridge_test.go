package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
	"github.com/iamasit07/geo-tracking/backend/internal/service/tracker"
)

type fakeClient struct {
	connectErr   error
	subscribed   []string
	published    map[string][]byte
	disconnected int
	handler      func(topic string, payload []byte)
	onSubscribe  func(n int)
}

func (c *fakeClient) Connect() error { return c.connectErr }

func (c *fakeClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	c.subscribed = append(c.subscribed, topic)
	c.handler = handler
	if c.onSubscribe != nil {
		c.onSubscribe(len(c.subscribed))
	}
	return nil
}

func (c *fakeClient) Publish(topic string, qos byte, payload []byte) error {
	if c.published == nil {
		c.published = make(map[string][]byte)
	}
	c.published[topic] = payload
	return nil
}

func (c *fakeClient) Disconnect() { c.disconnected++ }

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

// harness drives a Bridge with a scripted dialer and a manual clock.
type harness struct {
	mu      sync.Mutex
	clients []*fakeClient
	lost    []func(error)
	failing bool
	delays  []time.Duration
	pending func()
	timers  []*fakeTimer
}

func newHarness(t *testing.T, tr EventApplier, hub Broadcaster) (*Bridge, *harness) {
	t.Helper()
	h := &harness{}
	b := NewBridge(Options{
		BrokerURL:         "tcp://localhost:1883",
		ClientID:          "test",
		TopicLocation:     "geo-tracking/location",
		TopicDeviceStatus: "geo-tracking/device/status",
		TopicCommands:     "geo-tracking/commands",
		ConnectTimeout:    time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      120 * time.Second,
		MaxAttempts:       10,
	}, tr, hub)
	b.dial = func(opts Options, onLost func(error)) brokerClient {
		h.mu.Lock()
		defer h.mu.Unlock()
		c := &fakeClient{}
		if h.failing {
			c.connectErr = errors.New("connection refused")
		}
		h.clients = append(h.clients, c)
		h.lost = append(h.lost, onLost)
		return c
	}
	b.afterFunc = func(d time.Duration, f func()) timer {
		h.delays = append(h.delays, d)
		h.pending = f
		tm := &fakeTimer{}
		h.timers = append(h.timers, tm)
		return tm
	}
	return b, h
}

func (h *harness) fire(t *testing.T) {
	t.Helper()
	f := h.pending
	if f == nil {
		t.Fatal("no reconnect scheduled")
	}
	h.pending = nil
	f()
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 32, 64, 120, 120, 120}
	for i, w := range want {
		if got := Backoff(i+1, time.Second, 120*time.Second); got != w*time.Second {
			t.Errorf("Backoff(%d) = %s, want %s", i+1, got, w*time.Second)
		}
	}
	if got := Backoff(500, time.Second, 120*time.Second); got != 120*time.Second {
		t.Errorf("large attempt = %s, want cap", got)
	}
}

func TestBridge_ConnectSubscribes(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	b.Start()

	if b.State() != StateConnected {
		t.Fatalf("state = %s, want connected", b.State())
	}
	c := h.clients[0]
	if len(c.subscribed) != 2 || c.subscribed[0] != "geo-tracking/location" || c.subscribed[1] != "geo-tracking/device/status" {
		t.Errorf("subscriptions = %v", c.subscribed)
	}
}

func TestBridge_ReconnectSequenceAndGiveUp(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	h.failing = true
	b.Start()

	for i := 0; i < 10; i++ {
		if b.State() != StateReconnectScheduled {
			t.Fatalf("after failure %d state = %s", i+1, b.State())
		}
		h.fire(t)
	}
	if b.State() != StateGivenUp {
		t.Fatalf("state = %s, want given-up", b.State())
	}
	if b.Attempts() != 11 {
		t.Errorf("attempts = %d, want 11", b.Attempts())
	}

	want := []time.Duration{1, 2, 4, 8, 16, 32, 64, 120, 120, 120}
	if len(h.delays) != len(want) {
		t.Fatalf("delays = %v", h.delays)
	}
	for i, w := range want {
		if h.delays[i] != w*time.Second {
			t.Errorf("delay %d = %s, want %s", i+1, h.delays[i], w*time.Second)
		}
	}
	if len(h.clients) != 11 {
		t.Errorf("connect attempts = %d, want 11", len(h.clients))
	}
	if err := b.Publish("x", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Publish after give-up = %v", err)
	}
}

func TestBridge_AttemptCounterIsNotReset(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	b.Start()
	if b.State() != StateConnected {
		t.Fatal("expected initial connect")
	}

	h.lost[0](errors.New("eof"))
	if b.State() != StateReconnectScheduled || h.delays[0] != time.Second {
		t.Fatalf("state=%s delays=%v", b.State(), h.delays)
	}
	h.fire(t)
	if b.State() != StateConnected {
		t.Fatalf("state = %s after reconnect", b.State())
	}

	h.lost[1](errors.New("eof"))
	if h.delays[1] != 2*time.Second {
		t.Errorf("second loss delay = %s, want 2s", h.delays[1])
	}

	// A late callback from the replaced client is ignored.
	h.lost[0](errors.New("stale"))
	if b.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2", b.Attempts())
	}
}

func TestBridge_LossWhileSubscribingSchedulesReconnect(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	dial := b.dial
	b.dial = func(opts Options, onLost func(error)) brokerClient {
		c := dial(opts, onLost).(*fakeClient)
		if len(h.clients) == 1 {
			c.onSubscribe = func(n int) {
				if n == 2 {
					onLost(errors.New("EOF"))
				}
			}
		}
		return c
	}
	b.Start()

	if b.State() != StateReconnectScheduled {
		t.Fatalf("state = %s, want reconnect-scheduled", b.State())
	}
	if b.Attempts() != 1 || len(h.delays) != 1 || h.delays[0] != time.Second {
		t.Fatalf("attempts=%d delays=%v", b.Attempts(), h.delays)
	}
	if h.clients[0].disconnected != 1 {
		t.Errorf("dead client disconnects = %d, want 1", h.clients[0].disconnected)
	}
	if err := b.Publish("x", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Publish on dead client = %v", err)
	}

	h.fire(t)
	if b.State() != StateConnected {
		t.Fatalf("state = %s after reconnect", b.State())
	}
	if len(h.clients) != 2 {
		t.Errorf("dials = %d, want 2", len(h.clients))
	}
}

func TestBridge_StopCancelsReconnect(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	h.failing = true
	b.Start()
	if len(h.timers) != 1 {
		t.Fatal("expected a scheduled reconnect")
	}

	b.Stop()
	if !h.timers[0].stopped {
		t.Error("pending timer must be stopped")
	}
	h.fire(t)
	if len(h.clients) != 1 {
		t.Errorf("no connect should happen after Stop, got %d dials", len(h.clients))
	}
	if b.State() != StateDisconnected {
		t.Errorf("state = %s", b.State())
	}
}

func TestBridge_StopDisconnects(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	b.Start()
	b.Stop()
	if h.clients[0].disconnected != 1 {
		t.Errorf("disconnects = %d, want 1", h.clients[0].disconnected)
	}
	h.lost[0](errors.New("closed"))
	if len(h.timers) != 0 {
		t.Error("loss after Stop must not schedule a reconnect")
	}
}

func TestBridge_PublishAndSendCommand(t *testing.T) {
	b, h := newHarness(t, nil, nil)
	if err := b.Publish("geo-tracking/commands/d1", []byte("{}")); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("Publish before connect = %v", err)
	}

	b.Start()
	if err := b.SendCommand("d1", "ping", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	raw, ok := h.clients[0].published["geo-tracking/commands/d1"]
	if !ok {
		t.Fatalf("published = %v", h.clients[0].published)
	}
	var cmd domain.DeviceCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.DeviceID != "d1" || cmd.Command != "ping" || string(cmd.Data) != `{"n":1}` || cmd.Timestamp.IsZero() {
		t.Errorf("command = %+v", cmd)
	}

	var vErr *domain.ValidationError
	if err := b.SendCommand("", "ping", nil); !errors.As(err, &vErr) {
		t.Errorf("missing device id = %v", err)
	}
}

type recordingTracker struct {
	events []domain.LocationEvent
	err    error
}

func (r *recordingTracker) ApplyEvent(ctx context.Context, ev domain.LocationEvent) (*tracker.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.events = append(r.events, ev)
	return &tracker.Result{
		Device:   domain.Device{ID: ev.DeviceID},
		Location: &domain.Location{DeviceID: ev.DeviceID, Latitude: *ev.Latitude, Longitude: *ev.Longitude},
	}, nil
}

type recordingHub struct {
	pointers []domain.Pointer
}

func (r *recordingHub) Broadcast(ctx context.Context, p domain.Pointer) error {
	r.pointers = append(r.pointers, p)
	return nil
}

func TestBridge_HandleMessage(t *testing.T) {
	tr := &recordingTracker{}
	hub := &recordingHub{}
	b, h := newHarness(t, tr, hub)
	b.Start()
	deliver := h.clients[0].handler

	deliver("geo-tracking/location", []byte(`{"deviceId":"d1","latitude":10,"longitude":20,"eventType":"START"}`))
	if len(tr.events) != 1 || len(hub.pointers) != 1 || hub.pointers[0].Latitude != 10 {
		t.Fatalf("events=%v pointers=%v", tr.events, hub.pointers)
	}

	deliver("geo-tracking/location", []byte(`{"deviceId":"d1","latitude":10}`))
	deliver("geo-tracking/location", []byte(`garbage`))
	deliver("geo-tracking/device/status", []byte(`{"deviceId":"d1","status":"online"}`))
	deliver("geo-tracking/device/status", []byte(`{`))
	deliver("somewhere/else", []byte(`{}`))
	if len(tr.events) != 1 || len(hub.pointers) != 1 {
		t.Errorf("invalid or non-location messages must not reach the pipeline")
	}

	tr.err = errors.New("db down")
	deliver("geo-tracking/location", []byte(`{"deviceId":"d1","latitude":1,"longitude":2,"eventType":"ONGOING"}`))
	if len(hub.pointers) != 1 {
		t.Error("failed persistence must not broadcast")
	}
}
