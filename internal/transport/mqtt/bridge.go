// Package mqtt relays device traffic between an MQTT broker and the
// tracking pipeline.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
	"github.com/iamasit07/geo-tracking/backend/internal/service/tracker"
)

const qosAtLeastOnce byte = 1

type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateReconnectScheduled State = "reconnect-scheduled"
	StateGivenUp            State = "given-up"
)

type Options struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	TopicLocation     string
	TopicDeviceStatus string
	TopicCommands     string
	ConnectTimeout    time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	MaxAttempts       int
}

type EventApplier interface {
	ApplyEvent(ctx context.Context, ev domain.LocationEvent) (*tracker.Result, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, p domain.Pointer) error
}

type timer interface {
	Stop() bool
}

// Bridge keeps one broker connection alive with capped exponential backoff.
// The attempt counter only grows; once it passes MaxAttempts the bridge
// gives up for the life of the process.
type Bridge struct {
	opts    Options
	tracker EventApplier
	hub     Broadcaster

	dial      func(opts Options, onLost func(error)) brokerClient
	afterFunc func(d time.Duration, f func()) timer
	now       func() time.Time

	mu      sync.Mutex
	state   State
	attempt int
	client  brokerClient
	timer   timer
	stopped bool
	// gen invalidates callbacks from clients replaced or stopped since.
	gen uint64
	// lost records a connection loss reported while gen was still connecting.
	lost bool
}

func NewBridge(opts Options, tr EventApplier, hub Broadcaster) *Bridge {
	return &Bridge{
		opts:    opts,
		tracker: tr,
		hub:     hub,
		dial:    dialPaho,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now:   func() time.Time { return time.Now().UTC() },
		state: StateDisconnected,
	}
}

// Backoff returns min(base*2^(attempt-1), max) for attempt >= 1.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Start makes the first connection attempt. Failure is not returned; it
// schedules a reconnect.
func (b *Bridge) Start() {
	log.Printf("[MQTT] Connecting to %s as %s", b.opts.BrokerURL, b.opts.ClientID)
	b.connect()
}

// Stop cancels any pending reconnect and disconnects.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	client := b.client
	b.client = nil
	if b.state != StateGivenUp {
		b.state = StateDisconnected
	}
	b.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	log.Println("[MQTT] Bridge stopped")
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Attempts is the number of reconnects scheduled so far.
func (b *Bridge) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

func (b *Bridge) connect() {
	b.mu.Lock()
	if b.stopped || b.state == StateGivenUp {
		b.mu.Unlock()
		return
	}
	b.state = StateConnecting
	b.timer = nil
	b.gen++
	b.lost = false
	gen := b.gen
	b.mu.Unlock()

	client := b.dial(b.opts, func(err error) { b.connectionLost(gen, err) })
	err := client.Connect()
	if err == nil {
		err = b.subscribe(client)
		if err != nil {
			client.Disconnect()
		}
	}

	b.mu.Lock()
	if b.stopped || gen != b.gen {
		b.mu.Unlock()
		if err == nil {
			client.Disconnect()
		}
		return
	}
	if err != nil {
		b.mu.Unlock()
		log.Printf("[MQTT] Connection failed: %v", err)
		b.scheduleReconnect()
		return
	}
	if b.lost {
		b.lost = false
		b.state = StateDisconnected
		b.mu.Unlock()
		client.Disconnect()
		log.Println("[MQTT] Connection lost while subscribing")
		b.scheduleReconnect()
		return
	}
	b.state = StateConnected
	b.client = client
	b.mu.Unlock()

	log.Printf("[MQTT] Connected to %s", b.opts.BrokerURL)
}

func (b *Bridge) subscribe(client brokerClient) error {
	for _, topic := range []string{b.opts.TopicLocation, b.opts.TopicDeviceStatus} {
		if err := client.Subscribe(topic, qosAtLeastOnce, b.handleMessage); err != nil {
			return err
		}
		log.Printf("[MQTT] Subscribed to %s", topic)
	}
	return nil
}

func (b *Bridge) connectionLost(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	if b.state == StateConnecting {
		b.lost = true
		b.mu.Unlock()
		log.Printf("[MQTT] Connection lost during connect: %v", err)
		return
	}
	if b.state != StateConnected {
		b.mu.Unlock()
		return
	}
	b.state = StateDisconnected
	b.client = nil
	b.mu.Unlock()

	log.Printf("[MQTT] Connection lost: %v", err)
	b.scheduleReconnect()
}

func (b *Bridge) scheduleReconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.attempt++
	if b.attempt > b.opts.MaxAttempts {
		b.state = StateGivenUp
		log.Printf("[MQTT] Giving up after %d reconnect attempts; broker bridge disabled", b.opts.MaxAttempts)
		return
	}

	delay := Backoff(b.attempt, b.opts.ReconnectBase, b.opts.ReconnectMax)
	b.state = StateReconnectScheduled
	b.timer = b.afterFunc(delay, b.connect)
	log.Printf("[MQTT] Reconnect attempt %d/%d in %s", b.attempt, b.opts.MaxAttempts, delay)
}

// handleMessage routes one inbound broker message. Bad payloads and
// processing failures are logged and dropped.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	switch topic {
	case b.opts.TopicLocation:
		ev, err := domain.ParseLocationEvent(payload)
		if err != nil {
			log.Printf("[MQTT] Dropping invalid location message: %v", err)
			return
		}
		ctx := context.Background()
		result, err := b.tracker.ApplyEvent(ctx, ev)
		if err != nil {
			log.Printf("[MQTT] Failed to process location for %s: %v", ev.DeviceID, err)
			return
		}
		if err := b.hub.Broadcast(ctx, domain.NewPointer(result.Device, *result.Location)); err != nil {
			log.Printf("[MQTT] Broadcast for %s incomplete: %v", result.Device.ID, err)
		}

	case b.opts.TopicDeviceStatus:
		var status domain.DeviceStatus
		if err := json.Unmarshal(payload, &status); err != nil {
			log.Printf("[MQTT] Dropping invalid device status: %v", err)
			return
		}
		log.Printf("[MQTT] Device %s status: %s", status.DeviceID, status.Status)

	default:
		log.Printf("[MQTT] Message on unexpected topic %s", topic)
	}
}

// Publish sends payload at QoS 1. It fails with domain.ErrNotConnected
// unless the bridge is connected.
func (b *Bridge) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	client := b.client
	connected := b.state == StateConnected && client != nil
	b.mu.Unlock()

	if !connected {
		return domain.ErrNotConnected
	}
	return client.Publish(topic, qosAtLeastOnce, payload)
}

// SendCommand publishes a command to <commands topic>/<deviceID>.
func (b *Bridge) SendCommand(deviceID, command string, data json.RawMessage) error {
	if deviceID == "" {
		return &domain.ValidationError{Field: "deviceId", Reason: "required"}
	}
	if command == "" {
		return &domain.ValidationError{Field: "command", Reason: "required"}
	}
	payload, err := json.Marshal(domain.DeviceCommand{
		DeviceID:  deviceID,
		Command:   command,
		Data:      data,
		Timestamp: b.now(),
	})
	if err != nil {
		return err
	}
	if err := b.Publish(fmt.Sprintf("%s/%s", b.opts.TopicCommands, deviceID), payload); err != nil {
		return err
	}
	log.Printf("[MQTT] Sent command %s to device %s", command, deviceID)
	return nil
}
