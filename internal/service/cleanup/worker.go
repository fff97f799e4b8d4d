package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
	"github.com/iamasit07/geo-tracking/backend/internal/service/tracker"
)

const reasonInactivity = "inactivity"

// Connection is a registry entry handed over by Claim.
type Connection interface {
	DeviceID() string
	Send(ev domain.ServerEvent) error
	Close() error
}

type Registry interface {
	IdleConnections(now time.Time, threshold time.Duration) []string
	Claim(id string, now time.Time, threshold time.Duration) (Connection, bool)
}

type Finisher interface {
	ForceFinish(ctx context.Context, deviceID string) (*tracker.Result, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, p domain.Pointer) error
}

// Worker periodically reaps connections that sent no application message
// within Threshold, closing their device's trip first.
type Worker struct {
	Registry  Registry
	Tracker   Finisher
	Hub       Broadcaster
	Threshold time.Duration
	Interval  time.Duration

	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewWorker(reg Registry, tr Finisher, hub Broadcaster, threshold, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = threshold
	}
	return &Worker{
		Registry:  reg,
		Tracker:   tr,
		Hub:       hub,
		Threshold: threshold,
		Interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start initiates the background ticker. It is a no-op after Stop or a
// previous Start.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	ticker := time.NewTicker(w.Interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.Sweep(context.Background())
			}
		}
	}()
	log.Printf("[CLEANUP] Idle reaper started (threshold=%s, interval=%s)", w.Threshold, w.Interval)
}

// Stop halts the ticker and waits for a running sweep to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	w.mu.Lock()
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	if started {
		<-w.done
	}
	log.Println("[CLEANUP] Idle reaper stopped")
}

// Sweep reaps every idle connection and returns how many were reaped. One
// entry failing does not stop the others.
func (w *Worker) Sweep(ctx context.Context) int {
	now := w.now()
	ids := w.Registry.IdleConnections(now, w.Threshold)
	if len(ids) == 0 {
		return 0
	}
	log.Printf("[CLEANUP] Found %d idle connections", len(ids))

	reaped := 0
	for _, id := range ids {
		ok, err := w.reap(ctx, id, now)
		if err != nil {
			log.Printf("[CLEANUP] Error reaping connection %s: %v", id, err)
		}
		if ok {
			reaped++
		}
	}
	return reaped
}

func (w *Worker) reap(ctx context.Context, id string, now time.Time) (bool, error) {
	conn, ok := w.Registry.Claim(id, now, w.Threshold)
	if !ok {
		// Removed or active again since the scan.
		return false, nil
	}
	defer conn.Close()

	var errs []error
	deviceID := conn.DeviceID()
	if deviceID != "" {
		result, err := w.Tracker.ForceFinish(ctx, deviceID)
		if err != nil {
			errs = append(errs, fmt.Errorf("force finish %s: %w", deviceID, err))
		} else if result.Location != nil {
			if err := w.Hub.Broadcast(ctx, domain.NewPointer(result.Device, *result.Location)); err != nil {
				errs = append(errs, fmt.Errorf("broadcast closing location for %s: %w", deviceID, err))
			}
		}

		if err := conn.Send(domain.ServerEvent{
			Name: domain.EventTrackingEnded,
			Data: domain.Notice{Timestamp: now, Message: domain.InactivityMarker, Reason: reasonInactivity, DeviceID: deviceID},
		}); err != nil {
			errs = append(errs, fmt.Errorf("send trackingEnded: %w", err))
		}
	}

	if err := conn.Send(domain.ServerEvent{
		Name: domain.EventForceDisconnect,
		Data: domain.Notice{Timestamp: now, Message: "Connection closed due to inactivity", Reason: reasonInactivity, DeviceID: deviceID},
	}); err != nil {
		errs = append(errs, fmt.Errorf("send forceDisconnect: %w", err))
	}

	log.Printf("[CLEANUP] Reaped idle connection %s (device=%q)", id, deviceID)
	return true, errors.Join(errs...)
}
