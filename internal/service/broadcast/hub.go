package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

// PositionReader is the read side of the location store the hub needs.
type PositionReader interface {
	CountLocations(ctx context.Context, deviceID string) (int, error)
	LatestPositions(ctx context.Context) ([]domain.Position, error)
}

// PointerCache is an optional store of the latest pointer per device.
type PointerCache interface {
	Put(ctx context.Context, p domain.Pointer) error
	All(ctx context.Context) ([]domain.Pointer, bool, error)
	Fill(ctx context.Context, pointers []domain.Pointer) error
	Invalidate(ctx context.Context) error
}

// Sink receives every event the hub emits.
type Sink interface {
	Emit(ctx context.Context, ev domain.ServerEvent) error
}

type Hub struct {
	positions PositionReader
	cache     PointerCache

	mu    sync.RWMutex
	sinks []Sink
}

// NewHub creates a hub. cache may be nil.
func NewHub(positions PositionReader, cache PointerCache, sinks ...Sink) *Hub {
	return &Hub{
		positions: positions,
		cache:     cache,
		sinks:     sinks,
	}
}

func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Broadcast announces a freshly persisted location: pointerAdded for a
// device's first location and pointerMoved afterwards, then the full
// pointers snapshot, then locationUpdate. Events still go out when a read
// fails; the failures are returned together.
func (h *Hub) Broadcast(ctx context.Context, p domain.Pointer) error {
	var errs []error

	name := domain.EventPointerMoved
	count, err := h.positions.CountLocations(ctx, p.DeviceID)
	if err != nil {
		errs = append(errs, fmt.Errorf("count locations for %s: %w", p.DeviceID, err))
	} else if count <= 1 {
		name = domain.EventPointerAdded
	}

	if h.cache != nil {
		if err := h.cache.Put(ctx, p); err != nil {
			log.Printf("[HUB] Pointer cache write failed for %s: %v", p.DeviceID, err)
			h.invalidate(ctx)
		}
	}

	h.emit(ctx, domain.ServerEvent{Name: name, Data: p})

	pointers, err := h.AllPointers(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		h.emit(ctx, domain.ServerEvent{Name: domain.EventPointers, Data: pointers})
	}

	h.emit(ctx, domain.ServerEvent{
		Name: domain.EventLocationUpdate,
		Data: domain.LocationUpdate{DeviceID: p.DeviceID, Latitude: p.Latitude, Longitude: p.Longitude},
	})

	return errors.Join(errs...)
}

// AllPointers returns one pointer per device that has a location, built
// from its most recent sample and ordered by device id.
func (h *Hub) AllPointers(ctx context.Context) ([]domain.Pointer, error) {
	if h.cache != nil {
		cached, warm, err := h.cache.All(ctx)
		if err != nil {
			log.Printf("[HUB] Pointer cache read failed: %v", err)
			h.invalidate(ctx)
		} else if warm {
			sortPointers(cached)
			return cached, nil
		}
	}

	positions, err := h.positions.LatestPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest positions: %w", err)
	}
	pointers := make([]domain.Pointer, 0, len(positions))
	for _, pos := range positions {
		pointers = append(pointers, domain.NewPointer(pos.Device, pos.Location))
	}
	sortPointers(pointers)

	if h.cache != nil {
		if err := h.cache.Fill(ctx, pointers); err != nil {
			log.Printf("[HUB] Pointer cache fill failed: %v", err)
			h.invalidate(ctx)
		}
	}
	return pointers, nil
}

func (h *Hub) emit(ctx context.Context, ev domain.ServerEvent) {
	h.mu.RLock()
	sinks := make([]Sink, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Emit(ctx, ev); err != nil {
			log.Printf("[HUB] Failed to deliver %s: %v", ev.Name, err)
		}
	}
}

func (h *Hub) invalidate(ctx context.Context) {
	if err := h.cache.Invalidate(ctx); err != nil {
		log.Printf("[HUB] Pointer cache invalidation failed: %v", err)
	}
}

func sortPointers(pointers []domain.Pointer) {
	sort.Slice(pointers, func(i, j int) bool { return pointers[i].DeviceID < pointers[j].DeviceID })
}
