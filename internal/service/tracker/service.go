package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
	"github.com/iamasit07/geo-tracking/backend/pkg/uid"
)

type DeviceRepository interface {
	UpsertDevice(ctx context.Context, device *domain.Device) error
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
}

// TimelineRepository persists trip sessions. CreateTimeline must return
// domain.ErrOpenTimelineExists when the store already holds an open
// timeline for the device.
type TimelineRepository interface {
	GetOpenTimeline(ctx context.Context, deviceID string) (*domain.Timeline, error)
	CreateTimeline(ctx context.Context, timeline *domain.Timeline) error
	CloseTimeline(ctx context.Context, id string, endTime time.Time) error
	ListOpenTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error)
	ListClosedTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error)
}

type LocationRepository interface {
	CreateLocation(ctx context.Context, loc *domain.Location) error
	GetLatestLocation(ctx context.Context, deviceID string) (*domain.Location, error)
	ListLocationsByTimeline(ctx context.Context, timelineID string) ([]domain.Location, error)
}

// Transition describes what an event did to the device's trip session.
type Transition string

const (
	TransitionOpened         Transition = "opened"
	TransitionAlreadyOpen    Transition = "already_open"
	TransitionClosed         Transition = "closed"
	TransitionNothingToClose Transition = "nothing_to_close"
	TransitionNone           Transition = "none"
)

type Result struct {
	Device     domain.Device
	Location   *domain.Location // nil when nothing was written
	Timeline   *domain.Timeline // open or just-closed timeline, nil if none
	Transition Transition
}

// Tracker owns the trip-session state machine. Every read-modify-write for
// a device runs under that device's lock.
type Tracker struct {
	devices   DeviceRepository
	timelines TimelineRepository
	locations LocationRepository
	locks     *deviceLocks
	now       func() time.Time
}

func NewTracker(devices DeviceRepository, timelines TimelineRepository, locations LocationRepository) *Tracker {
	return &Tracker{
		devices:   devices,
		timelines: timelines,
		locations: locations,
		locks:     newDeviceLocks(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ApplyEvent validates the event, resolves the session transition and
// appends the location sample.
func (t *Tracker) ApplyEvent(ctx context.Context, ev domain.LocationEvent) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	deviceID := ev.DeviceID
	if deviceID == "" {
		deviceID = uid.GenerateDeviceID()
		log.Printf("[TRACKER] Generated new deviceId: %s", deviceID)
	}

	unlock := t.locks.Lock(deviceID)
	defer unlock()

	now := t.now()
	device := domain.Device{
		ID:        deviceID,
		Name:      ev.DeviceName,
		OS:        ev.OS,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if device.Name == "" {
		device.Name = domain.DefaultDeviceName(deviceID)
	}
	if device.OS == "" {
		device.OS = domain.DefaultOS
	}
	if err := t.devices.UpsertDevice(ctx, &device); err != nil {
		return nil, fmt.Errorf("upsert device %s: %w", deviceID, err)
	}

	timeline, err := t.timelines.GetOpenTimeline(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("find open timeline for device %s: %w", deviceID, err)
	}

	transition, timeline, err := t.transition(ctx, deviceID, ev.EventType, timeline, now)
	if err != nil {
		return nil, err
	}

	reverseData := ev.ReverseData
	if reverseData == "" {
		reverseData = domain.DefaultReverseData
	}
	loc := &domain.Location{
		DeviceID:    deviceID,
		Latitude:    *ev.Latitude,
		Longitude:   *ev.Longitude,
		ReverseData: reverseData,
		EventType:   ev.EventType,
		TimelineID:  timelineID(timeline),
		CreatedAt:   now,
	}
	if err := t.locations.CreateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("insert location for device %s: %w", deviceID, err)
	}

	return &Result{Device: device, Location: loc, Timeline: timeline, Transition: transition}, nil
}

func (t *Tracker) transition(ctx context.Context, deviceID string, eventType domain.EventType, open *domain.Timeline, now time.Time) (Transition, *domain.Timeline, error) {
	switch eventType {
	case domain.EventStart:
		if open != nil {
			log.Printf("[TRACKER] Device %s already has an active timeline: %s", deviceID, open.ID)
			return TransitionAlreadyOpen, open, nil
		}
		timeline := &domain.Timeline{
			ID:        uid.GenerateTimelineID(),
			DeviceID:  deviceID,
			StartTime: now,
			CreatedAt: now,
		}
		err := t.timelines.CreateTimeline(ctx, timeline)
		if errors.Is(err, domain.ErrOpenTimelineExists) {
			// Another writer opened one first; adopt it.
			existing, getErr := t.timelines.GetOpenTimeline(ctx, deviceID)
			if getErr != nil {
				return "", nil, fmt.Errorf("reload open timeline for device %s: %w", deviceID, getErr)
			}
			if existing == nil {
				return "", nil, fmt.Errorf("create timeline for device %s: %w", deviceID, err)
			}
			log.Printf("[TRACKER] Timeline for device %s was opened concurrently: %s", deviceID, existing.ID)
			return TransitionAlreadyOpen, existing, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("create timeline for device %s: %w", deviceID, err)
		}
		log.Printf("[TRACKER] New timeline %s started for device %s", timeline.ID, deviceID)
		return TransitionOpened, timeline, nil

	case domain.EventFinish:
		if open == nil {
			return TransitionNothingToClose, nil, nil
		}
		if err := t.timelines.CloseTimeline(ctx, open.ID, now); err != nil {
			return "", nil, fmt.Errorf("close timeline %s for device %s: %w", open.ID, deviceID, err)
		}
		closed := *open
		closed.EndTime = &now
		log.Printf("[TRACKER] Timeline %s ended for device %s", open.ID, deviceID)
		return TransitionClosed, &closed, nil
	}

	return TransitionNone, open, nil
}

// ForceFinish closes the device's open timeline without a new sample. When a
// previous location exists, a FINISH sample is appended at those coordinates.
// A device without an open timeline is left untouched.
func (t *Tracker) ForceFinish(ctx context.Context, deviceID string) (*Result, error) {
	unlock := t.locks.Lock(deviceID)
	defer unlock()

	open, err := t.timelines.GetOpenTimeline(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("find open timeline for device %s: %w", deviceID, err)
	}
	result := &Result{Device: domain.Device{ID: deviceID}, Transition: TransitionNothingToClose}
	if open == nil {
		return result, nil
	}

	if device, err := t.devices.GetDevice(ctx, deviceID); err != nil {
		log.Printf("[TRACKER] Could not load device %s: %v", deviceID, err)
	} else if device != nil {
		result.Device = *device
	}

	last, err := t.locations.GetLatestLocation(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("find last location for device %s: %w", deviceID, err)
	}

	now := t.now()
	if err := t.timelines.CloseTimeline(ctx, open.ID, now); err != nil {
		return nil, fmt.Errorf("close timeline %s for device %s: %w", open.ID, deviceID, err)
	}
	closed := *open
	closed.EndTime = &now
	result.Timeline = &closed
	result.Transition = TransitionClosed
	log.Printf("[TRACKER] Timeline %s force-closed for device %s", open.ID, deviceID)

	if last == nil {
		return result, nil
	}

	loc := &domain.Location{
		DeviceID:    deviceID,
		Latitude:    last.Latitude,
		Longitude:   last.Longitude,
		ReverseData: domain.InactivityMarker,
		EventType:   domain.EventFinish,
		TimelineID:  &closed.ID,
		CreatedAt:   now,
	}
	if err := t.locations.CreateLocation(ctx, loc); err != nil {
		return result, fmt.Errorf("insert closing location for device %s: %w", deviceID, err)
	}
	result.Location = loc
	return result, nil
}

func (t *Tracker) ActiveTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return t.timelines.ListOpenTimelines(ctx)
}

func (t *Tracker) TimelineHistory(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return t.timelines.ListClosedTimelines(ctx)
}

// TimelineDetail returns the samples of one timeline in replay order.
func (t *Tracker) TimelineDetail(ctx context.Context, timelineID string) ([]domain.Location, error) {
	if timelineID == "" {
		return nil, &domain.ValidationError{Field: "timelineId", Reason: "required"}
	}
	return t.locations.ListLocationsByTimeline(ctx, timelineID)
}

func timelineID(t *domain.Timeline) *string {
	if t == nil {
		return nil
	}
	id := t.ID
	return &id
}
