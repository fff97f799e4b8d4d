package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

// fakeStore is an in-memory implementation of the three repositories. It
// does not enforce the one-open-timeline rule unless enforceUnique is set,
// so tests can observe the tracker's own serialization.
type fakeStore struct {
	mu            sync.Mutex
	devices       map[string]domain.Device
	timelines     []*domain.Timeline
	locations     []domain.Location
	nextLocID     int64
	enforceUnique bool

	// hideOpenOnce makes the next GetOpenTimeline miss, emulating a
	// competing writer that commits between lookup and create.
	hideOpenOnce bool

	failUpsert   error
	failLocation error
	failOpen     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]domain.Device)}
}

func (s *fakeStore) UpsertDevice(ctx context.Context, d *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert != nil {
		return s.failUpsert
	}
	if existing, ok := s.devices[d.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	}
	s.devices[d.ID] = *d
	return nil
}

func (s *fakeStore) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *fakeStore) GetOpenTimeline(ctx context.Context, deviceID string) (*domain.Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen != nil {
		return nil, s.failOpen
	}
	if s.hideOpenOnce {
		s.hideOpenOnce = false
		return nil, nil
	}
	for _, t := range s.timelines {
		if t.DeviceID == deviceID && t.EndTime == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateTimeline(ctx context.Context, t *domain.Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enforceUnique {
		for _, existing := range s.timelines {
			if existing.DeviceID == t.DeviceID && existing.EndTime == nil {
				return domain.ErrOpenTimelineExists
			}
		}
	}
	cp := *t
	s.timelines = append(s.timelines, &cp)
	return nil
}

func (s *fakeStore) CloseTimeline(ctx context.Context, id string, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timelines {
		if t.ID == id {
			end := endTime
			t.EndTime = &end
			return nil
		}
	}
	return domain.ErrTimelineNotFound
}

func (s *fakeStore) ListOpenTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return s.listTimelines(func(t *domain.Timeline) bool { return t.EndTime == nil }), nil
}

func (s *fakeStore) ListClosedTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error) {
	return s.listTimelines(func(t *domain.Timeline) bool { return t.EndTime != nil }), nil
}

func (s *fakeStore) listTimelines(keep func(*domain.Timeline) bool) []domain.TimelineWithDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TimelineWithDevice
	for _, t := range s.timelines {
		if keep(t) {
			out = append(out, domain.TimelineWithDevice{Timeline: *t, Device: s.devices[t.DeviceID]})
		}
	}
	return out
}

func (s *fakeStore) CreateLocation(ctx context.Context, loc *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocation != nil {
		return s.failLocation
	}
	s.nextLocID++
	loc.ID = s.nextLocID
	s.locations = append(s.locations, *loc)
	return nil
}

func (s *fakeStore) GetLatestLocation(ctx context.Context, deviceID string) (*domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.locations) - 1; i >= 0; i-- {
		if s.locations[i].DeviceID == deviceID {
			loc := s.locations[i]
			return &loc, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListLocationsByTimeline(ctx context.Context, timelineID string) ([]domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Location
	for _, l := range s.locations {
		if l.TimelineID != nil && *l.TimelineID == timelineID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) openTimelines(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timelines {
		if t.DeviceID == deviceID && t.EndTime == nil {
			n++
		}
	}
	return n
}

func (s *fakeStore) timelineCount(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timelines {
		if t.DeviceID == deviceID {
			n++
		}
	}
	return n
}

func (s *fakeStore) locationsFor(deviceID string) []domain.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Location
	for _, l := range s.locations {
		if l.DeviceID == deviceID {
			out = append(out, l)
		}
	}
	return out
}

var errDatabaseDown = errors.New("database down")
