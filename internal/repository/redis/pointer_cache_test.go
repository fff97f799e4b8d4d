package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*PointerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewPointerCache(client), mr
}

func pointer(deviceID string, locationID int64, at time.Time, lat float64) domain.Pointer {
	return domain.Pointer{
		ID:         "p",
		DeviceID:   deviceID,
		DeviceName: "Device " + deviceID,
		OS:         "Mobile",
		Latitude:   lat,
		Longitude:  lat,
		Timestamp:  at,
		LocationID: locationID,
	}
}

func byDevice(ps []domain.Pointer) map[string]domain.Pointer {
	out := make(map[string]domain.Pointer, len(ps))
	for _, p := range ps {
		out[p.DeviceID] = p
	}
	return out
}

func TestPointerCache_ColdUntilFilled(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if err := c.Put(ctx, pointer("a", 1, t0, 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ps, warm, err := c.All(ctx)
	if err != nil || warm || len(ps) != 0 {
		t.Fatalf("All before Fill = %v, %v, %v; want cold", ps, warm, err)
	}

	if err := c.Fill(ctx, []domain.Pointer{pointer("b", 2, t0, 5)}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	ps, warm, err = c.All(ctx)
	if err != nil || !warm {
		t.Fatalf("All after Fill: warm=%v err=%v", warm, err)
	}
	got := byDevice(ps)
	if len(got) != 2 || got["a"].Latitude != 1 || got["b"].Latitude != 5 {
		t.Errorf("pointers = %+v", got)
	}
	if !got["b"].Timestamp.Equal(t0) || got["b"].DeviceName != "Device b" {
		t.Errorf("decoded pointer = %+v", got["b"])
	}
}

func TestPointerCache_OutOfOrderPutKeepsNewest(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	if err := c.Fill(ctx, nil); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	newer := pointer("a", 2, t0.Add(time.Second), 2)
	older := pointer("a", 1, t0, 1)
	if err := c.Put(ctx, newer); err != nil {
		t.Fatalf("Put newer: %v", err)
	}
	if err := c.Put(ctx, older); err != nil {
		t.Fatalf("Put older: %v", err)
	}

	ps, warm, err := c.All(ctx)
	if err != nil || !warm || len(ps) != 1 {
		t.Fatalf("All = %v, %v, %v", ps, warm, err)
	}
	if ps[0].Latitude != 2 {
		t.Errorf("latitude = %v, want 2 (most recent location)", ps[0].Latitude)
	}
}

func TestPointerCache_SameTimestampOrderedByLocationID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	if err := c.Fill(ctx, nil); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	for _, p := range []domain.Pointer{pointer("a", 8, t0, 8), pointer("a", 7, t0, 7), pointer("a", 9, t0, 9)} {
		if err := c.Put(ctx, p); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	ps, _, err := c.All(ctx)
	if err != nil || len(ps) != 1 || ps[0].Latitude != 9 {
		t.Errorf("All = %+v, %v; want location 9", ps, err)
	}
}

func TestPointerCache_FillKeepsNewerPuts(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if err := c.Put(ctx, pointer("a", 5, t0.Add(time.Minute), 5)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	snapshot := []domain.Pointer{pointer("a", 4, t0, 4), pointer("b", 3, t0, 3)}
	if err := c.Fill(ctx, snapshot); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	ps, warm, err := c.All(ctx)
	if err != nil || !warm {
		t.Fatalf("All: warm=%v err=%v", warm, err)
	}
	got := byDevice(ps)
	if got["a"].Latitude != 5 || got["b"].Latitude != 3 {
		t.Errorf("pointers = %+v", got)
	}
}

func TestPointerCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	if err := c.Fill(ctx, []domain.Pointer{pointer("a", 2, t0, 2)}); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	for _, key := range []string{pointersKey, orderKey, warmKey} {
		if mr.Exists(key) {
			t.Errorf("%s survived invalidation", key)
		}
	}
	ps, warm, err := c.All(ctx)
	if err != nil || warm || len(ps) != 0 {
		t.Errorf("All after Invalidate = %v, %v, %v", ps, warm, err)
	}

	// Recency is forgotten with the entries, so an older snapshot can refill.
	if err := c.Fill(ctx, []domain.Pointer{pointer("a", 1, t0.Add(-time.Hour), 1)}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	ps, _, _ = c.All(ctx)
	if len(ps) != 1 || ps[0].Latitude != 1 {
		t.Errorf("refilled pointers = %+v", ps)
	}
}

func TestPointerCache_UnavailableServer(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	mr.Close()

	if err := c.Put(ctx, pointer("a", 1, t0, 1)); err == nil {
		t.Error("Put against a closed server should fail")
	}
	if _, _, err := c.All(ctx); err == nil {
		t.Error("All against a closed server should fail")
	}
}
