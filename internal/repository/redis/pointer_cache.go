package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

const (
	pointersKey = "geo:pointers"
	orderKey    = "geo:pointers:order"
	warmKey     = "geo:pointers:warm"
)

// putNewer writes ARGV[4] for device ARGV[1] unless the stored pointer is
// at least as recent. Recency is (timestamp micros ARGV[2], location id ARGV[3]).
var putNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur then
	local ts, id = string.match(cur, '^(%-?%d+):(%-?%d+)$')
	ts = tonumber(ts)
	id = tonumber(id)
	local nts = tonumber(ARGV[2])
	local nid = tonumber(ARGV[3])
	if ts and (nts < ts or (nts == ts and nid <= id)) then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2] .. ':' .. ARGV[3])
return 1
`)

// PointerCache keeps the latest pointer per device in a hash. The warm
// marker says the hash was filled from storage and can be served as is.
// A second hash holds each entry's recency so late writes never replace a
// newer pointer.
type PointerCache struct {
	client *redis.Client
}

func NewPointerCache(client *redis.Client) *PointerCache {
	return &PointerCache{client: client}
}

func putArgs(p domain.Pointer) ([]interface{}, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return []interface{}{p.DeviceID, p.Timestamp.UnixMicro(), p.LocationID, data}, nil
}

// Put records p unless the cache already holds a newer pointer for its device.
func (c *PointerCache) Put(ctx context.Context, p domain.Pointer) error {
	args, err := putArgs(p)
	if err != nil {
		return err
	}
	return putNewer.Run(ctx, c.client, []string{pointersKey, orderKey}, args...).Err()
}

// All returns the cached pointers and whether the cache is warm. A cold
// cache returns no pointers.
func (c *PointerCache) All(ctx context.Context) ([]domain.Pointer, bool, error) {
	n, err := c.client.Exists(ctx, warmKey).Result()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	fields, err := c.client.HGetAll(ctx, pointersKey).Result()
	if err != nil {
		return nil, false, err
	}
	out := make([]domain.Pointer, 0, len(fields))
	for deviceID, raw := range fields {
		var p domain.Pointer
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, false, fmt.Errorf("decode cached pointer %s: %w", deviceID, err)
		}
		out = append(out, p)
	}
	return out, true, nil
}

// Fill loads a storage snapshot and marks the cache warm. Entries written by
// Put that are newer than the snapshot are kept.
func (c *PointerCache) Fill(ctx context.Context, pointers []domain.Pointer) error {
	pipe := c.client.TxPipeline()
	for _, p := range pointers {
		args, err := putArgs(p)
		if err != nil {
			return err
		}
		putNewer.Eval(ctx, pipe, []string{pointersKey, orderKey}, args...)
	}
	pipe.Set(ctx, warmKey, "1", 0)
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate drops the cache; the next read rebuilds it from storage.
func (c *PointerCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, warmKey, pointersKey, orderKey).Err()
}
