package masterdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "masterdata:snapshot:v1"

// SnapshotCache shares the loaded reference table across processes.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache wraps client. A nil client disables caching.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Get returns the cached table if present.
func (c *SnapshotCache) Get(ctx context.Context) (Table, bool, error) {
	if c == nil || c.client == nil {
		return Table{}, false, nil
	}
	raw, err := c.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Table{}, false, nil
	}
	if err != nil {
		return Table{}, false, fmt.Errorf("masterdata: cache get: %w", err)
	}
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return Table{}, false, fmt.Errorf("masterdata: cache decode: %w", err)
	}
	return t, true, nil
}

// Put stores the table for the configured TTL.
func (c *SnapshotCache) Put(ctx context.Context, t Table) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("masterdata: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("masterdata: cache set: %w", err)
	}
	return nil
}

// Invalidate drops the shared snapshot.
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, snapshotKey).Err()
}
