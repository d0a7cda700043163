package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type StatusEntry struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache keeps the latest order status for cheap polling.
type StatusCache struct {
	rdb Commands
	ttl time.Duration
}

func NewStatusCache(rdb Commands) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func (c *StatusCache) Put(ctx context.Context, orderID, status string, at time.Time) error {
	b, err := json.Marshal(StatusEntry{Status: status, UpdatedAt: at.UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, c.ttl).Err()
}

// Get reports ok=false on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal([]byte(v), &e); err != nil {
		return StatusEntry{}, false, err
	}
	return e, true, nil
}
