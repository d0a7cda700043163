package redisx

import (
	"context"
	"fmt"
)

// Deduper remembers which events a consumer has already handled.
type Deduper struct {
	rdb      Commands
	consumer string
}

func NewDeduper(rdb Commands, consumer string) *Deduper {
	return &Deduper{rdb: rdb, consumer: consumer}
}

// First marks eventID as seen and reports whether this was the first sighting.
func (d *Deduper) First(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.consumer, eventID), "1", TTLDedup).Result()
}

// Forget lets a failed event be handled again on redelivery.
func (d *Deduper) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.consumer, eventID)).Err()
}
