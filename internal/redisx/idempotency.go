package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimPending = "pending"

var ErrInFlight = errors.New("request with this idempotency key is in progress")

// IdempotencyStore maps client idempotency keys to order ids.
type IdempotencyStore struct {
	rdb Commands
	ttl time.Duration
}

func NewIdempotencyStore(rdb Commands, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Claim reserves key for a new request for TTLClaim; Bind extends it to the
// full idempotency window. When the key already maps to an order
// its id is returned with claimed=false. ErrInFlight means another request
// holds the key and has not finished yet.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemCheckout, key)
	ok, err := s.rdb.SetNX(ctx, k, claimPending, TTLClaim).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return s.Claim(ctx, key)
	}
	if err != nil {
		return "", false, err
	}
	if v == claimPending {
		return "", false, ErrInFlight
	}
	return v, false, nil
}

func (s *IdempotencyStore) Bind(ctx context.Context, key, orderID string) error {
	return s.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, key), orderID, s.ttl).Err()
}

// Forget drops a claim so the client can retry after a failed checkout.
func (s *IdempotencyStore) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(KeyIdemCheckout, key)).Err()
}
