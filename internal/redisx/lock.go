package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// Lock is a SETNX lock with an owner token and TTL. Lock retries until the
// key is free or ctx is done; TryLock gives up immediately.
type Lock struct {
	rdb   Commands
	key   string
	ttl   time.Duration
	retry time.Duration
}

func NewLock(rdb Commands, name string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = TTLLock
	}
	return &Lock{rdb: rdb, key: fmt.Sprintf(KeyLock, name), ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *Lock) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		// Released with a fresh context so a cancelled caller still unlocks.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.rdb.Eval(rctx, releaseScript, []string{l.key}, token).Err()
	}, nil
}

func (l *Lock) Lock(ctx context.Context) (func(), error) {
	for {
		unlock, err := l.TryLock(ctx)
		if !errors.Is(err, ErrLockHeld) {
			return unlock, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", l.key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}
