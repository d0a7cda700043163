package redisx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx/redistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockExcludesSecondOwner(t *testing.T) {
	rdb := redistest.New()
	ctx := context.Background()
	a := redisx.NewLock(rdb, "ledger", time.Second)
	b := redisx.NewLock(rdb, "ledger", time.Second)

	unlock, err := a.TryLock(ctx)
	require.NoError(t, err)

	_, err = b.TryLock(ctx)
	assert.ErrorIs(t, err, redisx.ErrLockHeld)

	waitCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_, err = b.Lock(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlockB, err := b.Lock(ctx)
	require.NoError(t, err)
	unlockB()
	_, held := rdb.Value("lock:ledger")
	assert.False(t, held)
}

func TestLockReleaseKeepsForeignToken(t *testing.T) {
	rdb := redistest.New()
	ctx := context.Background()
	l := redisx.NewLock(rdb, "sweep", time.Second)

	unlock, err := l.TryLock(ctx)
	require.NoError(t, err)
	// the lock expired and someone else took it
	require.NoError(t, rdb.Set(ctx, "lock:sweep", "other-owner", 0).Err())

	unlock()
	v, _ := rdb.Value("lock:sweep")
	assert.Equal(t, "other-owner", v)
}

func TestIdempotencyClaimBindReplay(t *testing.T) {
	rdb := redistest.New()
	ctx := context.Background()
	s := redisx.NewIdempotencyStore(rdb, time.Hour)

	_, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, claimed, err = s.Claim(ctx, "k1")
	assert.ErrorIs(t, err, redisx.ErrInFlight)
	assert.False(t, claimed)

	require.NoError(t, s.Bind(ctx, "k1", "ORD-1"))
	id, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "ORD-1", id)

	require.NoError(t, s.Forget(ctx, "k1"))
	_, claimed, err = s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyClaimExpiresBeforeBinding(t *testing.T) {
	rdb := redistest.New()
	ctx := context.Background()
	s := redisx.NewIdempotencyStore(rdb, 24*time.Hour)

	_, claimed, err := s.Claim(ctx, "k2")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, redisx.TTLClaim, rdb.TTL("idem:checkout:k2"))
	assert.Less(t, redisx.TTLClaim, time.Hour)

	require.NoError(t, s.Bind(ctx, "k2", "ORD-2"))
	assert.Equal(t, 24*time.Hour, rdb.TTL("idem:checkout:k2"))
}

func TestStatusCache(t *testing.T) {
	rdb := redistest.New()
	ctx := context.Background()
	c := redisx.NewStatusCache(rdb)

	_, ok, err := c.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, "ORD-1", "Paid", at))
	e, ok, err := c.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Paid", e.Status)
	assert.True(t, at.Equal(e.UpdatedAt))

	rdb.Err = errors.New("down")
	_, _, err = c.Get(ctx, "ORD-1")
	assert.Error(t, err)
}

func TestDeduperFirstSighting(t *testing.T) {
	rdb := redistest.New()
	ctx := context.Background()
	d := redisx.NewDeduper(rdb, "notifier")

	first, err := d.First(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.First(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, first)

	other, err := redisx.NewDeduper(rdb, "audit").First(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, d.Forget(ctx, "evt-1"))
	first, err = d.First(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
}
