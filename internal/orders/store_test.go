package orders

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func sampleOrder(id string) *Order {
	items := []Item{
		{ProductID: "P1", VariationID: "V1", Quantity: 2, UnitPrice: decimal.RequireFromString("199.50")},
	}
	return &Order{
		OrderID:      id,
		CustomerInfo: CustomerInfo{Name: "Asha", Phone: "9999999999", Address: "12 MG Road"},
		Items:        items,
		Total:        TotalOf(items),
		Status:       StatusPaid, // overwritten by Create
		PaymentID:    "pay_stale",
	}
}

func TestFileStoreCreateResetsLifecycleFields(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Create(context.Background(), sampleOrder("ORD-1")))

	got, err := s.Get(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)
	assert.Empty(t, got.PaymentID)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.Total.Equal(decimal.RequireFromString("399")))
}

func TestFileStoreCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("ORD-1")))

	err := s.Create(ctx, sampleOrder("ORD-1"))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDuplicateKey), "got %v", err)

	require.NoError(t, s.Complete(ctx, "ORD-1"))
	err = s.Create(ctx, sampleOrder("ORD-1"))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDuplicateKey), "completed ids are also taken: %v", err)
}

func TestFileStoreTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("ORD-1")))

	got, err := s.Transition(ctx, "ORD-1", StatusPaid, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, "pay_123", got.PaymentID)

	got, err = s.Transition(ctx, "ORD-1", StatusPaid, "")
	require.NoError(t, err)
	assert.Equal(t, "pay_123", got.PaymentID, "empty payment id keeps the existing one")
}

func TestFileStoreTransitionMissingOrCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Transition(ctx, "ORD-missing", StatusPaid, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	require.NoError(t, os.WriteFile(filepath.Join(s.root, partitionPending, "ORD-bad.json"), []byte("{nope"), 0o644))
	_, err = s.Transition(ctx, "ORD-bad", StatusPaid, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestFileStoreListPendingSortsAndSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"ORD-a", "ORD-b", "ORD-c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Create(ctx, sampleOrder(id)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.root, partitionPending, "garbage.json"), []byte("not json"), 0o644))

	list, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "ORD-c", list[0].OrderID)
	assert.Equal(t, "ORD-a", list[2].OrderID)
}

func TestFileStoreComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("ORD-1")))

	require.NoError(t, s.Complete(ctx, "ORD-1"))

	list, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := s.Get(ctx, "ORD-1")
	require.NoError(t, err, "completed orders stay readable")
	assert.Equal(t, "ORD-1", got.OrderID)

	err = s.Complete(ctx, "ORD-1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestFileStorePathTraversalIsContained(t *testing.T) {
	s := newTestStore(t)
	o := sampleOrder("../../escape")
	require.NoError(t, s.Create(context.Background(), o))

	_, err := os.Stat(filepath.Join(s.root, partitionPending, "escape.json"))
	assert.NoError(t, err)
}

func TestFileStoreConcurrentUpdatesSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleOrder("ORD-1")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "ORD-1", func(o *Order) error {
				o.Items[0].Quantity++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 22, got.Items[0].Quantity)
}
