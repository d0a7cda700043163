package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx/redistest"
	"github.com/ariefcatur/go-storefront-orders/internal/reservation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event, _ notify.Details) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixedPricer struct{}

func (fixedPricer) Price(_ context.Context, lines []orders.Item) ([]orders.Item, error) {
	out := make([]orders.Item, len(lines))
	for i, it := range lines {
		it.Name = "Lip Tint"
		it.UnitPrice = decimal.RequireFromString("249.50")
		out[i] = it
	}
	return out, nil
}

type failingStore struct{ orders.Store }

func (failingStore) Create(context.Context, *orders.Order) error {
	return errors.New("disk full")
}

type harness struct {
	lc     *Lifecycle
	ledger *ledger.Memory
	store  *orders.FileStore
	rdb    *redistest.Fake
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := orders.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	l := ledger.NewMemory("inventory", ledger.Seed{"inventory": {
		{"variationId": "V1", "productId": "P1", "stock": "5"},
		{"variationId": "V2", "productId": "P1", "stock": "3"},
	}})
	rdb := redistest.New()
	events := &recorder{}
	lc := New(Deps{
		Store:       store,
		Reserver:    reservation.NewCoordinator(l, nil, nil, nil),
		Pricer:      fixedPricer{},
		Idempotency: redisx.NewIdempotencyStore(rdb, 0),
		StatusCache: redisx.NewStatusCache(rdb),
		Notifier:    events,
	})
	return &harness{lc: lc, ledger: l, store: store, rdb: rdb, events: events}
}

func (h *harness) stock(t *testing.T, id string) int {
	row, err := h.ledger.FindRow(context.Background(), id)
	require.NoError(t, err)
	return row.Stock
}

var customer = orders.CustomerInfo{Name: "Asha", Phone: "9876543210", Address: "12 Main St"}

func cart(id string, qty int) []orders.Item {
	return []orders.Item{{ProductID: "P1", VariationID: id, Quantity: qty}}
}

func TestCreateReservesAndPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, replayed, err := h.lc.Create(ctx, cart("V1", 2), customer, "")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Regexp(t, `^ORD-[0-9a-f-]{36}$`, o.OrderID)
	assert.Equal(t, orders.StatusPendingPayment, o.Status)
	assert.True(t, decimal.RequireFromString("499").Equal(o.Total))
	assert.Equal(t, 3, h.stock(t, "V1"))

	stored, err := h.store.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Lip Tint", stored.Items[0].Name)

	cached, ok := h.rdb.Value("order_status:" + o.OrderID)
	assert.True(t, ok)
	assert.Contains(t, cached, "Pending Payment")
	assert.Equal(t, []notify.Event{notify.EventOrderCreated}, h.events.events)
}

func TestCreateOutOfStockWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.lc.Create(ctx, cart("V2", 10), customer, "key-1")
	require.True(t, apperrors.IsCode(err, apperrors.CodeOutOfStock))
	shortages, ok := apperrors.As(err).Details().([]ledger.Shortage)
	require.True(t, ok)
	assert.Equal(t, 3, shortages[0].Available)

	assert.Equal(t, 3, h.stock(t, "V2"))
	pending, err := h.store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, held := h.rdb.Value("idem:checkout:key-1")
	assert.False(t, held, "failed checkout must free its idempotency key")
}

func TestCreateReplayReturnsOriginalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, _, err := h.lc.Create(ctx, cart("V1", 2), customer, "key-1")
	require.NoError(t, err)
	again, replayed, err := h.lc.Create(ctx, cart("V1", 2), customer, "key-1")
	require.NoError(t, err)

	assert.True(t, replayed)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, 3, h.stock(t, "V1"), "replay must not reserve twice")
}

func TestCreateReleasesStockWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	h.lc.store = failingStore{Store: h.store}

	_, _, err := h.lc.Create(context.Background(), cart("V1", 2), customer, "")
	require.Error(t, err)
	assert.Equal(t, 5, h.stock(t, "V1"))
}

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.lc.Create(ctx, nil, customer, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	_, _, err = h.lc.Create(ctx, cart("V1", 0), customer, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	_, _, err = h.lc.Create(ctx, cart("V1", 1), orders.CustomerInfo{Name: "A"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestConfirmPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _, err := h.lc.Create(ctx, cart("V1", 1), customer, "")
	require.NoError(t, err)

	c, err := h.lc.ConfirmPaid(ctx, o.OrderID, "pay_1", true)
	require.NoError(t, err)
	assert.True(t, c.Confirmed)
	assert.Equal(t, orders.StatusPaid, c.Order.Status)
	assert.Equal(t, "pay_1", c.Order.PaymentID)

	c, err = h.lc.ConfirmPaid(ctx, o.OrderID, "pay_1", true)
	require.NoError(t, err, "same payment id is an idempotent success")
	assert.True(t, c.Confirmed)

	_, err = h.lc.ConfirmPaid(ctx, o.OrderID, "pay_2", true)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStateConflict))
	stored, _ := h.store.Get(ctx, o.OrderID)
	assert.Equal(t, "pay_1", stored.PaymentID)
}

func TestConfirmInvalidSignatureMarksPaymentFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _, err := h.lc.Create(ctx, cart("V1", 2), customer, "")
	require.NoError(t, err)

	c, err := h.lc.ConfirmPaid(ctx, o.OrderID, "pay_x", false)
	require.NoError(t, err)
	assert.False(t, c.Confirmed)
	assert.Equal(t, orders.StatusPaymentFailed, c.Order.Status)
	assert.Empty(t, c.Order.PaymentID)
	assert.Equal(t, 3, h.stock(t, "V1"), "stock stays decremented")
	assert.Contains(t, h.events.events, notify.EventPaymentFailed)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _, err := h.lc.Create(ctx, cart("V1", 1), customer, "")
	require.NoError(t, err)

	_, err = h.lc.Abandon(ctx, o.OrderID)
	require.NoError(t, err)
	before, _ := h.store.Get(ctx, o.OrderID)

	_, err = h.lc.ConfirmPaid(ctx, o.OrderID, "pay_1", true)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStateConflict))
	_, err = h.lc.Abandon(ctx, o.OrderID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStateConflict))
	_, err = h.lc.AttachIntent(ctx, o.OrderID, "order_x")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStateConflict))

	after, _ := h.store.Get(ctx, o.OrderID)
	assert.Equal(t, before, after)
}

func TestConfirmAfterSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _, err := h.lc.Create(ctx, cart("V1", 1), customer, "")
	require.NoError(t, err)
	_, err = h.lc.ConfirmPaid(ctx, o.OrderID, "pay_1", true)
	require.NoError(t, err)
	require.NoError(t, h.store.Complete(ctx, o.OrderID))

	c, err := h.lc.ConfirmPaid(ctx, o.OrderID, "pay_1", true)
	require.NoError(t, err)
	assert.True(t, c.Confirmed)

	_, err = h.lc.ConfirmPaid(ctx, "ORD-missing", "pay_1", true)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestAttachIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _, err := h.lc.Create(ctx, cart("V1", 1), customer, "")
	require.NoError(t, err)

	updated, err := h.lc.AttachIntent(ctx, o.OrderID, "order_Abc")
	require.NoError(t, err)
	assert.Equal(t, "order_Abc", updated.ProviderOrderID)
}
