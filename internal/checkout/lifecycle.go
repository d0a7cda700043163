package checkout

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/reservation"
	"github.com/google/uuid"
)

const orderIDPrefix = "ORD-"

// Reserver is implemented by *reservation.Coordinator.
type Reserver interface {
	Reserve(ctx context.Context, items []ledger.Item) (reservation.Outcome, error)
	Release(ctx context.Context, items []ledger.Item) ([]string, error)
}

// Pricer resolves names and unit prices for cart lines from the catalog so
// clients never set their own prices.
type Pricer interface {
	Price(ctx context.Context, lines []orders.Item) ([]orders.Item, error)
}

type Idempotency interface {
	Claim(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Bind(ctx context.Context, key, orderID string) error
	Forget(ctx context.Context, key string) error
}

type StatusCache interface {
	Put(ctx context.Context, orderID, status string, at time.Time) error
}

type Deps struct {
	Store       orders.Store
	Reserver    Reserver
	Pricer      Pricer
	Idempotency Idempotency
	StatusCache StatusCache
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

// Lifecycle owns the order state machine. Every status change goes through it.
type Lifecycle struct {
	store   orders.Store
	res     Reserver
	pricer  Pricer
	idem    Idempotency
	status  StatusCache
	notify  notify.Notifier
	metrics *metrics.Metrics
	logg    *logger.Logger
	newID   func() string
	now     func() time.Time
}

func New(d Deps) *Lifecycle {
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return &Lifecycle{
		store:   d.Store,
		res:     d.Reserver,
		pricer:  d.Pricer,
		idem:    d.Idempotency,
		status:  d.StatusCache,
		notify:  d.Notifier,
		metrics: d.Metrics,
		logg:    d.Logger,
		newID:   func() string { return orderIDPrefix + uuid.NewString() },
		now:     time.Now,
	}
}

// Create reserves stock for the cart and writes a pending order. A replayed
// idempotency key returns the original order with replayed=true and touches
// nothing.
func (l *Lifecycle) Create(ctx context.Context, lines []orders.Item, customer orders.CustomerInfo, idemKey string) (*orders.Order, bool, error) {
	if err := validateCart(lines, customer); err != nil {
		return nil, false, err
	}
	orderID := l.newID()
	ctx = l.logg.WithOrderID(ctx, orderID)

	idemKey = strings.TrimSpace(idemKey)
	if idemKey != "" && l.idem != nil {
		existing, claimed, err := l.idem.Claim(ctx, idemKey)
		switch {
		case stdErrors.Is(err, redisx.ErrInFlight):
			return nil, false, apperrors.New(apperrors.CodeDuplicateKey, "checkout with this idempotency key is in progress")
		case err != nil:
			// Without the claim store checkout still works, only replays are not detected.
			l.logg.Error(ctx, "idempotency claim failed", err)
			idemKey = ""
		case !claimed:
			o, err := l.store.Get(ctx, existing)
			if err != nil {
				return nil, false, err
			}
			return o, true, nil
		}
	}

	o, err := l.create(ctx, orderID, lines, customer, idemKey)
	if err != nil {
		if idemKey != "" {
			if ferr := l.idem.Forget(ctx, idemKey); ferr != nil {
				l.logg.Error(ctx, "release idempotency claim failed", ferr)
			}
		}
		return nil, false, err
	}
	if idemKey != "" {
		if err := l.idem.Bind(ctx, idemKey, o.OrderID); err != nil {
			l.logg.Error(ctx, "bind idempotency key failed", err)
		}
	}
	return o, false, nil
}

func (l *Lifecycle) create(ctx context.Context, orderID string, lines []orders.Item, customer orders.CustomerInfo, idemKey string) (*orders.Order, error) {
	items := lines
	if l.pricer != nil {
		priced, err := l.pricer.Price(ctx, lines)
		if err != nil {
			return nil, err
		}
		items = priced
	}
	reserve := ledgerItems(items)

	outcome, err := l.res.Reserve(ctx, reserve)
	if err != nil {
		return nil, err
	}
	if !outcome.Reserved {
		if outcome.Reason == reservation.ReasonInvalid {
			return nil, apperrors.New(apperrors.CodeValidation, "invalid cart items")
		}
		return nil, apperrors.New(apperrors.CodeOutOfStock, "insufficient stock").WithDetails(outcome.Shortages)
	}

	o := &orders.Order{
		OrderID:        orderID,
		IdempotencyKey: idemKey,
		CustomerInfo:   customer,
		Items:          items,
		Total:          orders.TotalOf(items),
	}
	if err := l.store.Create(ctx, o); err != nil {
		l.compensate(ctx, orderID, reserve)
		return nil, err
	}
	l.logg.Info(ctx, "order created")
	l.recordTransition(ctx, o)
	l.notify.Notify(ctx, notify.EventOrderCreated, notify.Details{Order: o})
	return o, nil
}

// compensate gives back stock reserved for an order that was never written.
func (l *Lifecycle) compensate(ctx context.Context, orderID string, items []ledger.Item) {
	if _, err := l.res.Release(ctx, items); err != nil {
		l.logg.Error(ctx, "release after failed order write", err)
		l.notify.Notify(ctx, notify.EventCriticalError, notify.Details{
			Context: "stock reserved for an order that could not be saved",
			Fields:  map[string]string{"order_id": orderID, "error": err.Error()},
		})
	}
}

// AttachIntent stores the payment provider's order id on a pending order.
func (l *Lifecycle) AttachIntent(ctx context.Context, orderID, providerOrderID string) (*orders.Order, error) {
	return l.store.Update(ctx, orderID, func(o *orders.Order) error {
		if o.Status != orders.StatusPendingPayment {
			return stateConflict(o.Status, orders.StatusPendingPayment)
		}
		o.ProviderOrderID = providerOrderID
		return nil
	})
}

type Confirmation struct {
	Confirmed bool
	Order     *orders.Order
}

var errUnchanged = stdErrors.New("unchanged")

// ConfirmPaid moves a pending order to Paid, or to PaymentFailed when the
// signature did not verify. Stock stays reserved either way. Confirming an
// already paid order with the same payment id succeeds without a write.
func (l *Lifecycle) ConfirmPaid(ctx context.Context, orderID, paymentID string, signatureValid bool) (Confirmation, error) {
	ctx = l.logg.WithOrderID(ctx, orderID)
	target := orders.StatusPaid
	if !signatureValid {
		target = orders.StatusPaymentFailed
	}

	o, err := l.store.Update(ctx, orderID, func(o *orders.Order) error {
		if signatureValid && o.Status == orders.StatusPaid && o.PaymentID == paymentID {
			return errUnchanged
		}
		if !o.Status.CanTransition(target) {
			return stateConflict(o.Status, target)
		}
		o.Status = target
		if signatureValid {
			o.PaymentID = paymentID
		}
		return nil
	})
	switch {
	case stdErrors.Is(err, errUnchanged):
		o, err = l.store.Get(ctx, orderID)
		if err != nil {
			return Confirmation{}, err
		}
		return Confirmation{Confirmed: true, Order: o}, nil
	case apperrors.IsCode(err, apperrors.CodeNotFound):
		// synced orders live in the completed partition
		done, gerr := l.store.Get(ctx, orderID)
		if gerr != nil {
			return Confirmation{}, err
		}
		if signatureValid && done.Status == orders.StatusPaid && done.PaymentID == paymentID {
			return Confirmation{Confirmed: true, Order: done}, nil
		}
		return Confirmation{}, stateConflict(done.Status, target)
	case err != nil:
		return Confirmation{}, err
	}

	l.recordTransition(ctx, o)
	if !signatureValid {
		l.logg.Warn(ctx, "payment signature rejected")
		l.notify.Notify(ctx, notify.EventPaymentFailed, notify.Details{OrderID: orderID, PaymentID: paymentID})
		return Confirmation{Confirmed: false, Order: o}, nil
	}
	l.logg.Info(ctx, "order paid")
	l.notify.Notify(ctx, notify.EventOrderPaid, notify.Details{OrderID: orderID, PaymentID: paymentID})
	return Confirmation{Confirmed: true, Order: o}, nil
}

// Abandon terminates a pending order. It does not touch stock.
func (l *Lifecycle) Abandon(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := l.store.Update(ctx, orderID, func(o *orders.Order) error {
		if !o.Status.CanTransition(orders.StatusAbandoned) {
			return stateConflict(o.Status, orders.StatusAbandoned)
		}
		o.Status = orders.StatusAbandoned
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.recordTransition(l.logg.WithOrderID(ctx, orderID), o)
	return o, nil
}

func (l *Lifecycle) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	return l.store.Get(ctx, orderID)
}

func (l *Lifecycle) recordTransition(ctx context.Context, o *orders.Order) {
	l.metrics.IncTransition(string(o.Status))
	if l.status == nil {
		return
	}
	at := o.UpdatedAt
	if at.IsZero() {
		at = l.now()
	}
	if err := l.status.Put(ctx, o.OrderID, string(o.Status), at); err != nil {
		l.logg.Warn(l.logg.WithField(ctx, "error", err.Error()), "status cache update failed")
	}
}

func stateConflict(from, to orders.Status) error {
	return apperrors.Newf(apperrors.CodeStateConflict, "order cannot move from %s to %s", from, to).
		WithDetails(map[string]string{"from": string(from), "to": string(to)})
}

func validateCart(lines []orders.Item, customer orders.CustomerInfo) error {
	if len(lines) == 0 {
		return apperrors.New(apperrors.CodeValidation, "cart is empty")
	}
	for _, it := range lines {
		if strings.TrimSpace(it.ProductID) == "" || strings.TrimSpace(it.VariationID) == "" || it.Quantity <= 0 {
			return apperrors.New(apperrors.CodeValidation, "invalid cart item")
		}
	}
	if strings.TrimSpace(customer.Name) == "" || strings.TrimSpace(customer.Phone) == "" || strings.TrimSpace(customer.Address) == "" {
		return apperrors.New(apperrors.CodeValidation, "customer name, phone and address are required")
	}
	return nil
}

func ledgerItems(items []orders.Item) []ledger.Item {
	out := make([]ledger.Item, 0, len(items))
	for _, it := range items {
		out = append(out, ledger.Item{VariationID: it.VariationID, Quantity: it.Quantity})
	}
	return out
}
