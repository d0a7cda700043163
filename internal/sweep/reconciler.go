package sweep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"go.uber.org/multierr"
)

const DefaultThreshold = 30 * time.Minute

// releaseTimeout bounds one ledger release. Releases run detached from the
// caller so an abandoned order never keeps its stock.
const releaseTimeout = 30 * time.Second

type pendingLister interface {
	ListPending(ctx context.Context) ([]orders.Order, error)
}

type abandoner interface {
	Abandon(ctx context.Context, orderID string) (*orders.Order, error)
}

type releaser interface {
	Release(ctx context.Context, items []ledger.Item) ([]string, error)
}

type projection interface {
	Invalidate(ctx context.Context) error
	Rebuild(ctx context.Context) ([]catalog.Product, error)
}

// Params configure the reconciler. Locker, Notifier and Metrics are optional.
type Params struct {
	Logger    *logger.Logger
	Orders    pendingLister
	Lifecycle abandoner
	Ledger    releaser
	Cache     projection
	Locker    ledger.Locker
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Threshold time.Duration
}

// Reconciler returns stock held by stale pending orders to the ledger.
type Reconciler struct {
	logg      *logger.Logger
	orders    pendingLister
	lifecycle abandoner
	ledger    releaser
	cache     projection
	locker    ledger.Locker
	notify    notify.Notifier
	metrics   *metrics.Metrics
	threshold time.Duration
	now       func() time.Time
}

func New(p Params) (*Reconciler, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Notifier == nil {
		p.Notifier = notify.Noop{}
	}
	if p.Locker == nil {
		p.Locker = &ledger.LocalLocker{}
	}
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	return &Reconciler{
		logg:      p.Logger,
		orders:    p.Orders,
		lifecycle: p.Lifecycle,
		ledger:    p.Ledger,
		cache:     p.Cache,
		locker:    p.Locker,
		notify:    p.Notifier,
		metrics:   p.Metrics,
		threshold: p.Threshold,
		now:       time.Now,
	}, nil
}

// Result summarizes one sweep.
type Result struct {
	Abandoned []string `json:"abandoned"`
	// Skipped orders left PendingPayment between listing and abandoning.
	Skipped []string `json:"skipped,omitempty"`
	// ReleaseFailed orders are Abandoned but their stock is still held.
	ReleaseFailed []string `json:"releaseFailed,omitempty"`
	// MissingLines are "orderId/variationId" pairs the ledger no longer knows.
	MissingLines  []string `json:"missingLines,omitempty"`
	ReleasedUnits int      `json:"releasedUnits"`
	// PaymentFailedHolding counts PaymentFailed orders whose stock was never returned.
	PaymentFailedHolding int `json:"paymentFailedHolding"`
}

func (r Result) Message() string {
	var b strings.Builder
	if len(r.Abandoned) == 0 {
		b.WriteString("No abandoned carts found to process.")
	} else {
		fmt.Fprintf(&b, "Successfully processed %d abandoned cart(s). %d unit(s) returned to inventory.",
			len(r.Abandoned), r.ReleasedUnits)
	}
	if n := len(r.ReleaseFailed); n > 0 {
		fmt.Fprintf(&b, " Stock release failed for %d order(s): %s.", n, strings.Join(r.ReleaseFailed, ", "))
	}
	if n := len(r.MissingLines); n > 0 {
		fmt.Fprintf(&b, " %d line(s) skipped, variation missing from inventory.", n)
	}
	if r.PaymentFailedHolding > 0 {
		fmt.Fprintf(&b, " %d Payment Failed order(s) still hold stock.", r.PaymentFailedHolding)
	}
	return b.String()
}

// Run abandons every pending order older than the threshold and releases its
// items. Concurrent runs are serialized by the locker.
func (r *Reconciler) Run(ctx context.Context) (res Result, err error) {
	defer func() { r.metrics.ObserveSweep(err != nil, res.ReleasedUnits) }()

	unlock, err := r.locker.Lock(ctx)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "acquire sweep lock")
	}
	defer unlock()

	pending, err := r.orders.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list pending orders: %w", err)
	}
	now := r.now()
	var candidates []orders.Order
	for _, o := range pending {
		switch {
		case o.PendingFor(now, r.threshold):
			candidates = append(candidates, o)
		case o.Status == orders.StatusPaymentFailed:
			res.PaymentFailedHolding++
		}
	}

	var errs []error
	for _, o := range candidates {
		// Orders not reached stay pending for the next run.
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("sweep interrupted: %w", err))
			break
		}
		if err := r.reclaim(ctx, o, &res); err != nil {
			errs = append(errs, err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	if res.ReleasedUnits > 0 && r.cache != nil {
		if err := r.cache.Invalidate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("invalidate product cache: %w", err))
		} else if _, err := r.cache.Rebuild(ctx); err != nil {
			// next read rebuilds it
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "product cache rebuild after sweep failed")
		}
	}

	if len(res.Abandoned) > 0 {
		r.notify.Notify(ctx, notify.EventAbandonedCarts, notify.Details{OrderIDs: res.Abandoned})
	}
	if len(res.ReleaseFailed) > 0 {
		r.notify.Notify(ctx, notify.EventCriticalError, notify.Details{
			Context: "abandoned carts could not return their stock",
			Fields:  map[string]string{"order_ids": strings.Join(res.ReleaseFailed, ", ")},
		})
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"abandoned":      len(res.Abandoned),
		"skipped":        len(res.Skipped),
		"released_units": res.ReleasedUnits,
		"release_failed": len(res.ReleaseFailed),
	})
	r.logg.Info(logCtx, "abandoned cart sweep complete")
	return res, multierr.Combine(errs...)
}

func (r *Reconciler) reclaim(ctx context.Context, o orders.Order, res *Result) error {
	ctx = r.logg.WithOrderID(ctx, o.OrderID)
	if _, err := r.lifecycle.Abandon(ctx, o.OrderID); err != nil {
		if apperrors.IsCode(err, apperrors.CodeStateConflict) || apperrors.IsCode(err, apperrors.CodeNotFound) {
			res.Skipped = append(res.Skipped, o.OrderID)
			return nil
		}
		return fmt.Errorf("abandon %s: %w", o.OrderID, err)
	}
	res.Abandoned = append(res.Abandoned, o.OrderID)

	items := make([]ledger.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ledger.Item{VariationID: it.VariationID, Quantity: it.Quantity})
	}
	if len(items) == 0 {
		return nil
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	missing, err := r.ledger.Release(relCtx, items)
	if err != nil {
		res.ReleaseFailed = append(res.ReleaseFailed, o.OrderID)
		r.logg.Error(ctx, "release abandoned stock failed", err)
		return fmt.Errorf("release %s: %w", o.OrderID, err)
	}
	skipped := map[string]bool{}
	for _, v := range missing {
		skipped[v] = true
		res.MissingLines = append(res.MissingLines, o.OrderID+"/"+v)
	}
	for _, it := range o.Items {
		if !skipped[it.VariationID] {
			res.ReleasedUnits += it.Quantity
		}
	}
	return nil
}
