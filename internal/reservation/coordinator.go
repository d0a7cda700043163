package reservation

import (
	"context"
	"strings"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/ledger"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
)

// Invalidator drops a derived projection after the ledger changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Reason string

const (
	ReasonOutOfStock Reason = "OUT_OF_STOCK"
	ReasonInvalid    Reason = "INVALID_ITEMS"
)

// Outcome is the typed result of a reservation. Remote failures are returned
// as errors, never as a rejection.
type Outcome struct {
	Reserved  bool
	Reason    Reason
	Shortages []ledger.Shortage
}

type Coordinator struct {
	ledger  ledger.Ledger
	cache   Invalidator
	logg    *logger.Logger
	metrics *metrics.Metrics
	notify  notify.Notifier
}

func NewCoordinator(l ledger.Ledger, cache Invalidator, logg *logger.Logger, m *metrics.Metrics) *Coordinator {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Coordinator{ledger: l, cache: cache, logg: logg, metrics: m, notify: notify.Noop{}}
}

// WithNotifier reports ledger writes that failed part-way as critical errors.
func (c *Coordinator) WithNotifier(n notify.Notifier) *Coordinator {
	if n != nil {
		c.notify = n
	}
	return c
}

func (c *Coordinator) Reserve(ctx context.Context, items []ledger.Item) (Outcome, error) {
	err := c.ledger.Reserve(ctx, items)
	switch {
	case err == nil:
		c.metrics.IncReservation("reserved")
		c.invalidate(ctx)
		return Outcome{Reserved: true}, nil
	case apperrors.IsCode(err, apperrors.CodeOutOfStock):
		c.metrics.IncReservation("out_of_stock")
		shortages, _ := apperrors.As(err).Details().([]ledger.Shortage)
		return Outcome{Reason: ReasonOutOfStock, Shortages: shortages}, nil
	case apperrors.IsCode(err, apperrors.CodeValidation):
		c.metrics.IncReservation("invalid")
		return Outcome{Reason: ReasonInvalid}, nil
	default:
		c.metrics.IncReservation("error")
		c.reportPartialWrite(ctx, "reserve", err)
		return Outcome{}, err
	}
}

// Release returns stock to the ledger and reports variations it could not find.
func (c *Coordinator) Release(ctx context.Context, items []ledger.Item) ([]string, error) {
	missing, err := c.ledger.Release(ctx, items)
	if err != nil {
		c.reportPartialWrite(ctx, "release", err)
		return missing, err
	}
	if len(missing) > 0 {
		c.logg.Warn(c.logg.WithField(ctx, "missing", missing), "released variations absent from ledger")
	}
	c.invalidate(ctx)
	return missing, nil
}

func (c *Coordinator) invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx); err != nil {
		c.logg.Error(ctx, "invalidate product cache failed", err)
	}
}

func (c *Coordinator) reportPartialWrite(ctx context.Context, op string, err error) {
	typed := apperrors.As(err)
	if typed == nil {
		return
	}
	report, ok := typed.Details().(ledger.WriteReport)
	if !ok {
		return
	}
	fields := map[string]string{
		"operation": op,
		"applied":   strings.Join(report.Applied, ", "),
		"restored":  strings.Join(report.Restored, ", "),
	}
	if report.Unverified {
		fields["unverified"] = "true"
	}
	c.notify.Notify(ctx, notify.EventCriticalError, notify.Details{
		Context: "ledger stock write failed part-way",
		Fields:  fields,
	})
}
