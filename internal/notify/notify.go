package notify

import (
	"context"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type Event string

const (
	EventOrderCreated   Event = "order_created"
	EventOrderPaid      Event = "order_paid"
	EventPaymentFailed  Event = "payment_failed"
	EventAbandonedCarts Event = "abandoned_carts"
	EventCriticalError  Event = "critical_error"
)

// Details carries whatever the event needs. Unused fields stay empty.
type Details struct {
	Order     *orders.Order     `json:"order,omitempty"`
	OrderID   string            `json:"orderId,omitempty"`
	PaymentID string            `json:"paymentId,omitempty"`
	OrderIDs  []string          `json:"orderIds,omitempty"`
	Context   string            `json:"context,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Notifier is fire-and-forget: implementations never block the caller on
// delivery and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, event Event, details Details)
}

type Noop struct{}

func (Noop) Notify(context.Context, Event, Details) {}

type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event, details Details) {
	for _, n := range m {
		n.Notify(ctx, event, details)
	}
}
