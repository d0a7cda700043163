package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type CustomerInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Item struct {
	ProductID   string          `json:"productId"`
	VariationID string          `json:"variationId"`
	Name        string          `json:"name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

func (it Item) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Order struct {
	OrderID         string          `json:"orderId"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	CustomerInfo    CustomerInfo    `json:"customerInfo"`
	Items           []Item          `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Status          Status          `json:"status"`
	PaymentID       string          `json:"paymentId"`
	ProviderOrderID string          `json:"providerOrderId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt,omitzero"`
}

// TotalOf sums the line totals of items.
func TotalOf(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// PendingFor reports whether o is still awaiting payment after threshold.
func (o Order) PendingFor(now time.Time, threshold time.Duration) bool {
	return o.Status == StatusPendingPayment && now.Sub(o.CreatedAt) > threshold
}
