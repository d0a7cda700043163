package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

// Intent is a provider-side order the client pays against.
type Intent struct {
	IntentID        string          `json:"intentId"`
	ProviderOrderID string          `json:"providerOrderId"`
	Amount          decimal.Decimal `json:"amount"`
	AmountMinor     int64           `json:"amountMinor"`
	Currency        string          `json:"currency"`
}

// SignaturePayload is what the checkout widget hands back after payment.
type SignaturePayload struct {
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, reference string) (Intent, error)
	VerifySignature(p SignaturePayload) bool
	KeyID() string
}

// ToMinor converts an amount to the smallest currency unit.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
