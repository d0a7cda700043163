package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/shopspring/decimal"
)

type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Currency  string
}

type Razorpay struct {
	cfg    RazorpayConfig
	client *http.Client
	logg   *logger.Logger
}

var _ Gateway = (*Razorpay)(nil)

func NewRazorpay(cfg RazorpayConfig, logg *logger.Logger) *Razorpay {
	if logg == nil {
		logg = logger.Nop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Razorpay{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}, logg: logg}
}

func (r *Razorpay) configured() bool { return r.cfg.KeyID != "" && r.cfg.KeySecret != "" }

func (r *Razorpay) KeyID() string { return r.cfg.KeyID }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

func (r *Razorpay) CreateIntent(ctx context.Context, amount decimal.Decimal, reference string) (Intent, error) {
	if !r.configured() {
		return Intent{}, apperrors.New(apperrors.CodeRemoteUnavailable, "payment gateway is not configured")
	}
	minor := ToMinor(amount)
	if minor <= 0 {
		return Intent{}, apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}
	body, err := json.Marshal(map[string]any{
		"receipt":         reference,
		"amount":          minor,
		"currency":        r.cfg.Currency,
		"payment_capture": 1,
	})
	if err != nil {
		return Intent{}, apperrors.Wrap(apperrors.CodeInternal, err, "encode payment order")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Intent{}, apperrors.Wrap(apperrors.CodeInternal, err, "build payment request")
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Intent{}, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "create payment order")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		err := fmt.Errorf("razorpay: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
		r.logg.Error(r.logg.WithField(ctx, "receipt", reference), "payment order rejected", err)
		return Intent{}, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "create payment order")
	}
	var out razorpayOrder
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		if err == nil {
			err = fmt.Errorf("razorpay: response without order id")
		}
		return Intent{}, apperrors.Wrap(apperrors.CodeRemoteUnavailable, err, "decode payment order")
	}
	return Intent{
		IntentID:        out.ID,
		ProviderOrderID: out.ID,
		Amount:          amount,
		AmountMinor:     out.Amount,
		Currency:        out.Currency,
	}, nil
}

// VerifySignature checks hex(HMAC-SHA256(secret, "orderId|paymentId")).
func (r *Razorpay) VerifySignature(p SignaturePayload) bool {
	if !r.configured() || p.ProviderOrderID == "" || p.PaymentID == "" || p.Signature == "" {
		return false
	}
	got, err := hex.DecodeString(p.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, r.sign(p.ProviderOrderID, p.PaymentID))
}

func (r *Razorpay) sign(orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, []byte(r.cfg.KeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}
