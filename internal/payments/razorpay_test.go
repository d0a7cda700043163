package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	assert.EqualValues(t, 49950, ToMinor(decimal.RequireFromString("499.50")))
	assert.EqualValues(t, 100, ToMinor(decimal.RequireFromString("0.999")))
}

func TestCreateIntent(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" || r.URL.Path != "/v1/orders" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"order_Abc","amount":49950,"currency":"INR","receipt":"ORD-1","status":"created"}`))
	}))
	defer srv.Close()

	rp := NewRazorpay(RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL}, nil)
	in, err := rp.CreateIntent(context.Background(), decimal.RequireFromString("499.50"), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "order_Abc", in.ProviderOrderID)
	assert.EqualValues(t, 49950, in.AmountMinor)
	assert.EqualValues(t, 49950, body["amount"])
	assert.EqualValues(t, 1, body["payment_capture"])
	assert.Equal(t, "ORD-1", body["receipt"])
}

func TestCreateIntentFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"BAD_REQUEST_ERROR"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	rp := NewRazorpay(RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL}, nil)
	_, err := rp.CreateIntent(context.Background(), decimal.NewFromInt(10), "ORD-1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRemoteUnavailable))

	_, err = NewRazorpay(RazorpayConfig{}, nil).CreateIntent(context.Background(), decimal.NewFromInt(10), "ORD-1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRemoteUnavailable))

	_, err = rp.CreateIntent(context.Background(), decimal.Zero, "ORD-1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestVerifySignature(t *testing.T) {
	rp := NewRazorpay(RazorpayConfig{KeyID: "key", KeySecret: "secret"}, nil)
	good := hex.EncodeToString(rp.sign("order_Abc", "pay_1"))

	assert.True(t, rp.VerifySignature(SignaturePayload{ProviderOrderID: "order_Abc", PaymentID: "pay_1", Signature: good}))
	assert.False(t, rp.VerifySignature(SignaturePayload{ProviderOrderID: "order_Abc", PaymentID: "pay_2", Signature: good}))
	assert.False(t, rp.VerifySignature(SignaturePayload{ProviderOrderID: "order_Abc", PaymentID: "pay_1", Signature: "zz"}))
	assert.False(t, NewRazorpay(RazorpayConfig{}, nil).VerifySignature(SignaturePayload{ProviderOrderID: "o", PaymentID: "p", Signature: good}))
}
