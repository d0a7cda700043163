package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	apperrors "github.com/ariefcatur/go-storefront-orders/internal/errors"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const idempotencyHeader = "Idempotency-Key"

type catalogReader interface {
	Query(ctx context.Context, q catalog.Query) (catalog.Page, error)
	Categories(ctx context.Context) ([]string, error)
}

type orderLifecycle interface {
	Create(ctx context.Context, lines []orders.Item, customer orders.CustomerInfo, idemKey string) (*orders.Order, bool, error)
	AttachIntent(ctx context.Context, orderID, providerOrderID string) (*orders.Order, error)
	ConfirmPaid(ctx context.Context, orderID, paymentID string, signatureValid bool) (checkout.Confirmation, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

type statusReader interface {
	Get(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
}

type StorefrontHandler struct {
	Catalog   catalogReader
	Lifecycle orderLifecycle
	Payments  payments.Gateway
	Status    statusReader
	Currency  string
	Log       *logger.Logger
}

func (h *StorefrontHandler) Routes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/categories", h.listCategories)
	r.Post("/checkout", h.checkout)
	r.Post("/payments/verify", h.verifyPayment)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *StorefrontHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	page, _ := strconv.Atoi(qs.Get("page"))
	limit, _ := strconv.Atoi(qs.Get("limit"))
	res, err := h.Catalog.Query(r.Context(), catalog.Query{
		Category: qs.Get("category"),
		Search:   qs.Get("search"),
		SortBy:   qs.Get("sort_by"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *StorefrontHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Catalog.Categories(r.Context())
	if err != nil {
		writeError(r.Context(), h.Log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

type checkoutItem struct {
	ProductID   string `json:"productId" validate:"required"`
	VariationID string `json:"variationId" validate:"required"`
	Quantity    int    `json:"quantity" validate:"min=1"`
}

type checkoutRequest struct {
	Customer struct {
		Name    string `json:"name" validate:"required"`
		Phone   string `json:"phone" validate:"required"`
		Address string `json:"address" validate:"required"`
	} `json:"customer"`
	Items []checkoutItem `json:"items" validate:"required,min=1,dive"`
}

type checkoutResponse struct {
	OrderID         string          `json:"orderId"`
	Status          orders.Status   `json:"status"`
	Total           decimal.Decimal `json:"total"`
	ProviderOrderID string          `json:"providerOrderId"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	KeyID           string          `json:"keyId"`
	Replayed        bool            `json:"replayed"`
}

// checkout reserves stock, writes the pending order and opens a payment
// intent for it. If the intent cannot be created the order stays pending
// until the abandoned-cart sweep releases it.
func (h *StorefrontHandler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}

	lines := make([]orders.Item, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.Item{
			ProductID:   strings.TrimSpace(it.ProductID),
			VariationID: strings.TrimSpace(it.VariationID),
			Quantity:    it.Quantity,
		})
	}
	customer := orders.CustomerInfo{
		Name:    strings.TrimSpace(req.Customer.Name),
		Phone:   strings.TrimSpace(req.Customer.Phone),
		Address: strings.TrimSpace(req.Customer.Address),
	}

	o, replayed, err := h.Lifecycle.Create(ctx, lines, customer, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	ctx = h.Log.WithOrderID(ctx, o.OrderID)

	resp := checkoutResponse{
		OrderID:  o.OrderID,
		Status:   o.Status,
		Total:    o.Total,
		Amount:   payments.ToMinor(o.Total),
		Currency: h.Currency,
		KeyID:    h.Payments.KeyID(),
		Replayed: replayed,
	}
	if o.ProviderOrderID != "" {
		resp.ProviderOrderID = o.ProviderOrderID
		writeJSON(w, statusFor(replayed), resp)
		return
	}
	if o.Status != orders.StatusPendingPayment {
		writeJSON(w, statusFor(replayed), resp)
		return
	}

	intent, err := h.Payments.CreateIntent(ctx, o.Total, o.OrderID)
	if err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	if _, err := h.Lifecycle.AttachIntent(ctx, o.OrderID, intent.ProviderOrderID); err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	resp.ProviderOrderID = intent.ProviderOrderID
	resp.Amount = intent.AmountMinor
	if intent.Currency != "" {
		resp.Currency = intent.Currency
	}
	writeJSON(w, statusFor(replayed), resp)
}

func statusFor(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

type verifyRequest struct {
	OrderID         string `json:"orderId" validate:"required"`
	ProviderOrderID string `json:"razorpay_order_id" validate:"required"`
	PaymentID       string `json:"razorpay_payment_id" validate:"required"`
	Signature       string `json:"razorpay_signature" validate:"required"`
}

func (h *StorefrontHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	ctx = h.Log.WithOrderID(ctx, req.OrderID)

	o, err := h.Lifecycle.Get(ctx, req.OrderID)
	if err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	valid := o.ProviderOrderID != "" && o.ProviderOrderID == req.ProviderOrderID &&
		h.Payments.VerifySignature(payments.SignaturePayload{
			ProviderOrderID: req.ProviderOrderID,
			PaymentID:       req.PaymentID,
			Signature:       req.Signature,
		})

	res, err := h.Lifecycle.ConfirmPaid(ctx, req.OrderID, req.PaymentID, valid)
	if err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	if !res.Confirmed {
		writeError(ctx, h.Log, w, apperrors.New(apperrors.CodeInvalidSignature, "payment signature did not verify"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": res.Order.OrderID,
		"status":  res.Order.Status,
	})
}

type orderStatusResponse struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *StorefrontHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	ctx = h.Log.WithOrderID(ctx, id)

	if h.Status != nil {
		entry, ok, err := h.Status.Get(ctx, id)
		if err != nil {
			h.Log.Warn(h.Log.WithField(ctx, "error", err.Error()), "status cache read failed")
		} else if ok {
			writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: id, Status: entry.Status, UpdatedAt: entry.UpdatedAt})
			return
		}
	}

	o, err := h.Lifecycle.Get(ctx, id)
	if err != nil {
		writeError(ctx, h.Log, w, err)
		return
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = o.CreatedAt
	}
	writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: o.OrderID, Status: string(o.Status), UpdatedAt: updated})
}
