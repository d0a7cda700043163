package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/go-chi/chi/v5"
)

type adminOps interface {
	RefreshCache(ctx context.Context) (string, error)
	SyncOrders(ctx context.Context) (string, error)
	ProcessAbandonedCarts(ctx context.Context) (string, error)
}

type adminFailure struct {
	Message string   `json:"message"`
	Error   apiError `json:"error"`
}

type AdminHandler struct {
	Ops   adminOps
	Token string
	Log   *logger.Logger
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminOnly(h.Token, h.Log))
		r.Post("/refresh-cache", h.run(h.Ops.RefreshCache))
		r.Post("/sync-orders", h.run(h.Ops.SyncOrders))
		r.Post("/abandoned-carts", h.run(h.Ops.ProcessAbandonedCarts))
	})
}

func (h *AdminHandler) run(op func(context.Context) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := op(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"message": msg})
		case msg != "":
			// partial runs carry the order ids an operator needs to reconcile
			status, body := publicError(r.Context(), h.Log, err)
			writeJSON(w, status, adminFailure{Message: msg, Error: body})
		default:
			writeError(r.Context(), h.Log, w, err)
		}
	}
}
