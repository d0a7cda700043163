package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the base router with health and metrics endpoints.
// gatherer may be nil to skip /metrics.
func NewRouter(logg *logger.Logger, gatherer prometheus.Gatherer) *chi.Mux {
	if logg == nil {
		logg = logger.Nop()
	}
	r := chi.NewRouter()
	r.Use(requestID(logg), middleware.RealIP, logging(logg), recoverer(logg))
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
