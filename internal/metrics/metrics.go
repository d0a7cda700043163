package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the storefront counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	reservations   *prometheus.CounterVec
	ledgerFailures *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	releasedUnits  prometheus.Counter
}

// New registers the storefront metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_reservations_total",
			Help: "Stock reservation attempts by outcome.",
		}, []string{"outcome"}),
		ledgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_ledger_write_failures_total",
			Help: "Failed ledger writes by operation.",
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Order status changes by target status.",
		}, []string{"status"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_abandoned_sweeps_total",
			Help: "Abandoned cart sweeps by result.",
		}, []string{"result"}),
		releasedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_released_units_total",
			Help: "Stock units returned to the ledger by abandoned cart sweeps.",
		}),
	}
	reg.MustRegister(m.reservations, m.ledgerFailures, m.transitions, m.sweepRuns, m.releasedUnits)
	return m
}

func (m *Metrics) IncReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLedgerWriteFailure(op string) {
	if m == nil {
		return
	}
	m.ledgerFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSweep(failed bool, releasedUnits int) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	if releasedUnits > 0 {
		m.releasedUnits.Add(float64(releasedUnits))
	}
}
