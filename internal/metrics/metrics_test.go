package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncReservation("reserved")
	m.IncReservation("reserved")
	m.IncReservation("rejected")
	m.IncLedgerWriteFailure("reserve")
	m.ObserveSweep(false, 5)
	m.ObserveSweep(true, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues("reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerFailures.WithLabelValues("reserve")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.releasedUnits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncReservation("reserved")
		m.IncLedgerWriteFailure("reserve")
		m.IncTransition("Paid")
		m.ObserveSweep(false, 3)
	})
	assert.Nil(t, New(nil))
}
