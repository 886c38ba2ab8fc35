package binder

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestMetricsObserveTransactionCounts(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.ObserveTransaction(1, 1_000_000, false, true)
	m.ObserveTransaction(2, 2_000_000, true, true)
	m.ObserveTransaction(3, 500_000, false, false)

	count, err := testutil.GatherAndCount(reg, "gobinder_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.transactions.WithLabelValues("false", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transactions.WithLabelValues("true", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transactions.WithLabelValues("false", "false")))
}

func TestMetricsObserveReply(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.ObserveReply(3_000_000, true)

	count, err := testutil.GatherAndCount(reg, "gobinder_reply_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsObserveLooperCount(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveLooperCount(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.looperCount))

	m.ObserveLooperCount(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.looperCount))
}

func TestMetricsObserveRefcountEvent(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveRefcountEvent("acquire")
	m.ObserveRefcountEvent("acquire")
	m.ObserveRefcountEvent("release")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.refcountOps.WithLabelValues("acquire")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.refcountOps.WithLabelValues("release")))
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o NoOpObserver
	assert.NotPanics(t, func() {
		o.ObserveTransaction(1, 1000, false, true)
		o.ObserveReply(1000, true)
		o.ObserveLooperCount(3)
		o.ObserveRefcountEvent("incref")
	})
}

func TestNewMetricsWithNilRegistererDoesNotRegister(t *testing.T) {
	assert.NotPanics(t, func() {
		m := NewMetrics(nil)
		m.ObserveLooperCount(1)
	})
}
