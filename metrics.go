package binder

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mjkern/gobinder/internal/interfaces"
)

// Observer is the public metrics sink, satisfied by *Metrics and by
// NoOpObserver; it's the same shape as internal/interfaces.Observer so
// a Driver can hand its internal engine the Observer it was given
// without an adapter.
type Observer = interfaces.Observer

// Metrics is a Prometheus-backed Observer tracking transaction
// throughput, latency, looper pool size, and refcount traffic across
// every Driver sharing the instance.
type Metrics struct {
	transactions *prometheus.CounterVec
	replies      *prometheus.HistogramVec
	looperCount  prometheus.Gauge
	refcountOps  *prometheus.CounterVec
}

// NewMetrics registers a fresh metric set against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gobinder",
			Name:      "transactions_total",
			Help:      "Inbound transactions dispatched to local objects, labeled by outcome and call mode.",
		}, []string{"oneway", "success"}),
		replies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gobinder",
			Name:      "reply_latency_seconds",
			Help:      "Handling latency of inbound transactions, plus any latencies reported via ObserveReply.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"success"}),
		looperCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gobinder",
			Name:      "looper_threads",
			Help:      "Current number of live looper threads.",
		}),
		refcountOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gobinder",
			Name:      "refcount_events_total",
			Help:      "Kernel-driven refcount transitions, labeled by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.replies, m.looperCount, m.refcountOps)
	}
	return m
}

func (m *Metrics) ObserveTransaction(code uint32, latencyNs uint64, oneway bool, success bool) {
	m.transactions.WithLabelValues(boolLabel(oneway), boolLabel(success)).Inc()
	m.replies.WithLabelValues(boolLabel(success)).Observe(float64(latencyNs) / 1e9)
}

func (m *Metrics) ObserveReply(latencyNs uint64, success bool) {
	m.replies.WithLabelValues(boolLabel(success)).Observe(float64(latencyNs) / 1e9)
}

func (m *Metrics) ObserveLooperCount(n int) {
	m.looperCount.Set(float64(n))
}

func (m *Metrics) ObserveRefcountEvent(kind string) {
	m.refcountOps.WithLabelValues(kind).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// NoOpObserver discards every observation; the zero value is ready to
// use and is the default when no Metrics is configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveTransaction(uint32, uint64, bool, bool) {}
func (NoOpObserver) ObserveReply(uint64, bool)                     {}
func (NoOpObserver) ObserveLooperCount(int)                        {}
func (NoOpObserver) ObserveRefcountEvent(string)                   {}

var (
	_ Observer = (*Metrics)(nil)
	_ Observer = NoOpObserver{}
)
