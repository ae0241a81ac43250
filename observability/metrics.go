package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TokenMetrics records host invocations against the token state.
type TokenMetrics struct {
	invocations *prometheus.CounterVec
	rollbacks   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	liveUntil   prometheus.Gauge
	sequence    prometheus.Gauge
}

var (
	tokenMetricsOnce sync.Once
	tokenRegistry    *TokenMetrics
)

// Token returns the lazily-initialised token metrics registered with the
// default prometheus registerer.
func Token() *TokenMetrics {
	tokenMetricsOnce.Do(func() {
		tokenRegistry = NewTokenMetrics(prometheus.DefaultRegisterer)
	})
	return tokenRegistry
}

// NewTokenMetrics builds a metrics set registered with reg. A nil reg leaves
// the collectors unregistered.
func NewTokenMetrics(reg prometheus.Registerer) *TokenMetrics {
	m := &TokenMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenledger",
			Subsystem: "core",
			Name:      "invocations_total",
			Help:      "Token state operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenledger",
			Subsystem: "core",
			Name:      "rollbacks_total",
			Help:      "Operations whose writes were discarded, segmented by failure kind.",
		}, []string{"op", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tokenledger",
			Subsystem: "core",
			Name:      "invocation_duration_seconds",
			Help:      "Latency distribution of token state operations.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"op"}),
		liveUntil: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokenledger",
			Subsystem: "core",
			Name:      "instance_live_until",
			Help:      "Ledger sequence through which the instance storage stays live.",
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokenledger",
			Subsystem: "core",
			Name:      "ledger_sequence",
			Help:      "Current ledger sequence seen by the host.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.invocations, m.rollbacks, m.latency, m.liveUntil, m.sequence)
	}
	return m
}

// ObserveInvocation records the outcome of one operation. kind is empty on
// success.
func (m *TokenMetrics) ObserveInvocation(op, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if kind != "" {
		outcome = "rolled_back"
		m.rollbacks.WithLabelValues(op, kind).Inc()
	}
	m.invocations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetInstanceLiveUntil publishes the instance lifetime.
func (m *TokenMetrics) SetInstanceLiveUntil(seq uint32) {
	if m == nil {
		return
	}
	m.liveUntil.Set(float64(seq))
}

// SetLedgerSequence publishes the host clock.
func (m *TokenMetrics) SetLedgerSequence(seq uint32) {
	if m == nil {
		return
	}
	m.sequence.Set(float64(seq))
}

// Invocations exposes the invocation counter for tests and exporters.
func (m *TokenMetrics) Invocations() *prometheus.CounterVec { return m.invocations }

// Rollbacks exposes the rollback counter for tests and exporters.
func (m *TokenMetrics) Rollbacks() *prometheus.CounterVec { return m.rollbacks }

// InstanceLiveUntil exposes the lifetime gauge.
func (m *TokenMetrics) InstanceLiveUntil() prometheus.Gauge { return m.liveUntil }
