// Package metrics holds the Prometheus collectors of the ledger and cycle
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kixikila"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LedgerAppends     *prometheus.CounterVec
	LedgerReplays     *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	Draws             *prometheus.CounterVec
	DrawDuration      prometheus.Histogram
	Withdrawals       *prometheus.CounterVec
	OutboxProcessed   *prometheus.CounterVec
	BalanceCacheHits  prometheus.Counter
	BalanceCacheMiss  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Transactions appended to the ledger.",
		}, []string{"type", "status"}),
		LedgerReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "idempotent_replays_total",
			Help:      "Appends answered with the original record of a reused idempotency key.",
		}, []string{"type"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "status_transitions_total",
			Help:      "Pending transactions resolved to a final status.",
		}, []string{"status"}),
		Draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "attempts_total",
			Help:      "Cycle draw attempts by outcome.",
		}, []string{"method", "outcome"}),
		DrawDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "duration_seconds",
			Help:      "Time spent inside the draw lock.",
			Buckets:   prometheus.DefBuckets,
		}),
		Withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "withdrawals_total",
			Help:      "Withdrawal requests and settlements by outcome.",
		}, []string{"outcome"}),
		OutboxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processed_total",
			Help:      "Outbox entries processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BalanceCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "balance",
			Name:      "cache_hits_total",
			Help:      "Balance reads served from the projector cache.",
		}),
		BalanceCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "balance",
			Name:      "cache_misses_total",
			Help:      "Balance reads that folded the ledger.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.LedgerAppends,
			m.LedgerReplays,
			m.StatusTransitions,
			m.Draws,
			m.DrawDuration,
			m.Withdrawals,
			m.OutboxProcessed,
			m.BalanceCacheHits,
			m.BalanceCacheMiss,
		)
	}
	return m
}

// ObserveAppend counts an appended transaction.
func (m *Metrics) ObserveAppend(txType, status string, replayed bool) {
	if m == nil {
		return
	}
	if replayed {
		m.LedgerReplays.WithLabelValues(txType).Inc()
		return
	}
	m.LedgerAppends.WithLabelValues(txType, status).Inc()
}

// ObserveTransition counts a pending transaction reaching status.
func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

// ObserveDraw counts a draw attempt and, when it ran, its duration.
func (m *Metrics) ObserveDraw(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Draws.WithLabelValues(method, outcome).Inc()
	if seconds > 0 {
		m.DrawDuration.Observe(seconds)
	}
}

// ObserveWithdrawal counts a withdrawal outcome.
func (m *Metrics) ObserveWithdrawal(outcome string) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(outcome).Inc()
}

// ObserveOutbox counts a processed outbox entry.
func (m *Metrics) ObserveOutbox(kind, outcome string) {
	if m == nil {
		return
	}
	m.OutboxProcessed.WithLabelValues(kind, outcome).Inc()
}

// ObserveBalanceRead counts a projector read.
func (m *Metrics) ObserveBalanceRead(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.BalanceCacheHits.Inc()
		return
	}
	m.BalanceCacheMiss.Inc()
}
