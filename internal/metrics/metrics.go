// Package metrics holds the Prometheus instruments of the trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the decision engine.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: result
	CycleDuration prometheus.Histogram
	SkippedTicks  *prometheus.CounterVec // labels: model

	RiskVerdicts    *prometheus.CounterVec // labels: outcome, reason
	Executions      *prometheus.CounterVec // labels: mode, status
	ExchangeRetries prometheus.Counter
	OrderLookups    *prometheus.CounterVec // labels: result
	UnbookedFills   prometheus.Counter

	PositionMismatches *prometheus.CounterVec // labels: reason

	ProtectiveTriggers *prometheus.CounterVec // labels: reason
	AIFallbacks        prometheus.Counter
	AILatency          prometheus.Histogram

	ActiveRunners prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_cycles_total",
			Help: "Decision cycles by result (completed or failure reason)",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitrader_cycle_duration_seconds",
			Help:    "Wall time of one decision cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		SkippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_skipped_ticks_total",
			Help: "Scheduled ticks skipped because a cycle was still running",
		}, []string{"model"}),

		RiskVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_risk_verdicts_total",
			Help: "Risk evaluations by outcome and reason",
		}, []string{"outcome", "reason"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_executions_total",
			Help: "Order executions by mode and status",
		}, []string{"mode", "status"}),
		ExchangeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aitrader_exchange_retries_total",
			Help: "Order placements retried after a retryable exchange error",
		}),
		OrderLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_order_lookups_total",
			Help: "Orders looked up by client id after an ambiguous placement failure",
		}, []string{"result"}),
		UnbookedFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aitrader_unbooked_fills_total",
			Help: "Exchange fills the ledger failed to book",
		}),

		PositionMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_position_mismatches_total",
			Help: "Differences between ledger and exchange positions by reason",
		}, []string{"reason"}),

		ProtectiveTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitrader_protective_triggers_total",
			Help: "Positions closed by stop-loss or take-profit",
		}, []string{"reason"}),
		AIFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aitrader_ai_fallbacks_total",
			Help: "Cycles that fell back to an all-hold decision set",
		}),
		AILatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitrader_ai_request_duration_seconds",
			Help:    "Completion API latency per attempt",
			Buckets: prometheus.DefBuckets,
		}),

		ActiveRunners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aitrader_active_runners",
			Help: "Models with a running scheduler",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CyclesTotal,
			m.CycleDuration,
			m.SkippedTicks,
			m.RiskVerdicts,
			m.Executions,
			m.ExchangeRetries,
			m.OrderLookups,
			m.UnbookedFills,
			m.PositionMismatches,
			m.ProtectiveTriggers,
			m.AIFallbacks,
			m.AILatency,
			m.ActiveRunners,
		)
	}
	return m
}
