package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger metrics
	LedgerOperations *prometheus.CounterVec
	LedgerDuration   *prometheus.HistogramVec
	ClaimSettlements *prometheus.CounterVec
	WithdrawRequests *prometheus.CounterVec
	MemberJoins      *prometheus.CounterVec
	EarningsCredited *prometheus.CounterVec

	// Orchestrator metrics
	WorkersRunning      prometheus.Gauge
	WorkerStarts        *prometheus.CounterVec
	HandlerEvents       *prometheus.CounterVec
	BroadcastDeliveries *prometheus.CounterVec

	// Gating metrics
	GateChecks *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewMetrics creates and registers metrics on reg; nil uses the default registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LedgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_ledger_operations_total",
				Help: "Total number of ledger operations",
			},
			[]string{"operation", "outcome"},
		),

		LedgerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botforge_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ClaimSettlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_claim_settlements_total",
				Help: "Task claim settlements by decision and resulting status",
			},
			[]string{"decision", "status"},
		),

		WithdrawRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_withdraw_requests_total",
				Help: "Withdrawal requests created",
			},
			[]string{"kind"},
		),

		MemberJoins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_member_joins_total",
				Help: "Member join attempts",
			},
			[]string{"first_join"},
		),

		EarningsCredited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_join_earnings_credited_total",
				Help: "Join earnings credits by level",
			},
			[]string{"level"},
		),

		WorkersRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "botforge_workers_running",
				Help: "Current number of running tenant workers",
			},
		),

		WorkerStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_worker_starts_total",
				Help: "Tenant worker start attempts",
			},
			[]string{"outcome"},
		),

		HandlerEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_handler_events_total",
				Help: "Inbound events dispatched to command handlers",
			},
			[]string{"kind", "outcome"},
		),

		BroadcastDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_broadcast_deliveries_total",
				Help: "Broadcast message deliveries",
			},
			[]string{"result"},
		),

		GateChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_gate_checks_total",
				Help: "Channel membership gate evaluations",
			},
			[]string{"result"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botforge_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}
}

// RecordLedgerOperation records a ledger operation outcome and latency
func (m *Metrics) RecordLedgerOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LedgerOperations.WithLabelValues(operation, outcome).Inc()
	m.LedgerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSettlement records a claim settlement
func (m *Metrics) RecordSettlement(decision, status string) {
	if m == nil {
		return
	}
	m.ClaimSettlements.WithLabelValues(decision, status).Inc()
}

// RecordWithdrawRequest records a created withdrawal
func (m *Metrics) RecordWithdrawRequest(kind string) {
	if m == nil {
		return
	}
	m.WithdrawRequests.WithLabelValues(kind).Inc()
}

// RecordMemberJoin records a join and whether it was the first
func (m *Metrics) RecordMemberJoin(first bool) {
	if m == nil {
		return
	}
	label := "false"
	if first {
		label = "true"
	}
	m.MemberJoins.WithLabelValues(label).Inc()
}

// RecordEarnings records a join earnings credit at "owner" or "downline" level
func (m *Metrics) RecordEarnings(level string) {
	if m == nil {
		return
	}
	m.EarningsCredited.WithLabelValues(level).Inc()
}

// SetWorkersRunning sets the running worker gauge
func (m *Metrics) SetWorkersRunning(n int) {
	if m == nil {
		return
	}
	m.WorkersRunning.Set(float64(n))
}

// RecordWorkerStart records a worker start attempt
func (m *Metrics) RecordWorkerStart(outcome string) {
	if m == nil {
		return
	}
	m.WorkerStarts.WithLabelValues(outcome).Inc()
}

// RecordHandlerEvent records a dispatched event
func (m *Metrics) RecordHandlerEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.HandlerEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordBroadcast records per-recipient broadcast results
func (m *Metrics) RecordBroadcast(delivered, failed int) {
	if m == nil {
		return
	}
	m.BroadcastDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.BroadcastDeliveries.WithLabelValues("failed").Add(float64(failed))
}

// RecordGateCheck records a gate evaluation
func (m *Metrics) RecordGateCheck(passed bool) {
	if m == nil {
		return
	}
	if passed {
		m.GateChecks.WithLabelValues("passed").Inc()
	} else {
		m.GateChecks.WithLabelValues("blocked").Inc()
	}
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
