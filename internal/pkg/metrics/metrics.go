package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_orders_total",
		Help: "The total number of orders processed",
	}, []string{"status", "side", "venue"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venuegate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	VenueRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venuegate_venue_request_seconds",
		Help:    "Outbound venue call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue", "op"})

	VenueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_venue_errors_total",
		Help: "Outbound venue call failures by error class",
	}, []string{"venue", "code"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venuegate_circuit_state",
		Help: "Circuit breaker state per venue (0 closed, 1 open, 2 half-open)",
	}, []string{"venue"})

	LedgerRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_ledger_rejects_total",
		Help: "Ledger allocate/deallocate rejections",
	}, []string{"op"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_risk_rejects_total",
		Help: "Orders rejected by pre-trade risk checks",
	}, []string{"reason"})

	ReconDiscrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_reconciliation_discrepancies_total",
		Help: "Reconciliation runs that found drift, by classification",
	}, []string{"venue", "status"})

	VenueHealthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venuegate_venue_health",
		Help: "Venue health (0 down, 1 degraded, 2 healthy)",
	}, []string{"venue"})

	OperatorAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_operator_alerts_total",
		Help: "Operator-visible alerts raised by background jobs",
	}, []string{"kind"})
)
