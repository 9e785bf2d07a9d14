package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Engine operations
	EngineOps        *prometheus.CounterVec
	EngineOpErrors   *prometheus.CounterVec
	EngineOpDuration *prometheus.HistogramVec

	// Orders
	OrdersPlaced   *prometheus.CounterVec
	OrdersExecuted *prometheus.CounterVec
	OrdersCanceled prometheus.Counter
	OrdersRejected *prometheus.CounterVec

	// Wallet movements (paisa)
	DepositsTotal    prometheus.Counter
	WithdrawalsTotal prometheus.Counter

	// Matching sweep
	SweepRuns       prometheus.Counter
	SweepExecutions prometheus.Counter
	SweepErrors     prometheus.Counter

	// Market data
	PriceUpdates      prometheus.Counter
	PriceUpdatesStale prometheus.Counter

	// Outbound event publisher
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter
	PublishErrors   prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		EngineOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_engine_ops_total",
			Help: "Engine operations completed successfully",
		}, []string{"op"}),

		EngineOpErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_engine_op_errors_total",
			Help: "Engine operations that returned an error",
		}, []string{"op", "reason"}),

		EngineOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeheaven_engine_op_duration_seconds",
			Help:    "End-to-end engine operation latency, including the DB transaction",
			Buckets: opBuckets,
		}, []string{"op"}),

		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_orders_placed_total",
			Help: "Orders accepted as open",
		}, []string{"side", "type"}),

		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_orders_executed_total",
			Help: "Orders executed",
		}, []string{"side", "type"}),

		OrdersCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_orders_canceled_total",
			Help: "Orders canceled",
		}),

		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_orders_rejected_total",
			Help: "Orders rejected at placement",
		}, []string{"reason"}),

		DepositsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_deposits_paisa_total",
			Help: "Total deposited, in paisa",
		}),

		WithdrawalsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_withdrawals_paisa_total",
			Help: "Total withdrawn, in paisa",
		}),

		SweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_sweep_runs_total",
			Help: "Matching sweep passes",
		}),

		SweepExecutions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_sweep_executions_total",
			Help: "Orders executed by the matching sweep",
		}),

		SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_sweep_errors_total",
			Help: "Sweep execution attempts that failed",
		}),

		PriceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_price_updates_total",
			Help: "Price ticks applied to the quote board",
		}),

		PriceUpdatesStale: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_price_updates_stale_total",
			Help: "Price ticks dropped as stale or invalid",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_events_published_total",
			Help: "Outbound ledger events published to NATS",
		}, []string{"type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_publish_drops_total",
			Help: "Outbound events dropped due to a full publish channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tradeheaven_publish_errors_total",
			Help: "Outbound publish attempts that failed",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeheaven_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeheaven_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: opBuckets,
		}, []string{"method", "route"}),
	}
}
