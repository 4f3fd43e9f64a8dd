package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersProcessed counts orders accepted by the engine, by market and side.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbit_orders_processed_total",
		Help: "Total number of orders processed by the engine",
	},
	[]string{"market", "side"},
)

// OrdersRejected counts rejected orders by error kind.
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbit_orders_rejected_total",
		Help: "Total number of rejected orders by reason",
	},
	[]string{"market", "reason"},
)

// TradesExecuted counts matched trades per market.
var TradesExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orbit_trades_executed_total",
		Help: "Total number of trades produced by matching",
	},
	[]string{"market"},
)

// MatchLatency records latency distribution for full AddOrder command handling,
// including settlement and persistence.
var MatchLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "orbit_order_processing_latency_seconds",
		Help:    "Latency in seconds to process individual order commands",
		Buckets: prometheus.DefBuckets,
	},
)

// CommandQueueDepth tracks the per-market command queue backlog.
var CommandQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "orbit_command_queue_depth",
		Help: "Number of commands waiting on a market worker queue",
	},
	[]string{"market"},
)

func init() {
	prometheus.MustRegister(OrdersProcessed, OrdersRejected, TradesExecuted, MatchLatency, CommandQueueDepth)
}
