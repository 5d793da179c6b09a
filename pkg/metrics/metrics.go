package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MutationsProcessed counts balance mutations by ledger entry type and outcome
// (ok, insufficient_funds, unknown_entity, error)
var MutationsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletcore_mutations_processed_total",
		Help: "Total number of balance mutations processed",
	},
	[]string{"type", "outcome"},
)

// MutationLatency records latency distribution for balance mutations
var MutationLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "walletcore_mutation_latency_seconds",
		Help:    "Latency in seconds to apply a single balance mutation",
		Buckets: prometheus.DefBuckets,
	},
)

// LotsConsumed counts lots fully or partially consumed by disposals
var LotsConsumed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "walletcore_lots_consumed_total",
		Help: "Total number of lot segments consumed by disposals",
	},
)

// ConsistencyMismatches counts (wallet, currency) pairs where lot remainders
// do not sum to the aggregate position amount
var ConsistencyMismatches = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "walletcore_lot_consistency_mismatches_total",
		Help: "Total number of lot/position consistency mismatches detected",
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletcore_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletcore_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletcore_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(MutationsProcessed, MutationLatency, LotsConsumed, ConsistencyMismatches)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
