package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_applied_total",
			Help: "Decoded events applied to the store.",
		},
		[]string{"chain", "event"},
	)
	EventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_skipped_total",
			Help: "Logs skipped because they could not be decoded or referenced an unknown pool.",
		},
		[]string{"chain", "reason"},
	)
	BlockApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_block_apply_duration_seconds",
			Help:    "Time taken to apply one block's events and move the cursor.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"chain"},
	)
	CycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_cycle_errors_total",
			Help: "Polling cycles that ended in an error and will be retried.",
		},
		[]string{"chain", "stage"},
	)
	RPCRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_requests_total",
			Help: "JSON-RPC requests issued per chain and method.",
		},
		[]string{"chain", "method"},
	)
	CursorBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_cursor_block",
			Help: "Last processed block per chain.",
		},
		[]string{"chain"},
	)
	ChainHeadBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_chain_head_block",
			Help: "Latest block reported by the chain RPC.",
		},
		[]string{"chain"},
	)
	ChainLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_chain_lag_blocks",
			Help: "Blocks between the chain head and the cursor.",
		},
		[]string{"chain"},
	)
	SQLQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_sql_queries_total",
			Help: "Ad-hoc SQL queries served, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsApplied,
		EventsSkipped,
		BlockApplyDuration,
		CycleErrors,
		RPCRequests,
		CursorBlock,
		ChainHeadBlock,
		ChainLag,
		SQLQueries,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
