package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainHeadBlock tracks the latest block height seen on the chain
	ChainHeadBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packet_indexer_chain_head_block",
			Help: "Latest block height reported by the chain RPC",
		},
	)

	// CursorBlock tracks the last processed block per event source
	CursorBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "packet_indexer_cursor_block",
			Help: "Last block fully processed by an event source",
		},
		[]string{"source"},
	)

	// EventsApplied counts applier outcomes per event kind
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_events_applied_total",
			Help: "Events handed to the applier by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// LogsDropped counts logs the normalizer rejected
	LogsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_logs_dropped_total",
			Help: "Raw logs dropped during normalization",
		},
		[]string{"kind", "reason"},
	)

	// MetadataFallbacks counts token metadata fields replaced by defaults
	MetadataFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_token_metadata_fallbacks_total",
			Help: "Token metadata fields substituted with defaults",
		},
		[]string{"field"},
	)

	// DeferredHold reports the block a watcher cursor is held before, 0 when not held
	DeferredHold = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "packet_indexer_deferred_hold_block",
			Help: "Block of the deferred event holding a watcher cursor, 0 when not held",
		},
		[]string{"kind"},
	)

	// WatcherStalled is 1 while a watcher has been held longer than poller.stall_after
	WatcherStalled = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "packet_indexer_watcher_stalled",
			Help: "Whether a deferred event has held the watcher cursor past the stall threshold",
		},
		[]string{"kind"},
	)

	// PollErrors counts failed poll ticks per event kind
	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_poll_errors_total",
			Help: "Poll ticks that ended without advancing the cursor",
		},
		[]string{"kind"},
	)

	// BackfillEvents counts events replayed by backfill runs
	BackfillEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_backfill_events_total",
			Help: "Events replayed by historical backfill",
		},
		[]string{"kind"},
	)

	// ReorgChecks counts reorg detector cycles by result
	ReorgChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_reorg_checks_total",
			Help: "Reorg detector cycles by result",
		},
		[]string{"result"},
	)

	// ReorgDeletedRows counts rows removed by reorg rollbacks
	ReorgDeletedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_reorg_deleted_rows_total",
			Help: "Rows deleted by reorg rollbacks",
		},
		[]string{"table"},
	)

	// ClaimRequests counts claim service results
	ClaimRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_claim_requests_total",
			Help: "Claim requests by result",
		},
		[]string{"result"},
	)

	// IdempotencyReplays counts requests answered from the idempotency cache
	IdempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packet_indexer_idempotency_replays_total",
			Help: "Requests answered from a cached response",
		},
	)

	// Notifications counts dispatcher results per event name
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packet_indexer_notifications_total",
			Help: "Post-commit notifications by event and result",
		},
		[]string{"event", "result"},
	)

	// RPCLatency tracks chain RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packet_indexer_rpc_latency_seconds",
			Help:    "Chain RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// DBConnectionPoolUsage tracks the share of open connections in the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packet_indexer_db_connection_pool_usage_percent",
			Help: "Open connections as a percentage of the pool limit",
		},
	)
)
