package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpKeeper.
type Metrics struct {
	// --- Indexer ---
	IndexerEventsApplied *prometheus.CounterVec
	IndexerEventErrors   *prometheus.CounterVec
	IndexerBatchDuration *prometheus.HistogramVec
	IndexerSkippedRanges *prometheus.CounterVec
	IndexerHeadLag       *prometheus.GaugeVec
	CheckpointBlock      *prometheus.GaugeVec

	// --- Keeper ---
	KeeperCycles        *prometheus.CounterVec
	KeeperCycleDuration *prometheus.HistogramVec
	KeeperTxSubmitted   *prometheus.CounterVec
	KeeperTxConfirmed   *prometheus.CounterVec
	KeeperTxReverted    *prometheus.CounterVec

	// --- Merkle / reserves ---
	MerkleBuildDuration prometheus.Histogram
	MerkleLeafCount     prometheus.Gauge
	MerkleTotalLiab     prometheus.Gauge

	// --- Store ---
	StoreWrites *prometheus.CounterVec
	StoreErrors *prometheus.CounterVec

	// --- Projections & cache ---
	ProjectionRefreshes *prometheus.CounterVec
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec

	// --- Broadcast ---
	BroadcastPublished *prometheus.CounterVec
	BroadcastErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	cycleBuckets := []float64{
		0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
	}

	batchBuckets := []float64{
		0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	}

	return &Metrics{
		// Indexer
		IndexerEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_indexer_events_applied_total",
			Help: "Ledger events normalized and applied to mirror tables",
		}, []string{"stream", "event_type"}),

		IndexerEventErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_indexer_event_errors_total",
			Help: "Per-event handler failures (event skipped, batch continues)",
		}, []string{"stream", "event_type"}),

		IndexerBatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpkeeper_indexer_batch_duration_seconds",
			Help:    "Time to fetch and apply one block window",
			Buckets: batchBuckets,
		}, []string{"stream"}),

		IndexerSkippedRanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_indexer_skipped_ranges_total",
			Help: "Block windows abandoned after exhausting retries",
		}, []string{"stream"}),

		IndexerHeadLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpkeeper_indexer_head_lag_blocks",
			Help: "Chain head minus last processed block",
		}, []string{"stream"}),

		CheckpointBlock: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpkeeper_checkpoint_block",
			Help: "Last durably processed block per stream",
		}, []string{"stream"}),

		// Keeper
		KeeperCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_keeper_cycles_total",
			Help: "Keeper check cycles by outcome (ok/error/panic)",
		}, []string{"policy", "outcome"}),

		KeeperCycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpkeeper_keeper_cycle_duration_seconds",
			Help:    "Duration of one keeper check cycle",
			Buckets: cycleBuckets,
		}, []string{"policy"}),

		KeeperTxSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_keeper_tx_submitted_total",
			Help: "Transactions submitted to the ledger program",
		}, []string{"policy"}),

		KeeperTxConfirmed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_keeper_tx_confirmed_total",
			Help: "Transactions confirmed by receipt",
		}, []string{"policy"}),

		KeeperTxReverted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_keeper_tx_reverted_total",
			Help: "On-chain rejections by class (benign/unexpected)",
		}, []string{"policy", "class"}),

		// Merkle
		MerkleBuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpkeeper_merkle_build_duration_seconds",
			Help:    "Full proof-of-reserves tree rebuild time",
			Buckets: batchBuckets,
		}),

		MerkleLeafCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpkeeper_merkle_leaf_count",
			Help: "Accounts in the last published reserves tree",
		}),

		MerkleTotalLiab: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpkeeper_merkle_total_liabilities",
			Help: "Aggregate liabilities in the last published tree (scaled float)",
		}),

		// Store
		StoreWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_store_writes_total",
			Help: "Mirror table writes by table",
		}, []string{"table"}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_store_errors_total",
			Help: "Mirror store errors by table",
		}, []string{"table"}),

		// Projections & cache
		ProjectionRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_projection_refreshes_total",
			Help: "Read-model refreshes triggered by indexed events",
		}, []string{"view"}),

		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_cache_hits_total",
			Help: "Expiring cache hits",
		}, []string{"cache"}),

		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_cache_misses_total",
			Help: "Expiring cache misses",
		}, []string{"cache"}),

		// Broadcast
		BroadcastPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_broadcast_published_total",
			Help: "Fan-out notifications published",
		}, []string{"kind"}),

		BroadcastErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_broadcast_errors_total",
			Help: "Fan-out publish failures",
		}, []string{"kind"}),
	}
}
