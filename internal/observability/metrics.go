package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine service.
type Metrics struct {
	// --- Core Processing ---
	CoreOpsApplied   *prometheus.CounterVec
	CoreOpsRejected  *prometheus.CounterVec
	CoreOpDuration   *prometheus.HistogramVec
	CoreJournals     *prometheus.CounterVec
	CoreSequence     prometheus.Gauge
	RunnerQueueDepth prometheus.Gauge

	// --- Protocol State ---
	NormalizationFactor prometheus.Gauge
	VaultsOpen          prometheus.Gauge
	ContinuationsActive prometheus.Gauge
	FundingUpdates      prometheus.Counter

	// --- Liquidation / GC ---
	Liquidations           *prometheus.CounterVec
	LiquidationCollateral  *prometheus.CounterVec
	VaultsRemoved          prometheus.Counter

	// --- Channel & Backpressure ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Idempotency & Ingestion ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	PriceObservations     *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Keeper ---
	KeeperRuns *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with reg.
// Pass prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreOpsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_core_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		CoreOpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_core_ops_rejected_total",
			Help: "Operations rejected, by error kind",
		}, []string{"op", "kind"}),

		CoreOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powerperp_core_op_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_core_journals_generated_total",
			Help: "Ledger journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_core_sequence",
			Help: "Current global sequence number",
		}),

		RunnerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_runner_queue_depth",
			Help: "Requests waiting for the engine",
		}),

		// Protocol State
		NormalizationFactor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_normalization_factor",
			Help: "Current normalization factor",
		}),

		VaultsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_vaults",
			Help: "Live vaults",
		}),

		ContinuationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_continuation_in_flight",
			Help: "1 while a short continuation is pending",
		}),

		FundingUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_funding_updates_total",
			Help: "Normalization factor updates",
		}),

		// Liquidation / GC
		Liquidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"kind"}),

		LiquidationCollateral: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_liquidation_collateral_paid_total",
			Help: "Collateral paid to liquidators, raw units",
		}, []string{"denom"}),

		VaultsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_vaults_removed_total",
			Help: "Empty vaults garbage collected",
		}),

		// Channel & Backpressure
		ProjectionDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Idempotency & Ingestion
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_idempotency_duplicates_total",
			Help: "Duplicate commands skipped (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		PriceObservations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_price_observations_total",
			Help: "Price observations received",
		}, []string{"pool", "result"}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "powerperp_persist_batch_size",
			Help:    "Outputs per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "powerperp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powerperp_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "powerperp_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "powerperp_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "powerperp_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// Keeper
		KeeperRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_keeper_runs_total",
			Help: "Keeper job executions",
		}, []string{"job", "result"}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powerperp_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powerperp_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
