package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the CDP engine.
type Metrics struct {
	// --- Burns ---
	BurnsExecuted  *prometheus.CounterVec
	BurnsRejected  *prometheus.CounterVec
	BurnDuration   prometheus.Histogram
	FeesCollected  *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec

	// --- Fee accrual ---
	FeeAccruals       prometheus.Counter
	FeeAccrualErrors  *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationsValidated *prometheus.CounterVec
	LiquidationsRejected  *prometheus.CounterVec

	// --- Positions ---
	PositionsByState  *prometheus.GaugeVec
	HealthCheckDuration prometheus.Histogram

	// --- Oracle ---
	PriceUpdates     *prometheus.CounterVec
	PriceStaleness   *prometheus.GaugeVec
	OracleParseErrors prometheus.Counter

	// --- Persistence ---
	StoreWrites        *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	StoreVersionConflicts prometheus.Counter
	StoreWriteDuration prometheus.Histogram

	// --- Yield scanner ---
	YieldScans      prometheus.Counter
	YieldScanErrors prometheus.Counter
	YieldCacheHits  prometheus.Counter
	YieldCacheMisses prometheus.Counter

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		BurnsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_burns_executed_total",
			Help: "Burns successfully applied",
		}, []string{"collateral_type"}),

		BurnsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_burns_rejected_total",
			Help: "Burns rejected by validation",
		}, []string{"collateral_type", "reason"}),

		BurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nyx_burn_duration_seconds",
			Help:    "Time to execute a single burn",
			Buckets: latencyBuckets,
		}),

		FeesCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_fees_collected_total",
			Help: "Stability fees settled by burns (token units)",
		}, []string{"collateral_type"}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_positions_closed_total",
			Help: "Positions closed by full repayment",
		}, []string{"collateral_type"}),

		FeeAccruals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_fee_accruals_total",
			Help: "Fee accrual computations",
		}),

		FeeAccrualErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_fee_accrual_errors_total",
			Help: "Fee accrual failures",
		}, []string{"reason"}),

		LiquidationsValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_liquidations_validated_total",
			Help: "Liquidation requests that passed validation",
		}, []string{"collateral_type"}),

		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_liquidations_rejected_total",
			Help: "Liquidation requests rejected",
		}, []string{"collateral_type", "reason"}),

		PositionsByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nyx_positions_by_state",
			Help: "Position count per lifecycle state",
		}, []string{"state"}),

		HealthCheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nyx_health_check_duration_seconds",
			Help:    "Time to compute a position health factor",
			Buckets: latencyBuckets,
		}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_price_updates_total",
			Help: "Oracle price updates received",
		}, []string{"collateral_type"}),

		PriceStaleness: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nyx_price_staleness_seconds",
			Help: "Age of the latest price per collateral",
		}, []string{"collateral_type"}),

		OracleParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_oracle_parse_errors_total",
			Help: "Malformed oracle messages",
		}),

		StoreWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_store_writes_total",
			Help: "CDP rows written to Postgres",
		}, []string{"operation"}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_store_errors_total",
			Help: "Postgres errors",
		}, []string{"operation"}),

		StoreVersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_store_version_conflicts_total",
			Help: "Optimistic concurrency conflicts",
		}),

		StoreWriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nyx_store_write_duration_seconds",
			Help:    "Postgres write latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		YieldScans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_yield_scans_total",
			Help: "Yield opportunity scans",
		}),

		YieldScanErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_yield_scan_errors_total",
			Help: "Failed yield scans",
		}),

		YieldCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_yield_cache_hits_total",
			Help: "Yield scans served from cache",
		}),

		YieldCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nyx_yield_cache_misses_total",
			Help: "Yield scans that hit the upstream API",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nyx_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nyx_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
