package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DepositsTotal counts recorded deposits by delivery source and status
	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gravepool_deposits_total",
			Help: "Total number of deposit records processed",
		},
		[]string{"source", "status"},
	)

	// DuplicateDeposits counts deliveries collapsed by tx hash dedup
	DuplicateDeposits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gravepool_duplicate_deposits_total",
			Help: "Total number of duplicate deposit deliveries ignored",
		},
		[]string{"source"},
	)

	// DrawsTotal counts draw lifecycle transitions
	DrawsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gravepool_draws_total",
			Help: "Total number of draw operations",
		},
		[]string{"operation", "status"},
	)

	// DrawFulfillDuration tracks the time from request to fulfillment
	DrawFulfillDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gravepool_draw_fulfill_duration_seconds",
			Help:    "Time between draw request and randomness fulfillment",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// PoolBalance tracks current pool balances by token and pool
	PoolBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gravepool_pool_balance",
			Help: "Current pool balance by token and pool",
		},
		[]string{"token", "pool"},
	)

	// PendingDraws tracks tokens currently in the Requested state
	PendingDraws = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gravepool_pending_draws",
			Help: "Number of draw requests awaiting fulfillment",
		},
	)

	// EventsDetected counts chain events decoded by the watcher
	EventsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gravepool_chain_events_total",
			Help: "Total number of contract events detected",
		},
		[]string{"event_type"},
	)

	// LastProcessedBlock tracks the watcher's scan position
	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gravepool_last_processed_block",
			Help: "Last block number scanned for contract events",
		},
	)

	// ErrorsTotal counts errors by component and type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gravepool_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
