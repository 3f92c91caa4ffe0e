package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventsProcessed counts market events consumed by backtest runs, by kind (bar/tick)
var EventsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backlite_events_processed_total",
		Help: "Total number of market events processed by backtest runs",
	},
	[]string{"kind"},
)

// FillsSimulated counts simulated fills by side (buy/sell)
var FillsSimulated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backlite_fills_simulated_total",
		Help: "Total number of fills produced by the fill simulator",
	},
	[]string{"side"},
)

// RiskDecisions counts risk gate outcomes by decision (allow/reject/modify/halt)
var RiskDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backlite_risk_decisions_total",
		Help: "Total number of pre-trade risk decisions by outcome",
	},
	[]string{"decision"},
)

// BacktestDuration records wall-clock duration of complete backtest runs
var BacktestDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "backlite_backtest_duration_seconds",
		Help:    "Wall-clock duration of complete backtest runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	},
)

// Walk-forward worker pool metrics
var (
	WalkForwardJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backlite_walkforward_jobs_total",
			Help: "Parameter-set evaluations submitted to the walk-forward pool, by result",
		},
		[]string{"result"},
	)

	WalkForwardJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backlite_walkforward_job_duration_seconds",
			Help:    "Duration of individual walk-forward parameter-set evaluations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	WalkForwardActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backlite_walkforward_active_workers",
			Help: "Number of walk-forward workers currently evaluating a parameter set",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsProcessed, FillsSimulated, RiskDecisions, BacktestDuration)
	prometheus.MustRegister(WalkForwardJobs, WalkForwardJobDuration, WalkForwardActiveWorkers)
}
