package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commissionsCreatedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "commissions_created_total",
			Help:      "Total number of commission records created.",
		},
		[]string{"generation", "purchase_type"},
	)

	commissionRollbacksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "commission_rollbacks_total",
			Help:      "Total number of commission records rolled back.",
		},
		[]string{"generation"},
	)

	statsResyncsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "stats_resyncs_total",
			Help:      "Total number of aggregate reconciliations run.",
		},
	)

	engineErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "engine_errors_total",
			Help:      "Total number of engine operations that failed.",
		},
		[]string{"operation"},
	)

	engineDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "referral",
			Name:      "engine_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
