package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_submissions_total",
		Help: "Expense submissions by outcome (accepted, invalid, duplicate, failed).",
	}, []string{"outcome"})

	DegradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_degradations_total",
		Help: "Extraction or evaluation calls that fell back to default values.",
	}, []string{"stage"})

	AnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_anomalies_total",
		Help: "Accepted submissions flagged as anomalous.",
	})

	FraudScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expense_fraud_score",
		Help:    "Distribution of suspicion scores for accepted submissions.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "expense_stage_duration_seconds",
		Help:    "Latency of pipeline stages in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_status_transitions_total",
		Help: "Review decisions applied, by target status.",
	}, []string{"status"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_notifications_total",
		Help: "Notification send attempts by kind and result.",
	}, []string{"kind", "result"})

	PolicyReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_policy_reloads_total",
		Help: "Policy documents swapped in after a file change.",
	})
)

// Stage labels
const (
	StageExtraction = "extraction"
	StageEvaluation = "evaluation"
	StagePersist    = "persist"
)
