// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the quest and ledger economy engine.
var (
	// Counters.
	EventsTrackedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quest_events_tracked_total",
			Help: "Total number of domain events consumed by the quest tracker",
		},
		[]string{"event_key", "status"},
	)

	QuestsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_completed_total",
			Help: "Total number of quest instances that reached their target",
		},
		[]string{"quest_code", "period"},
	)

	QuestsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_claimed_total",
			Help: "Total number of quest instances claimed",
		},
		[]string{"quest_code"},
	)

	LedgerCreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Total currency units credited through the ledger",
		},
		[]string{"currency", "reason"},
	)

	LedgerDebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_debits_total",
			Help: "Total currency units debited through the ledger",
		},
		[]string{"currency", "reason"},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_purchases_total",
			Help: "Total number of reward purchase attempts",
		},
		[]string{"status"},
	)

	PurchaseReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_purchase_replays_total",
			Help: "Total number of purchase requests answered from an existing idempotency key",
		},
	)

	ReconciliationRepairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_reconciliation_repairs_total",
			Help: "Total number of cached balances that drifted and were repaired",
		},
	)

	// Gauges.
	FulfillingPurchases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fulfilling_purchases",
			Help: "Current number of purchases awaiting external fulfillment",
		},
	)

	SchedulerLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_last_run_timestamp",
			Help: "Unix timestamp of last run per scheduled job",
		},
		[]string{"job"},
	)

	// Histograms.
	ClaimDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quest_claim_duration_seconds",
			Help:    "Time taken to execute one claim transaction",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	PurchaseDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reward_purchase_duration_seconds",
			Help:    "Time taken to execute one purchase transaction",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	ReconciliationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "balance_reconciliation_duration_seconds",
			Help:    "Time taken to reconcile all cached balances",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)
)

// RecordEventTracked records one consumed domain event.
func RecordEventTracked(eventKey, status string) {
	EventsTrackedTotal.WithLabelValues(eventKey, status).Inc()
}

// RecordQuestCompleted records a quest instance reaching its target.
func RecordQuestCompleted(questCode, period string) {
	QuestsCompletedTotal.WithLabelValues(questCode, period).Inc()
}

// RecordQuestClaimed records a successful claim.
func RecordQuestClaimed(questCode string) {
	QuestsClaimedTotal.WithLabelValues(questCode).Inc()
}

// RecordLedgerDelta records a ledger append by sign.
func RecordLedgerDelta(currency, reason string, delta int64) {
	if delta >= 0 {
		LedgerCreditsTotal.WithLabelValues(currency, reason).Add(float64(delta))
		return
	}
	LedgerDebitsTotal.WithLabelValues(currency, reason).Add(float64(-delta))
}

// RecordPurchase records a purchase attempt outcome.
func RecordPurchase(status string) {
	PurchasesTotal.WithLabelValues(status).Inc()
}

// RecordPurchaseReplay records an idempotent purchase replay.
func RecordPurchaseReplay() {
	PurchaseReplaysTotal.Inc()
}

// RecordReconciliationRepair records one repaired cached balance.
func RecordReconciliationRepair() {
	ReconciliationRepairsTotal.Inc()
}

// SetFulfillingPurchases sets the number of purchases awaiting fulfillment.
func SetFulfillingPurchases(count int) {
	FulfillingPurchases.Set(float64(count))
}

// SetSchedulerLastRun sets the timestamp of the last run for a job.
func SetSchedulerLastRun(job string) {
	SchedulerLastRunTimestamp.WithLabelValues(job).SetToCurrentTime()
}

// ObserveClaimDuration observes the duration of a claim transaction.
func ObserveClaimDuration(seconds float64) {
	ClaimDurationSeconds.Observe(seconds)
}

// ObservePurchaseDuration observes the duration of a purchase transaction.
func ObservePurchaseDuration(seconds float64) {
	PurchaseDurationSeconds.Observe(seconds)
}

// ObserveReconciliationDuration observes the duration of a full reconciliation sweep.
func ObserveReconciliationDuration(seconds float64) {
	ReconciliationDurationSeconds.Observe(seconds)
}
