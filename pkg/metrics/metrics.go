// Package metrics exposes the process-level Prometheus counters and
// histograms for the webhook and worker services, grounded on the pack's
// promauto.NewCounterVec idiom (estuary-flow network/metrics.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditor_jobs_processed_total",
	Help: "counter of jobs that reached a terminal processing status",
}, []string{"status", "route"})

var JobsRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditor_jobs_retried_total",
	Help: "counter of transient job failures that were scheduled for retry",
}, []string{})

var JobProcessingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "creditor_job_processing_seconds",
	Help:    "wall-clock duration of the three-agent pipeline per job",
	Buckets: prometheus.DefBuckets,
}, []string{"status"})

var OutboxDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditor_outbox_delivered_total",
	Help: "counter of outbox messages successfully applied to the document store",
}, []string{})

var OutboxFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditor_outbox_failed_total",
	Help: "counter of outbox messages that exhausted their retry budget",
}, []string{})

var ReconciliationMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditor_reconciliation_mismatches_total",
	Help: "counter of RDB/DOC mismatches found by a reconciliation run",
}, []string{})

var WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "creditor_webhook_requests_total",
	Help: "counter of inbound webhook deliveries by outcome",
}, []string{"outcome"})

var DailyCostUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "creditor_llm_daily_cost_usd",
	Help: "running total of LLM spend charged against the daily cost breaker",
}, []string{})
