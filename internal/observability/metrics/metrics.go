// Package metrics exposes prometheus instruments for the billing core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type BillingMetrics struct {
	WebhookIngests      *prometheus.CounterVec
	WebhookDuplicates   prometheus.Counter
	WebhookRejected     *prometheus.CounterVec
	UsageDecisions      *prometheus.CounterVec
	SweepRuns           prometheus.Counter
	SweepErrors         prometheus.Counter
	SweepTransitions    *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	ProvisionOperations *prometheus.CounterVec
}

var (
	once     sync.Once
	instance *BillingMetrics
)

// Billing returns the process-wide metric set.
func Billing() *BillingMetrics {
	once.Do(func() {
		instance = &BillingMetrics{
			WebhookIngests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "croft_webhook_ingests_total",
				Help: "Webhook deliveries accepted per gateway and event type.",
			}, []string{"gateway", "event_type"}),
			WebhookDuplicates: promauto.NewCounter(prometheus.CounterOpts{
				Name: "croft_webhook_duplicates_total",
				Help: "Webhook deliveries suppressed by the fingerprint dedupe window.",
			}),
			WebhookRejected: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "croft_webhook_rejected_total",
				Help: "Webhook deliveries rejected per gateway and reason.",
			}, []string{"gateway", "reason"}),
			UsageDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "croft_usage_decisions_total",
				Help: "Metered-resource admission decisions per resource and outcome.",
			}, []string{"resource", "outcome"}),
			SweepRuns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "croft_reconciliation_runs_total",
				Help: "Reconciliation sweep executions.",
			}),
			SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "croft_reconciliation_errors_total",
				Help: "Per-tenant errors captured during reconciliation sweeps.",
			}),
			SweepTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "croft_reconciliation_transitions_total",
				Help: "Subscription transitions applied by the sweep, per kind.",
			}, []string{"kind"}),
			SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "croft_reconciliation_duration_seconds",
				Help:    "Wall time of a full reconciliation sweep.",
				Buckets: prometheus.DefBuckets,
			}),
			ProvisionOperations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "croft_provision_operations_total",
				Help: "Tenant lifecycle operations per kind and outcome.",
			}, []string{"kind", "outcome"}),
		}
	})
	return instance
}

func (m *BillingMetrics) ObserveSweep(start time.Time) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
}
