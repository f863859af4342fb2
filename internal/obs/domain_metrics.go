package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentCreateTotal counts remote payment-creation attempts by result.
	PaymentCreateTotal *prometheus.CounterVec
	// WebhookInboundTotal counts processed processor webhooks by outcome.
	WebhookInboundTotal *prometheus.CounterVec
	// ReconcileTotal counts reconciliation decisions by canonical status and
	// whether the order was actually mutated.
	ReconcileTotal *prometheus.CounterVec
	// RemoteCallDuration records Grateful API latency in milliseconds.
	RemoteCallDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_create_total",
			Help:      "Count of remote payment session creation outcomes.",
		}, []string{"result"})
		WebhookInboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_inbound_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"outcome"})
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Count of reconciliation decisions by canonical status.",
		}, []string{"status", "applied"})
		RemoteCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_ms",
			Help:      "Latency for Grateful API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"operation", "result"})

		registerCounterVec(reg, &PaymentCreateTotal)
		registerCounterVec(reg, &WebhookInboundTotal)
		registerCounterVec(reg, &ReconcileTotal)
		registerHistogramVec(reg, &RemoteCallDuration)
	})
}
