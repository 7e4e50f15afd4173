package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transaction metrics
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_total",
		Help: "Total number of payment transactions by final state",
	}, []string{
		"method", // CASH, CARD_TERMINAL, CARD_ONLINE, GIFT_CARD
		"status", // SUCCESSFUL, FAILED, CANCELED, REFUNDED
	})

	transactionAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_cents_total",
		Help: "Total transaction amount in cents (for revenue tracking)",
	}, []string{
		"method",
		"status",
	})

	// Payment lifecycle metrics
	paymentsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments that reached PAID",
	})

	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunds_total",
		Help: "Total number of refunds applied",
	}, []string{
		"method",
	})

	refundAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refund_amount_cents_total",
		Help: "Total refunded amount in cents",
	}, []string{
		"method",
	})

	// Webhook reconciliation metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total provider webhook events received",
	}, []string{
		"event_type",
		"outcome", // applied, rejected, failed, unverified
	})

	shadowTransactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_shadow_transactions_total",
		Help: "Transactions materialized from webhook events with no local record",
	})

	// Provider call metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Duration of payment provider API calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"operation", // create_intent, capture_intent, cancel_intent, refund_intent
		"outcome",   // ok, error
	})
)

// RecordTransaction records a transaction reaching a final state
func RecordTransaction(method, status string, amountCents int64) {
	transactionsTotal.WithLabelValues(method, status).Inc()
	transactionAmountCents.WithLabelValues(method, status).Add(float64(amountCents))
}

// RecordPaymentCompleted records a payment reaching PAID
func RecordPaymentCompleted() {
	paymentsCompletedTotal.Inc()
}

// RecordRefund records a refund applied to a transaction
func RecordRefund(method string, amountCents int64) {
	refundsTotal.WithLabelValues(method).Inc()
	refundAmountCents.WithLabelValues(method).Add(float64(amountCents))
}

// RecordWebhookEvent records a provider event and how it was handled
func RecordWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordShadowTransaction records a transaction materialized during
// reconciliation
func RecordShadowTransaction() {
	shadowTransactionsTotal.Inc()
}

// RecordProviderRequest records one provider API round-trip
func RecordProviderRequest(operation, outcome string, seconds float64) {
	providerRequestDuration.WithLabelValues(operation, outcome).Observe(seconds)
}
