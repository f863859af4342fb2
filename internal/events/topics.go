package events

// Topic constants for domain events emitted by the gateway.
const (
	TopicSessionCreated = "payment.session_created"
	TopicOrderPaid      = "order.paid"
	TopicPaymentFailed  = "payment.failed"
	TopicPaymentPending = "payment.pending"
	TopicPaymentAnomaly = "payment.anomaly"
)

// DefaultTopics returns the canonical list of topics the gateway emits.
func DefaultTopics() []string {
	return []string{
		TopicSessionCreated,
		TopicOrderPaid,
		TopicPaymentFailed,
		TopicPaymentPending,
		TopicPaymentAnomaly,
	}
}

// KnownTopic reports whether the topic belongs to the canonical set. The
// bus refuses to emit anything else, so downstream consumers only ever see
// the topics listed above.
func KnownTopic(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
