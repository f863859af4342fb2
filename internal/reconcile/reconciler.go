package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gratefulhq/store-gateway/internal/events"
	"github.com/gratefulhq/store-gateway/internal/obs"
	"github.com/gratefulhq/store-gateway/internal/store"
)

// Status is the canonical three-way payment status derived from the
// processor's raw vocabulary, plus unknown for anything unrecognised.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
	StatusUnknown Status = "unknown"
)

// Normalize maps the processor's raw status vocabulary onto the canonical set.
func Normalize(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "success":
		return StatusPaid
	case "failed", "error":
		return StatusFailed
	case "pending", "processing":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// Outcome describes one reconciliation decision.
type Outcome struct {
	Status  Status
	Applied bool
	Anomaly string
}

// Reconciler decides the target order status for a remote payment signal and
// applies it at most once. Webhook delivery and browser return race for the
// same order; the only safety mechanism is that every transition here is an
// idempotent merge with terminal states held sticky.
type Reconciler struct {
	Orders   store.OrderStore
	Sessions store.SessionStore
	Events   *events.Bus
	Log      zerolog.Logger
}

// Apply reconciles one remote status signal against the order. The payload is
// the raw processor data retained for the audit trail. Unrecognised statuses
// never mutate the order: the caller still gets a routing decision, the money
// movement waits for a signal we understand.
func (r *Reconciler) Apply(ctx context.Context, order store.Order, paymentID, rawStatus string, payload []byte) (Outcome, error) {
	ctx, span := otel.Tracer("reconcile.Reconciler").Start(ctx, "Reconciler.Apply")
	defer span.End()

	outcome := Outcome{Status: Normalize(rawStatus)}
	span.SetAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.String("payment.id", paymentID),
		attribute.String("payment.status", string(outcome.Status)),
	)

	var err error
	switch outcome.Status {
	case StatusPaid:
		outcome, err = r.applyPaid(ctx, order, paymentID, outcome)
	case StatusFailed:
		outcome, err = r.applyFailed(ctx, order, paymentID, outcome)
	case StatusPending:
		outcome, err = r.applyPending(ctx, order, paymentID, outcome)
	default:
		outcome.Anomaly = fmt.Sprintf("unrecognized payment status %q from Grateful for payment %s", rawStatus, paymentID)
		err = r.Orders.AppendNote(ctx, order.ID, outcome.Anomaly)
	}
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}

	if obs.ReconcileTotal != nil {
		obs.ReconcileTotal.WithLabelValues(string(outcome.Status), strconv.FormatBool(outcome.Applied)).Inc()
	}
	if outcome.Applied {
		r.recordEvent(ctx, order.ID, paymentID, outcome.Status, payload)
	}
	if outcome.Anomaly != "" {
		r.Log.Warn().
			Int64("order_id", order.ID).
			Str("payment_id", paymentID).
			Str("raw_status", rawStatus).
			Msg(outcome.Anomaly)
		r.emit(ctx, events.TopicPaymentAnomaly, order.ID, paymentID, outcome.Anomaly)
	}
	return outcome, nil
}

func (r *Reconciler) applyPaid(ctx context.Context, order store.Order, paymentID string, outcome Outcome) (Outcome, error) {
	switch order.Status {
	case store.OrderStatusCompleted:
		// Duplicate settlement signal, expected under racing channels.
		r.Log.Debug().Int64("order_id", order.ID).Str("payment_id", paymentID).Msg("duplicate paid signal ignored")
		return outcome, nil
	case store.OrderStatusFailed:
		outcome.Anomaly = fmt.Sprintf("paid signal for payment %s arrived after order was failed; not applied", paymentID)
		return outcome, r.Orders.AppendNote(ctx, order.ID, outcome.Anomaly)
	}
	note := fmt.Sprintf("Payment completed via Grateful. Payment ID: %s", paymentID)
	applied, err := r.Orders.MarkPaid(ctx, order.ID, paymentID, note)
	if err != nil {
		return outcome, err
	}
	outcome.Applied = applied
	if applied {
		r.emit(ctx, events.TopicOrderPaid, order.ID, paymentID, "")
	}
	return outcome, nil
}

func (r *Reconciler) applyFailed(ctx context.Context, order store.Order, paymentID string, outcome Outcome) (Outcome, error) {
	switch order.Status {
	case store.OrderStatusFailed:
		r.Log.Debug().Int64("order_id", order.ID).Str("payment_id", paymentID).Msg("duplicate failed signal ignored")
		return outcome, nil
	case store.OrderStatusCompleted:
		outcome.Anomaly = fmt.Sprintf("failed signal for payment %s arrived after settlement; not applied", paymentID)
		return outcome, r.Orders.AppendNote(ctx, order.ID, outcome.Anomaly)
	}
	note := fmt.Sprintf("Payment failed in Grateful. Payment ID: %s", paymentID)
	applied, err := r.Orders.MarkFailed(ctx, order.ID, note)
	if err != nil {
		return outcome, err
	}
	outcome.Applied = applied
	if applied {
		r.emit(ctx, events.TopicPaymentFailed, order.ID, paymentID, "")
	}
	return outcome, nil
}

func (r *Reconciler) applyPending(ctx context.Context, order store.Order, paymentID string, outcome Outcome) (Outcome, error) {
	if order.Status.Terminal() {
		outcome.Anomaly = fmt.Sprintf("late pending signal for payment %s after terminal status %s; not applied", paymentID, order.Status)
		return outcome, r.Orders.AppendNote(ctx, order.ID, outcome.Anomaly)
	}
	note := fmt.Sprintf("Payment is pending in Grateful. Payment ID: %s", paymentID)
	applied, err := r.Orders.MarkPending(ctx, order.ID, note)
	if err != nil {
		return outcome, err
	}
	outcome.Applied = applied
	if applied {
		r.emit(ctx, events.TopicPaymentPending, order.ID, paymentID, "")
	}
	return outcome, nil
}

func (r *Reconciler) recordEvent(ctx context.Context, orderID int64, paymentID string, status Status, payload []byte) {
	if r.Sessions == nil {
		return
	}
	err := r.Sessions.InsertPaymentEvent(ctx, store.PaymentEvent{
		PaymentID: paymentID,
		OrderID:   orderID,
		Status:    string(status),
		Payload:   payload,
	})
	if err != nil {
		r.Log.Error().Err(err).Int64("order_id", orderID).Str("payment_id", paymentID).Msg("record payment event")
	}
}

func (r *Reconciler) emit(ctx context.Context, topic string, orderID int64, paymentID, anomaly string) {
	if r.Events == nil {
		return
	}
	payload := map[string]any{"paymentId": paymentID}
	if anomaly != "" {
		payload["anomaly"] = anomaly
	}
	if _, err := r.Events.Emit(ctx, topic, orderID, payload); err != nil {
		r.Log.Error().Err(err).Str("topic", topic).Int64("order_id", orderID).Msg("emit domain event")
	}
}
