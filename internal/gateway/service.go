package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gratefulhq/store-gateway/internal/events"
	"github.com/gratefulhq/store-gateway/internal/grateful"
	"github.com/gratefulhq/store-gateway/internal/obs"
	"github.com/gratefulhq/store-gateway/internal/store"
)

var (
	// ErrGatewayDisabled is returned when the integration is switched off.
	ErrGatewayDisabled = errors.New("gateway: grateful payment is disabled")
	// ErrOrderAlreadySettled is returned when payment is attempted for a
	// completed order.
	ErrOrderAlreadySettled = errors.New("gateway: order already settled")
	// ErrNoPaymentSession is returned when an order was never handed to the
	// processor through this integration.
	ErrNoPaymentSession = errors.New("gateway: order has no grateful payment session")
)

// Service owns the gateway's configuration and client handles. It is
// constructed once at startup and injected where needed; there is no
// ambient global instance.
type Service struct {
	Client       *grateful.Client
	Orders       store.OrderStore
	Sessions     store.SessionStore
	Events       *events.Bus
	Links        Links
	StoreBaseURL string
	Currency     string
	Enabled      bool
	Log          zerolog.Logger
}

// CallbackURL is the browser-return destination registered with the
// processor for the given order.
func (s *Service) CallbackURL(orderID int64) string {
	return fmt.Sprintf("%s/gateway/grateful/return?order_id=%d", s.StoreBaseURL, orderID)
}

// ProcessPayment opens a remote payment session for the order and returns
// the processor-hosted checkout URL the shopper should be redirected to.
// A failed attempt fails this checkout, not the order's ability to retry:
// re-attempting creates a new session that supersedes the stored one.
func (s *Service) ProcessPayment(ctx context.Context, orderID int64) (string, error) {
	ctx, span := otel.Tracer("gateway.Service").Start(ctx, "Service.ProcessPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	if !s.Enabled {
		return "", ErrGatewayDisabled
	}
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status == store.OrderStatusCompleted {
		return "", ErrOrderAlreadySettled
	}

	currency := order.Currency
	if currency == "" {
		currency = s.Currency
	}
	req := grateful.CreateRequest{
		FiatAmount:          centsToFiat(order.TotalCents),
		FiatCurrency:        currency,
		ExternalReferenceID: strconv.FormatInt(order.ID, 10),
		CallbackURL:         s.CallbackURL(order.ID),
	}
	session, err := s.Client.CreatePayment(ctx, req)
	if err != nil {
		s.countCreate(err)
		span.RecordError(err)
		s.Log.Error().Err(err).Int64("order_id", order.ID).Msg("create grateful payment")
		note := "Failed to create payment in Grateful. Please check the API key and try again."
		if _, markErr := s.Orders.MarkFailed(ctx, order.ID, note); markErr != nil {
			s.Log.Error().Err(markErr).Int64("order_id", order.ID).Msg("mark order failed")
		}
		return "", err
	}
	s.countCreate(nil)
	span.SetAttributes(attribute.String("payment.id", session.ID))

	note := fmt.Sprintf("Payment created in Grateful. Redirecting shopper to complete payment. Payment ID: %s", session.ID)
	if _, err := s.Orders.MarkPending(ctx, order.ID, note); err != nil {
		return "", fmt.Errorf("gateway: mark order pending: %w", err)
	}
	if err := s.Orders.SetMetadata(ctx, order.ID, store.MetaPaymentID, session.ID); err != nil {
		return "", fmt.Errorf("gateway: store payment id: %w", err)
	}
	if err := s.Sessions.InsertSession(ctx, store.Session{
		PaymentID:       session.ID,
		OrderID:         order.ID,
		RedirectURL:     session.URL,
		FiatAmountCents: order.TotalCents,
		FiatCurrency:    currency,
		CallbackURL:     req.CallbackURL,
	}); err != nil {
		s.Log.Error().Err(err).Int64("order_id", order.ID).Msg("record payment session")
	}
	s.emit(ctx, events.TopicSessionCreated, order.ID, session.ID)

	return session.URL, nil
}

// Refund validates that a refundable Grateful session exists and records
// the request. The processor does not expose a refund API yet, so the call
// succeeds locally once the session reference is confirmed.
func (s *Service) Refund(ctx context.Context, orderID, amountCents int64, reason string) error {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	paymentID := order.PaymentID()
	if paymentID == "" {
		return ErrNoPaymentSession
	}
	note := fmt.Sprintf("Refund of %s %s requested via Grateful. Payment ID: %s.", fiatString(amountCents), order.Currency, paymentID)
	if reason != "" {
		note += " Reason: " + reason
	}
	return s.Orders.AppendNote(ctx, orderID, note)
}

// ConsolidatedStatus collapses the order's local state to the canonical
// payment vocabulary for storefront polling.
func (s *Service) ConsolidatedStatus(ctx context.Context, orderID int64) (string, string, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", "", err
	}
	switch order.Status {
	case store.OrderStatusCompleted:
		return "paid", order.PaymentID(), nil
	case store.OrderStatusFailed, store.OrderStatusCancelled:
		return "failed", order.PaymentID(), nil
	default:
		return "pending", order.PaymentID(), nil
	}
}

func (s *Service) countCreate(err error) {
	if obs.PaymentCreateTotal == nil {
		return
	}
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, grateful.ErrNotConfigured):
		result = "config_error"
	default:
		var apiErr *grateful.APIError
		if errors.As(err, &apiErr) {
			result = string(apiErr.Kind)
		} else {
			result = "error"
		}
	}
	obs.PaymentCreateTotal.WithLabelValues(result).Inc()
}

func (s *Service) emit(ctx context.Context, topic string, orderID int64, paymentID string) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, orderID, map[string]any{"paymentId": paymentID}); err != nil {
		s.Log.Error().Err(err).Str("topic", topic).Int64("order_id", orderID).Msg("emit domain event")
	}
}

func centsToFiat(cents int64) float64 {
	return float64(cents) / 100
}

func fiatString(cents int64) string {
	return strconv.FormatFloat(centsToFiat(cents), 'f', 2, 64)
}
