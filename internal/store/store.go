package store

import (
	"context"
	"errors"
	"time"
)

// MetaPaymentID is the order metadata key holding the Grateful payment id.
// The key is shared with the storefront plugin, so it keeps the legacy name.
const MetaPaymentID = "_grateful_payment_id"

// OrderStatus is the host store's order status vocabulary.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether the status is final for this integration.
// Completed and failed orders are never silently reverted by a later signal.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// Order is the host store's order as seen by the gateway. The gateway
// references orders, it does not own them.
type Order struct {
	ID            int64
	TotalCents    int64
	Currency      string
	Status        OrderStatus
	SettlementRef string
	Metadata      map[string]string
}

// PaymentID returns the Grateful payment id stored on the order, if any.
func (o Order) PaymentID() string {
	return o.Metadata[MetaPaymentID]
}

// Session records one remote payment attempt for an order. A new attempt
// supersedes the previous session for the same order.
type Session struct {
	PaymentID       string
	OrderID         int64
	RedirectURL     string
	FiatAmountCents int64
	FiatCurrency    string
	CallbackURL     string
	CreatedAt       time.Time
}

// PaymentEvent is one reconciliation audit record for a payment.
type PaymentEvent struct {
	PaymentID string
	OrderID   int64
	Status    string
	Payload   []byte
}

var (
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("store: order not found")
	// ErrSessionNotFound is returned when an order has no payment session.
	ErrSessionNotFound = errors.New("store: payment session not found")
)

// OrderStore is the host-platform order collaborator. Mark* methods return
// whether the transition was applied; they refuse to touch orders that
// already reached a terminal status so concurrent webhook/return races
// collapse to a single effective mutation.
type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	SetMetadata(ctx context.Context, orderID int64, key, value string) error
	MarkPaid(ctx context.Context, orderID int64, settlementRef, note string) (bool, error)
	MarkFailed(ctx context.Context, orderID int64, note string) (bool, error)
	MarkPending(ctx context.Context, orderID int64, note string) (bool, error)
	AppendNote(ctx context.Context, orderID int64, note string) error
}

// SessionStore persists payment sessions and their reconciliation audit trail.
type SessionStore interface {
	InsertSession(ctx context.Context, s Session) error
	LatestSessionByOrder(ctx context.Context, orderID int64) (Session, error)
	InsertPaymentEvent(ctx context.Context, ev PaymentEvent) error
}
