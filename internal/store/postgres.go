package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements OrderStore and SessionStore over a pgx pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres wraps the provided pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// GetOrder loads one order including its metadata document.
func (p *Postgres) GetOrder(ctx context.Context, id int64) (Order, error) {
	const q = `
		SELECT id, total_cents, currency, status, settlement_ref, COALESCE(metadata, '{}'::jsonb)
		FROM orders
		WHERE id = $1`
	var (
		o   Order
		ref pgtype.Text
	)
	err := p.Pool.QueryRow(ctx, q, id).Scan(&o.ID, &o.TotalCents, &o.Currency, &o.Status, &ref, &o.Metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	o.SettlementRef = ref.String
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	return o, nil
}

// SetMetadata upserts a single key into the order metadata document.
func (p *Postgres) SetMetadata(ctx context.Context, orderID int64, key, value string) error {
	const q = `
		UPDATE orders
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object($2::text, $3::text),
		    updated_at = now()
		WHERE id = $1`
	tag, err := p.Pool.Exec(ctx, q, orderID, key, value)
	if err != nil {
		return fmt.Errorf("set metadata on order %d: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkPaid settles the order. The conditional update refuses orders that
// already reached a terminal status, which makes repeated or racing paid
// signals collapse into a single settlement.
func (p *Postgres) MarkPaid(ctx context.Context, orderID int64, settlementRef, note string) (bool, error) {
	return p.transition(ctx, orderID, OrderStatusCompleted, settlementRef, note)
}

// MarkFailed fails the order unless it is already terminal.
func (p *Postgres) MarkFailed(ctx context.Context, orderID int64, note string) (bool, error) {
	return p.transition(ctx, orderID, OrderStatusFailed, "", note)
}

// MarkPending sets the order pending unless it is already terminal.
func (p *Postgres) MarkPending(ctx context.Context, orderID int64, note string) (bool, error) {
	return p.transition(ctx, orderID, OrderStatusPending, "", note)
}

func (p *Postgres) transition(ctx context.Context, orderID int64, target OrderStatus, settlementRef, note string) (bool, error) {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transition for order %d: %w", orderID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		UPDATE orders
		SET status = $2,
		    settlement_ref = CASE WHEN $3::text <> '' THEN $3 ELSE settlement_ref END,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`
	tag, err := tx.Exec(ctx, q, orderID, target, settlementRef)
	if err != nil {
		return false, fmt.Errorf("transition order %d to %s: %w", orderID, target, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if note != "" {
		if err := appendNoteTx(ctx, tx, orderID, note); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transition for order %d: %w", orderID, err)
	}
	return true, nil
}

// AppendNote records an audit note against the order.
func (p *Postgres) AppendNote(ctx context.Context, orderID int64, note string) error {
	const q = `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`
	if _, err := p.Pool.Exec(ctx, q, orderID, note); err != nil {
		return fmt.Errorf("append note to order %d: %w", orderID, err)
	}
	return nil
}

func appendNoteTx(ctx context.Context, tx pgx.Tx, orderID int64, note string) error {
	const q = `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, q, orderID, note); err != nil {
		return fmt.Errorf("append note to order %d: %w", orderID, err)
	}
	return nil
}

// InsertSession stores a new payment session for the order.
func (p *Postgres) InsertSession(ctx context.Context, s Session) error {
	const q = `
		INSERT INTO payment_sessions (payment_id, order_id, redirect_url, fiat_amount_cents, fiat_currency, callback_url)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := p.Pool.Exec(ctx, q, s.PaymentID, s.OrderID, s.RedirectURL, s.FiatAmountCents, s.FiatCurrency, s.CallbackURL)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.PaymentID, err)
	}
	return nil
}

// LatestSessionByOrder returns the most recent session for the order.
func (p *Postgres) LatestSessionByOrder(ctx context.Context, orderID int64) (Session, error) {
	const q = `
		SELECT payment_id, order_id, redirect_url, fiat_amount_cents, fiat_currency, callback_url, created_at
		FROM payment_sessions
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	var s Session
	err := p.Pool.QueryRow(ctx, q, orderID).Scan(
		&s.PaymentID, &s.OrderID, &s.RedirectURL, &s.FiatAmountCents, &s.FiatCurrency, &s.CallbackURL, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("latest session for order %d: %w", orderID, err)
	}
	return s, nil
}

// InsertPaymentEvent appends one reconciliation audit record.
func (p *Postgres) InsertPaymentEvent(ctx context.Context, ev PaymentEvent) error {
	const q = `
		INSERT INTO payment_events (payment_id, order_id, status, payload)
		VALUES ($1, $2, $3, $4)`
	if _, err := p.Pool.Exec(ctx, q, ev.PaymentID, ev.OrderID, ev.Status, ev.Payload); err != nil {
		return fmt.Errorf("insert payment event for %s: %w", ev.PaymentID, err)
	}
	return nil
}

// InsertDomainEvent persists one domain event emitted by the bus.
func (p *Postgres) InsertDomainEvent(ctx context.Context, id string, topic string, orderID int64, payload []byte) error {
	const q = `
		INSERT INTO domain_events (id, topic, order_id, payload)
		VALUES ($1, $2, $3, $4)`
	if _, err := p.Pool.Exec(ctx, q, id, topic, orderID, payload); err != nil {
		return fmt.Errorf("insert domain event %s: %w", topic, err)
	}
	return nil
}

// Ping probes database connectivity for readiness checks.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
