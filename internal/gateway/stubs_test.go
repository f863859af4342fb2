package gateway

import (
	"context"
	"sync"

	"github.com/gratefulhq/store-gateway/internal/store"
)

// stubOrders is an in-memory OrderStore mirroring the conditional-transition
// semantics of the Postgres implementation: terminal orders refuse further
// status changes.
type stubOrders struct {
	mu       sync.Mutex
	orders   map[int64]store.Order
	notes    []string
	paid     int
	failed   int
	pending  int
	metaSets int

	// paidErr fails the next MarkPaid call once, simulating a transient
	// store error during settlement.
	paidErr error
}

func newStubOrders(orders ...store.Order) *stubOrders {
	s := &stubOrders{orders: make(map[int64]store.Order)}
	for _, o := range orders {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string)
		}
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrders) GetOrder(_ context.Context, id int64) (store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return store.Order{}, store.ErrOrderNotFound
	}
	return o, nil
}

func (s *stubOrders) SetMetadata(_ context.Context, orderID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	o.Metadata[key] = value
	s.orders[orderID] = o
	s.metaSets++
	return nil
}

func (s *stubOrders) transition(orderID int64, to store.OrderStatus, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return false, store.ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return false, nil
	}
	o.Status = to
	s.orders[orderID] = o
	s.notes = append(s.notes, note)
	return true, nil
}

func (s *stubOrders) MarkPaid(_ context.Context, orderID int64, settlementRef, note string) (bool, error) {
	s.mu.Lock()
	if s.paidErr != nil {
		err := s.paidErr
		s.paidErr = nil
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()
	applied, err := s.transition(orderID, store.OrderStatusCompleted, note)
	if applied {
		s.mu.Lock()
		o := s.orders[orderID]
		o.SettlementRef = settlementRef
		s.orders[orderID] = o
		s.paid++
		s.mu.Unlock()
	}
	return applied, err
}

func (s *stubOrders) MarkFailed(_ context.Context, orderID int64, note string) (bool, error) {
	applied, err := s.transition(orderID, store.OrderStatusFailed, note)
	if applied {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
	}
	return applied, err
}

func (s *stubOrders) MarkPending(_ context.Context, orderID int64, note string) (bool, error) {
	applied, err := s.transition(orderID, store.OrderStatusPending, note)
	if applied {
		s.mu.Lock()
		s.pending++
		s.mu.Unlock()
	}
	return applied, err
}

func (s *stubOrders) AppendNote(_ context.Context, orderID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return store.ErrOrderNotFound
	}
	s.notes = append(s.notes, note)
	return nil
}

func (s *stubOrders) status(orderID int64) store.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID].Status
}

type stubSessions struct {
	mu       sync.Mutex
	sessions []store.Session
	events   []store.PaymentEvent
}

func (s *stubSessions) InsertSession(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *stubSessions) LatestSessionByOrder(_ context.Context, orderID int64) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if s.sessions[i].OrderID == orderID {
			return s.sessions[i], nil
		}
	}
	return store.Session{}, store.ErrSessionNotFound
}

func (s *stubSessions) InsertPaymentEvent(_ context.Context, ev store.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
