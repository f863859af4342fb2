package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefulhq/store-gateway/internal/grateful"
	"github.com/gratefulhq/store-gateway/internal/reconcile"
	"github.com/gratefulhq/store-gateway/internal/store"
)

func newTestRouter(svc *Service, orders *stubOrders) *chi.Mux {
	r := chi.NewRouter()
	rec := &reconcile.Reconciler{Orders: orders, Sessions: &stubSessions{}, Log: zerolog.Nop()}
	Routes(r, Handlers{Service: svc, Links: testLinks(), Log: zerolog.Nop()},
		Webhook{Secret: "s", Orders: orders, Reconciler: rec, Log: zerolog.Nop()},
		Return{Client: svc.Client, Orders: orders, Reconciler: rec, Links: testLinks(), Log: zerolog.Nop()})
	return r
}

func TestPayEndpointSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "pay_abc", "url": "https://proc.example/pay/pay_abc"})
	}))
	defer srv.Close()

	orders := newStubOrders(store.Order{ID: 501, TotalCents: 4200, Currency: "USD", Status: store.OrderStatusPending})
	svc := newTestService(orders, &stubSessions{}, grateful.NewClient(srv.URL, "k", time.Second, time.Second))
	router := newTestRouter(svc, orders)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/501/pay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["result"])
	assert.Equal(t, "https://proc.example/pay/pay_abc", body["redirect"])
}

func TestPayEndpointRemoteFailureRedirectsToCheckout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	orders := newStubOrders(store.Order{ID: 501, TotalCents: 4200, Status: store.OrderStatusPending})
	svc := newTestService(orders, &stubSessions{}, grateful.NewClient(srv.URL, "k", time.Second, time.Second))
	router := newTestRouter(svc, orders)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/501/pay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failure", body["result"])
	assert.Equal(t, "https://store.example/checkout", body["redirect"])
}

func TestPayEndpointUnknownOrder(t *testing.T) {
	svc := newTestService(newStubOrders(), &stubSessions{}, nil)
	router := newTestRouter(svc, newStubOrders())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/999/pay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayEndpointGatewayDisabled(t *testing.T) {
	orders := newStubOrders(store.Order{ID: 1, Status: store.OrderStatusPending})
	svc := newTestService(orders, &stubSessions{}, nil)
	svc.Enabled = false
	router := newTestRouter(svc, orders)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/1/pay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPayEndpointInvalidID(t *testing.T) {
	svc := newTestService(newStubOrders(), &stubSessions{}, nil)
	router := newTestRouter(svc, newStubOrders())

	req := httptest.NewRequest(http.MethodPost, "/api/orders/abc/pay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentStatusEndpoint(t *testing.T) {
	orders := newStubOrders(store.Order{
		ID:       501,
		Status:   store.OrderStatusCompleted,
		Metadata: map[string]string{store.MetaPaymentID: "pay_abc"},
	})
	svc := newTestService(orders, &stubSessions{}, nil)
	router := newTestRouter(svc, orders)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/501/payment", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "paid", body["status"])
	assert.Equal(t, "pay_abc", body["paymentId"])
}
