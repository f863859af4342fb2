package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefulhq/store-gateway/internal/grateful"
	"github.com/gratefulhq/store-gateway/internal/reconcile"
	"github.com/gratefulhq/store-gateway/internal/store"
)

func statusServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestReturn(orders *stubOrders, client *grateful.Client) Return {
	return Return{
		Client: client,
		Orders: orders,
		Reconciler: &reconcile.Reconciler{
			Orders:   orders,
			Sessions: &stubSessions{},
			Log:      zerolog.Nop(),
		},
		Links: testLinks(),
		Log:   zerolog.Nop(),
	}
}

func browseBack(h Return, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func pendingOrder(id int64) store.Order {
	return store.Order{
		ID:       id,
		Status:   store.OrderStatusPending,
		Metadata: map[string]string{store.MetaPaymentID: "pay_abc"},
	}
}

func TestReturnInvalidOrderID(t *testing.T) {
	h := newTestReturn(newStubOrders(), nil)
	rec := browseBack(h, "/gateway/grateful/return?order_id=abc")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://store.example/checkout", rec.Header().Get("Location"))
}

func TestReturnUnknownOrder(t *testing.T) {
	h := newTestReturn(newStubOrders(), nil)
	rec := browseBack(h, "/gateway/grateful/return?order_id=404")
	assert.Equal(t, "https://store.example/checkout", rec.Header().Get("Location"))
}

func TestReturnOrderWithoutSession(t *testing.T) {
	orders := newStubOrders(store.Order{ID: 5, Status: store.OrderStatusPending})
	h := newTestReturn(orders, nil)
	rec := browseBack(h, "/gateway/grateful/return?order_id=5")
	assert.Equal(t, "https://store.example/checkout", rec.Header().Get("Location"))
}

func TestReturnLiveStatusOverridesHint(t *testing.T) {
	// The processor says completed even though the query hint claims failed.
	// The live status wins: the order settles and the shopper sees the receipt.
	srv := statusServer(t, "completed")
	orders := newStubOrders(pendingOrder(501))
	h := newTestReturn(orders, grateful.NewClient(srv.URL, "k", time.Second, time.Second))

	rec := browseBack(h, "/gateway/grateful/return?order_id=501&status=failed")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://store.example/receipt/501", rec.Header().Get("Location"))
	assert.Equal(t, store.OrderStatusCompleted, orders.status(501))
}

func TestReturnLiveFailedGoesToCheckout(t *testing.T) {
	srv := statusServer(t, "failed")
	orders := newStubOrders(pendingOrder(501))
	h := newTestReturn(orders, grateful.NewClient(srv.URL, "k", time.Second, time.Second))

	rec := browseBack(h, "/gateway/grateful/return?order_id=501")

	assert.Equal(t, "https://store.example/checkout", rec.Header().Get("Location"))
	assert.Equal(t, store.OrderStatusFailed, orders.status(501))
}

func TestReturnExpiredRoutesToCheckoutWithoutMutation(t *testing.T) {
	srv := statusServer(t, "expired")
	orders := newStubOrders(pendingOrder(501))
	h := newTestReturn(orders, grateful.NewClient(srv.URL, "k", time.Second, time.Second))

	rec := browseBack(h, "/gateway/grateful/return?order_id=501")

	assert.Equal(t, "https://store.example/checkout", rec.Header().Get("Location"))
	assert.Equal(t, store.OrderStatusPending, orders.status(501))
	assert.Equal(t, 0, orders.failed)
}

func TestReturnFetchFailureRoutesByHint(t *testing.T) {
	cases := []struct {
		name string
		hint string
		want string
	}{
		{"failed hint", "failed", "https://store.example/checkout"},
		{"expired hint", "expired", "https://store.example/checkout"},
		{"success hint", "success", "https://store.example/receipt/501"},
		{"no hint", "", "https://store.example/receipt/501"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Closed server: every status fetch fails at the transport layer.
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			srv.Close()

			orders := newStubOrders(pendingOrder(501))
			h := newTestReturn(orders, grateful.NewClient(srv.URL, "k", time.Second, time.Second))

			target := "/gateway/grateful/return?order_id=501"
			if tc.hint != "" {
				target += "&status=" + tc.hint
			}
			rec := browseBack(h, target)

			assert.Equal(t, tc.want, rec.Header().Get("Location"))
			assert.Equal(t, store.OrderStatusPending, orders.status(501))
			assert.Empty(t, orders.notes)
		})
	}
}
