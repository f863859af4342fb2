package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefulhq/store-gateway/internal/grateful"
	"github.com/gratefulhq/store-gateway/internal/reconcile"
	"github.com/gratefulhq/store-gateway/internal/store"
)

const webhookSecret = "whsec_test"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestWebhook(t *testing.T, orders *stubOrders) Webhook {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return Webhook{
		Secret: webhookSecret,
		Orders: orders,
		Reconciler: &reconcile.Reconciler{
			Orders:   orders,
			Sessions: &stubSessions{},
			Log:      zerolog.Nop(),
		},
		Replay:    client,
		ReplayTTL: time.Minute,
		Log:       zerolog.Nop(),
	}
}

func deliver(h Webhook, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/gateway/grateful/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(grateful.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookMalformedBody(t *testing.T) {
	h := newTestWebhook(t, newStubOrders())
	rec := deliver(h, []byte("{not json"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	h := newTestWebhook(t, newStubOrders())
	body := []byte(`{"externalReferenceId":"1","status":"completed"}`)
	rec := deliver(h, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
}

func TestWebhookMissingReference(t *testing.T) {
	h := newTestWebhook(t, newStubOrders())
	body := []byte(`{"status":"completed"}`)
	rec := deliver(h, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_REFERENCE")
}

func TestWebhookUnknownOrder(t *testing.T) {
	h := newTestWebhook(t, newStubOrders())
	body := []byte(`{"externalReferenceId":"404","status":"completed"}`)
	rec := deliver(h, body, sign(body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookSettlesOrder(t *testing.T) {
	orders := newStubOrders(store.Order{
		ID:       501,
		Status:   store.OrderStatusPending,
		Metadata: map[string]string{store.MetaPaymentID: "pay_abc"},
	})
	h := newTestWebhook(t, orders)

	body := []byte(`{"externalReferenceId":"501","status":"completed"}`)
	rec := deliver(h, body, sign(body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.OrderStatusCompleted, orders.status(501))
	assert.Equal(t, 1, orders.paid)
}

func TestWebhookSnakeCaseReference(t *testing.T) {
	orders := newStubOrders(store.Order{ID: 42, Status: store.OrderStatusPending})
	h := newTestWebhook(t, orders)

	body := []byte(`{"external_reference_id":"42","status":"failed"}`)
	rec := deliver(h, body, sign(body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.OrderStatusFailed, orders.status(42))
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	orders := newStubOrders(store.Order{
		ID:       501,
		Status:   store.OrderStatusPending,
		Metadata: map[string]string{store.MetaPaymentID: "pay_abc"},
	})
	h := newTestWebhook(t, orders)

	body := []byte(`{"externalReferenceId":"501","status":"completed"}`)
	first := deliver(h, body, sign(body))
	second := deliver(h, body, sign(body))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate")
	assert.Equal(t, 1, orders.paid)
}

func TestWebhookRetryAfterStoreErrorSettles(t *testing.T) {
	orders := newStubOrders(store.Order{
		ID:       501,
		Status:   store.OrderStatusPending,
		Metadata: map[string]string{store.MetaPaymentID: "pay_abc"},
	})
	orders.paidErr = errors.New("db down")
	h := newTestWebhook(t, orders)

	body := []byte(`{"externalReferenceId":"501","status":"completed"}`)
	first := deliver(h, body, sign(body))
	require.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, store.OrderStatusPending, orders.status(501))

	// The 500 asks the processor to redeliver the identical body; the
	// retry must reconcile, not short-circuit as a duplicate.
	second := deliver(h, body, sign(body))
	require.Equal(t, http.StatusOK, second.Code)
	assert.NotContains(t, second.Body.String(), "duplicate")
	assert.Equal(t, store.OrderStatusCompleted, orders.status(501))
	assert.Equal(t, 1, orders.paid)
}

func TestWebhookStaleFailureAfterSettlement(t *testing.T) {
	orders := newStubOrders(store.Order{
		ID:       501,
		Status:   store.OrderStatusCompleted,
		Metadata: map[string]string{store.MetaPaymentID: "pay_abc"},
	})
	h := newTestWebhook(t, orders)

	body := []byte(`{"externalReferenceId":"501","status":"failed"}`)
	rec := deliver(h, body, sign(body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.OrderStatusCompleted, orders.status(501))
	assert.Equal(t, 0, orders.failed)
	require.NotEmpty(t, orders.notes)
	assert.Contains(t, orders.notes[len(orders.notes)-1], "not applied")
}
