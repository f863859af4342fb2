package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gratefulhq/store-gateway/internal/common"
	"github.com/gratefulhq/store-gateway/internal/grateful"
	"github.com/gratefulhq/store-gateway/internal/obs"
	"github.com/gratefulhq/store-gateway/internal/reconcile"
	"github.com/gratefulhq/store-gateway/internal/store"
)

// Webhook is the push-path reconciliation entry point: the processor calls
// it server-to-server with payment status updates.
type Webhook struct {
	Secret     string
	Orders     store.OrderStore
	Reconciler *reconcile.Reconciler
	Replay     *redis.Client
	ReplayTTL  time.Duration
	Log        zerolog.Logger
}

type webhookPayload struct {
	ExternalReferenceID      string `json:"externalReferenceId"`
	ExternalReferenceIDSnake string `json:"external_reference_id"`
	Status                   string `json:"status"`
}

func (p webhookPayload) reference() string {
	if strings.TrimSpace(p.ExternalReferenceID) != "" {
		return strings.TrimSpace(p.ExternalReferenceID)
	}
	return strings.TrimSpace(p.ExternalReferenceIDSnake)
}

// Handle processes one webhook delivery. Business no-ops (duplicates, stale
// signals) still answer 200: the processor should only retry on genuine
// delivery failure.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.count("invalid_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.count("invalid_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON payload", nil)
		return
	}

	signature := r.Header.Get(grateful.SignatureHeader)
	if !grateful.VerifySignature(body, signature, h.Secret) {
		h.count("bad_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	reference := payload.reference()
	if reference == "" {
		h.count("missing_reference")
		common.JSONError(w, http.StatusBadRequest, "MISSING_REFERENCE", "externalReferenceId is required", nil)
		return
	}
	orderID, err := strconv.ParseInt(reference, 10, 64)
	if err != nil {
		h.count("missing_reference")
		common.JSONError(w, http.StatusBadRequest, "INVALID_REFERENCE", "externalReferenceId is not an order id", nil)
		return
	}

	ctx := r.Context()
	order, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.count("order_not_found")
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		h.count("error")
		common.JSONError(w, http.StatusInternalServerError, "ORDER_FETCH_ERROR", err.Error(), nil)
		return
	}

	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = "wh:grateful:" + common.Sha256Hex(body)
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			// The reconciler is idempotent, so a broken replay store
			// degrades to duplicate processing rather than an outage.
			h.Log.Warn().Err(err).Int64("order_id", orderID).Msg("webhook replay store unavailable")
			replayKey = ""
		} else if !fresh {
			h.count("duplicate")
			common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	outcome, err := h.Reconciler.Apply(ctx, order, order.PaymentID(), payload.Status, body)
	if err != nil {
		// Release the replay claim: the 500 below asks the processor to
		// retry this exact body, and the retry must not short-circuit as
		// a duplicate of a delivery that never took effect.
		if replayKey != "" {
			if delErr := h.Replay.Del(ctx, replayKey).Err(); delErr != nil {
				h.Log.Warn().Err(delErr).Int64("order_id", orderID).Msg("release webhook replay claim")
			}
		}
		h.count("error")
		common.JSONError(w, http.StatusInternalServerError, "RECONCILE_ERROR", err.Error(), nil)
		return
	}

	h.count("ok")
	common.JSON(w, http.StatusOK, map[string]any{
		"received": true,
		"status":   string(outcome.Status),
		"applied":  outcome.Applied,
	})
}

func (h Webhook) count(outcome string) {
	if obs.WebhookInboundTotal != nil {
		obs.WebhookInboundTotal.WithLabelValues(outcome).Inc()
	}
}
