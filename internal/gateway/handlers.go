package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gratefulhq/store-gateway/internal/common"
	"github.com/gratefulhq/store-gateway/internal/store"
)

// Handlers exposes the storefront-facing HTTP surface of the gateway.
type Handlers struct {
	Service *Service
	Links   Links
	Log     zerolog.Logger
}

// Pay starts a payment for an order and returns the redirect target for the
// browser. Remote failures still answer 200 with a failure result pointing
// back at checkout, so the storefront can retry without surfacing a raw
// error page.
func (h Handlers) Pay(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be numeric", nil)
		return
	}

	redirect, err := h.Service.ProcessPayment(r.Context(), orderID)
	switch {
	case err == nil:
		common.JSON(w, http.StatusOK, map[string]any{
			"result":   "success",
			"redirect": redirect,
		})
	case errors.Is(err, store.ErrOrderNotFound):
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrGatewayDisabled):
		common.JSONError(w, http.StatusConflict, "GATEWAY_DISABLED", "grateful payment is disabled", nil)
	case errors.Is(err, ErrOrderAlreadySettled):
		common.JSONError(w, http.StatusConflict, "ORDER_SETTLED", "order is already paid", nil)
	default:
		// Session creation failed; the order was already annotated and
		// marked failed by the service. Send the shopper back to checkout.
		h.Log.Error().Err(err).Int64("order_id", orderID).Msg("payment session creation failed")
		common.JSON(w, http.StatusOK, map[string]any{
			"result":   "failure",
			"redirect": h.Links.CheckoutURL(),
		})
	}
}

// PaymentStatus reports the consolidated payment view of an order.
func (h Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be numeric", nil)
		return
	}

	status, paymentID, err := h.Service.ConsolidatedStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "STATUS_ERROR", err.Error(), nil)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"paymentId": paymentID,
	})
}

// Routes mounts the gateway surface on a chi router.
func Routes(r chi.Router, h Handlers, wh Webhook, ret Return) {
	r.Post("/api/orders/{orderID}/pay", h.Pay)
	r.Get("/api/orders/{orderID}/payment", h.PaymentStatus)
	r.Post("/gateway/grateful/webhook", wh.Handle)
	r.Get("/gateway/grateful/return", ret.Handle)
}
