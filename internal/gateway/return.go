package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gratefulhq/store-gateway/internal/grateful"
	"github.com/gratefulhq/store-gateway/internal/reconcile"
	"github.com/gratefulhq/store-gateway/internal/store"
)

// Return is the pull-path reconciliation entry point: the shopper lands here
// after the hosted payment page redirects back to the store.
//
// The handler always ends in a redirect. Order state only changes from a
// live status fetched from the processor; the status query hint influences
// routing alone, since anyone can type it into a URL.
type Return struct {
	Client     *grateful.Client
	Orders     store.OrderStore
	Reconciler *reconcile.Reconciler
	Links      Links
	Log        zerolog.Logger
}

func (h Return) Handle(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
	if err != nil {
		h.redirect(w, r, h.Links.CheckoutURL())
		return
	}

	ctx := r.Context()
	order, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		h.Log.Warn().Err(err).Int64("order_id", orderID).Msg("return for unknown order")
		h.redirect(w, r, h.Links.CheckoutURL())
		return
	}

	paymentID := order.PaymentID()
	if paymentID == "" {
		h.Log.Warn().Int64("order_id", orderID).Msg("return for order without payment session")
		h.redirect(w, r, h.Links.CheckoutURL())
		return
	}

	hint := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))

	result, err := h.Client.PaymentStatus(ctx, paymentID)
	if err != nil {
		// Can't reach the processor, so route on the hint alone and leave
		// the order untouched. The webhook settles the truth later.
		h.Log.Warn().Err(err).Int64("order_id", orderID).Str("payment_id", paymentID).
			Msg("status fetch failed on return, routing by hint")
		h.redirect(w, r, h.routeByHint(orderID, hint))
		return
	}

	outcome, err := h.Reconciler.Apply(ctx, order, paymentID, result.Status, nil)
	if err != nil {
		h.Log.Error().Err(err).Int64("order_id", orderID).Msg("reconcile on return failed")
		// The shopper did pay as far as we know, so fail open to the receipt.
		h.redirect(w, r, h.Links.ReceiptURL(orderID))
		return
	}

	raw := strings.ToLower(strings.TrimSpace(result.Status))
	if outcome.Status == reconcile.StatusFailed || raw == "expired" {
		h.redirect(w, r, h.Links.CheckoutURL())
		return
	}
	h.redirect(w, r, h.Links.ReceiptURL(orderID))
}

// routeByHint picks a destination from the untrusted query hint only.
func (h Return) routeByHint(orderID int64, hint string) string {
	switch hint {
	case "failed", "expired":
		return h.Links.CheckoutURL()
	default:
		return h.Links.ReceiptURL(orderID)
	}
}

func (h Return) redirect(w http.ResponseWriter, r *http.Request, url string) {
	http.Redirect(w, r, url, http.StatusFound)
}
