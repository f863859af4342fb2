package gateway

import (
	"strconv"
	"strings"
)

// Links builds the host-store destinations the gateway bounces shoppers to.
type Links struct {
	Checkout        string
	ReceiptTemplate string
}

// CheckoutURL is where failed or abandoned attempts land.
func (l Links) CheckoutURL() string { return l.Checkout }

// ReceiptURL is the order's thank-you destination. The template carries an
// {order_id} placeholder.
func (l Links) ReceiptURL(orderID int64) string {
	return strings.ReplaceAll(l.ReceiptTemplate, "{order_id}", strconv.FormatInt(orderID, 10))
}
