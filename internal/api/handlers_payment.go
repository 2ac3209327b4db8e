package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ibero-data/licensor/internal/payment"
)

// GetAmount returns the price shown to buyers
func (h *Handlers) GetAmount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"amount": h.cfg.DisplayAmount})
}

func (h *Handlers) paymentContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.cfg.PayPal.Timeout.Duration)
}

// paymentFailure writes the response for an error from the payment
// processor: 504 when it did not answer in time, 500 otherwise.
func (h *Handlers) paymentFailure(w http.ResponseWriter, r *http.Request, operation string, err error) {
	switch {
	case errors.Is(err, payment.ErrUpstreamTimeout):
		h.metrics.PaymentRequest(operation, "timeout")
		h.logger.Warn().Err(err).Str("operation", operation).Msg("payment processor timed out")
		writeError(w, r, http.StatusGatewayTimeout, "Payment processor timed out")
	case errors.Is(err, payment.ErrOrderNotFound):
		h.metrics.PaymentRequest(operation, "rejected")
		writeError(w, r, http.StatusNotFound, "Order not found")
	default:
		h.metrics.PaymentRequest(operation, "error")
		h.logger.Error().Err(err).Str("operation", operation).Msg("payment processor request failed")
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

// CreateOrder opens an order for the purchase amount
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.paymentContext(r)
	defer cancel()

	order, err := h.payments.CreateOrder(ctx, h.cfg.PurchaseAmount, h.cfg.Currency)
	if err != nil {
		h.paymentFailure(w, r, "create", err)
		return
	}

	h.metrics.PaymentRequest("create", "success")
	writeJSON(w, r, http.StatusOK, map[string]string{"orderID": order.ID})
}

type captureOrderRequest struct {
	OrderID string `json:"orderID"`
}

// CaptureOrder captures an approved order. The order status is checked
// first: completed orders and orders not yet approved are rejected without
// a capture call.
func (h *Handlers) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	var input captureOrderRequest
	if err := decodeAndValidate(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if input.OrderID == "" {
		writeError(w, r, http.StatusBadRequest, "Order ID is required")
		return
	}

	ctx, cancel := h.paymentContext(r)
	defer cancel()

	status, err := h.payments.GetOrderStatus(ctx, input.OrderID)
	if err != nil {
		h.paymentFailure(w, r, "capture", err)
		return
	}

	switch status {
	case payment.StatusCompleted:
		h.metrics.PaymentRequest("capture", "rejected")
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "Order has already been captured.",
		})
		return
	case payment.StatusApproved:
	default:
		h.metrics.PaymentRequest("capture", "rejected")
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": fmt.Sprintf("Order cannot be captured in its current status: %s.", status),
		})
		return
	}

	captureID, err := h.payments.CaptureOrder(ctx, input.OrderID)
	if err != nil {
		h.paymentFailure(w, r, "capture", err)
		return
	}

	h.metrics.PaymentRequest("capture", "success")
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":    "success",
		"captureID": captureID,
	})
}
