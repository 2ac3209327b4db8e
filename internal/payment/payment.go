// Package payment talks to the payment processor that authorizes purchases
// before a license is released.
package payment

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotConfigured   = errors.New("payment processor credentials not configured")
	ErrUpstream        = errors.New("payment processor request failed")
	ErrUpstreamTimeout = errors.New("payment processor timed out")
	ErrOrderNotFound   = errors.New("order not found")
)

// OrderStatus is the processor-side state of an order.
type OrderStatus string

const (
	StatusCreated             OrderStatus = "CREATED"
	StatusSaved               OrderStatus = "SAVED"
	StatusApproved            OrderStatus = "APPROVED"
	StatusVoided              OrderStatus = "VOIDED"
	StatusCompleted           OrderStatus = "COMPLETED"
	StatusPayerActionRequired OrderStatus = "PAYER_ACTION_REQUIRED"
)

// Order is the subset of an order the service cares about.
type Order struct {
	ID     string      `json:"id"`
	Status OrderStatus `json:"status"`
}

// Authority creates, inspects and captures orders. Capture is not
// idempotent on the processor side, so callers check the status first.
type Authority interface {
	CreateOrder(ctx context.Context, amount, currency string) (*Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	CaptureOrder(ctx context.Context, orderID string) (string, error)
}
