// Package commerce holds the orders, invoices and refunds the order and
// billing agents look up through their tools.
package commerce

import (
	"context"
	"fmt"
	"time"
)

// Order is a customer order and its shipment tracking number.
type Order struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Tracking  string    `json:"tracking"`
	CreatedAt time.Time `json:"createdAt"`
}

// Invoice is a bill issued to a customer.
type Invoice struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Refund is a refund request against an invoice.
type Refund struct {
	ID          string       `json:"id"`
	InvoiceID   string       `json:"invoiceId"`
	Amount      float64      `json:"amount"`
	Status      RefundStatus `json:"status"`
	Reason      string       `json:"reason"`
	ProcessedAt *time.Time   `json:"processedAt"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// RefundStatus is the closed set of refund states.
type RefundStatus string

// Refund states.
const (
	RefundPending   RefundStatus = "Pending"
	RefundApproved  RefundStatus = "Approved"
	RefundCompleted RefundStatus = "Completed"
	RefundRejected  RefundStatus = "Rejected"
)

// RefundStatuses lists every valid RefundStatus in workflow order.
func RefundStatuses() []RefundStatus {
	return []RefundStatus{RefundPending, RefundApproved, RefundCompleted, RefundRejected}
}

// ParseRefundStatus accepts exactly one of the RefundStatuses names.
func ParseRefundStatus(s string) (RefundStatus, error) {
	for _, st := range RefundStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q (valid: Pending, Approved, Completed, Rejected)", s)
}

// Store is the record store behind the commerce tools. Lookups of missing
// records return (nil, nil); only backend failures are errors.
type Store interface {
	Order(ctx context.Context, id string) (*Order, error)
	Invoice(ctx context.Context, id string) (*Invoice, error)

	// LatestRefund returns the most recently created refund for an invoice.
	LatestRefund(ctx context.Context, invoiceID string) (*Refund, error)

	// UpdateRefundStatus sets status on every refund of the invoice and
	// reports how many were changed. ProcessedAt becomes processedAt for
	// RefundCompleted and is cleared otherwise.
	UpdateRefundStatus(ctx context.Context, invoiceID string, status RefundStatus, processedAt time.Time) (int64, error)

	PutOrder(ctx context.Context, o Order) error
	PutInvoice(ctx context.Context, inv Invoice) error
	PutRefund(ctx context.Context, r Refund) error

	Close() error
}
