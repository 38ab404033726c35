package commerce

import (
	"context"
	"fmt"
	"time"
)

// SeedOrders returns the demo orders.
func SeedOrders(now time.Time) []Order {
	return []Order{
		{ID: "ORD123", Status: "Shipped", Tracking: "TRK999888", CreatedAt: now},
		{ID: "ORD124", Status: "Processing", Tracking: "TRK999889", CreatedAt: now},
		{ID: "ORD125", Status: "Delivered", Tracking: "TRK999890", CreatedAt: now},
	}
}

// SeedInvoices returns the demo invoices.
func SeedInvoices(now time.Time) []Invoice {
	return []Invoice{
		{ID: "INV123", Amount: 499.99, Status: "Paid", CreatedAt: now},
		{ID: "INV124", Amount: 299.99, Status: "Pending", CreatedAt: now},
		{ID: "INV125", Amount: 599.99, Status: "Overdue", CreatedAt: now},
	}
}

// SeedRefunds returns one demo refund per seeded invoice.
func SeedRefunds(now time.Time) []Refund {
	processed := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	return []Refund{
		{ID: "REF123", InvoiceID: "INV123", Amount: 499.99, Status: RefundCompleted, Reason: "Product defect", ProcessedAt: &processed, CreatedAt: now},
		{ID: "REF124", InvoiceID: "INV124", Amount: 299.99, Status: RefundPending, Reason: "Customer request", CreatedAt: now},
		{ID: "REF125", InvoiceID: "INV125", Amount: 599.99, Status: RefundApproved, Reason: "Billing error", CreatedAt: now},
	}
}

// Seed writes the demo records into s, replacing any with the same IDs.
func Seed(ctx context.Context, s Store) error {
	now := time.Now().UTC()
	for _, o := range SeedOrders(now) {
		if err := s.PutOrder(ctx, o); err != nil {
			return fmt.Errorf("seed order %s: %w", o.ID, err)
		}
	}
	for _, inv := range SeedInvoices(now) {
		if err := s.PutInvoice(ctx, inv); err != nil {
			return fmt.Errorf("seed invoice %s: %w", inv.ID, err)
		}
	}
	for _, r := range SeedRefunds(now) {
		if err := s.PutRefund(ctx, r); err != nil {
			return fmt.Errorf("seed refund %s: %w", r.ID, err)
		}
	}
	return nil
}
