package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kaustubhduse/support-agent/internal/commerce"
)

const noRefundMessage = "No refund found for this invoice"

// BillingStore is the lookup and update surface the billing tools need.
// Missing records are (nil, nil) and an update that matches nothing is
// (0, nil).
type BillingStore interface {
	Invoice(ctx context.Context, id string) (*commerce.Invoice, error)
	LatestRefund(ctx context.Context, invoiceID string) (*commerce.Refund, error)
	UpdateRefundStatus(ctx context.Context, invoiceID string, status commerce.RefundStatus, processedAt time.Time) (int64, error)
}

func invoiceIDSchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"invoiceId": {Type: "string", Description: desc},
		},
		Required: []string{"invoiceId"},
	}
}

// FetchInvoice returns the fetchInvoice tool backed by store.
func FetchInvoice(store BillingStore) *Tool {
	return &Tool{
		Name:        "fetchInvoice",
		Description: "Fetch invoice details by invoice ID",
		Parameters:  invoiceIDSchema("The invoice ID to look up"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := stringArg(args, "invoiceId")
			if err != nil {
				return nil, err
			}
			inv, err := store.Invoice(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("fetch invoice: %w", err)
			}
			if inv == nil {
				return nil, errors.New("Invoice not found")
			}
			return inv, nil
		},
	}
}

// CheckRefundStatus returns the checkRefundStatus tool backed by store.
func CheckRefundStatus(store BillingStore) *Tool {
	return &Tool{
		Name:        "checkRefundStatus",
		Description: "Check refund status for an invoice by invoice ID",
		Parameters:  invoiceIDSchema("The invoice ID to check refund status for"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := stringArg(args, "invoiceId")
			if err != nil {
				return nil, err
			}
			refund, err := store.LatestRefund(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("check refund: %w", err)
			}
			if refund == nil {
				return map[string]string{"message": noRefundMessage}, nil
			}
			return refund, nil
		},
	}
}

// refundUpdate is the success payload of updateRefundStatus.
type refundUpdate struct {
	Success     bool                  `json:"success"`
	Updated     int64                 `json:"updated,omitempty"`
	InvoiceID   string                `json:"invoiceId,omitempty"`
	Status      commerce.RefundStatus `json:"status,omitempty"`
	ProcessedAt *time.Time            `json:"processedAt,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// UpdateRefundStatus returns the updateRefundStatus tool backed by store.
// now stamps processedAt when the new status is Completed; nil means
// time.Now.
func UpdateRefundStatus(store BillingStore, now func() time.Time) *Tool {
	if now == nil {
		now = time.Now
	}
	statuses := make([]any, 0, len(commerce.RefundStatuses()))
	for _, s := range commerce.RefundStatuses() {
		statuses = append(statuses, string(s))
	}

	return &Tool{
		Name:        "updateRefundStatus",
		Description: "Update the status of every refund for an invoice",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"invoiceId": {Type: "string", Description: "The invoice ID whose refunds should be updated"},
				"status":    {Type: "string", Description: "The new refund status", Enum: statuses},
			},
			Required: []string{"invoiceId", "status"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := stringArg(args, "invoiceId")
			if err != nil {
				return nil, err
			}
			raw, err := stringArg(args, "status")
			if err != nil {
				return nil, err
			}
			status, err := commerce.ParseRefundStatus(raw)
			if err != nil {
				return nil, err
			}

			ts := now().UTC()
			n, err := store.UpdateRefundStatus(ctx, id, status, ts)
			if err != nil {
				return nil, fmt.Errorf("update refund status: %w", err)
			}
			if n == 0 {
				return refundUpdate{Success: false, Message: noRefundMessage}, nil
			}

			out := refundUpdate{Success: true, Updated: n, InvoiceID: id, Status: status}
			if status == commerce.RefundCompleted {
				out.ProcessedAt = &ts
			}
			return out, nil
		},
	}
}

// BillingTools builds the billing agent's registry.
func BillingTools(store BillingStore) *Registry {
	return NewRegistry().MustRegister(
		FetchInvoice(store),
		CheckRefundStatus(store),
		UpdateRefundStatus(store, nil),
	)
}
