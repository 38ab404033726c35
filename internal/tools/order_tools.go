package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kaustubhduse/support-agent/internal/commerce"
)

// OrderStore is the lookup the order tools need. A missing order is
// (nil, nil).
type OrderStore interface {
	Order(ctx context.Context, id string) (*commerce.Order, error)
}

// FetchOrder returns the fetchOrder tool backed by store.
func FetchOrder(store OrderStore) *Tool {
	return &Tool{
		Name:        "fetchOrder",
		Description: "Fetch order details by order ID",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"orderId": {Type: "string", Description: "The order ID to look up"},
			},
			Required: []string{"orderId"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := stringArg(args, "orderId")
			if err != nil {
				return nil, err
			}
			order, err := store.Order(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("fetch order: %w", err)
			}
			if order == nil {
				return nil, errors.New("Order not found")
			}
			return order, nil
		},
	}
}

// OrderTools builds the order agent's registry.
func OrderTools(store OrderStore) *Registry {
	return NewRegistry().MustRegister(FetchOrder(store))
}
