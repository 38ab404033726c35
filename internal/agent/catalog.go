package agent

import "github.com/kaustubhduse/support-agent/internal/tools"

// Descriptor describes an agent for the catalogue endpoint.
type Descriptor struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Capabilities lists the tools an agent can call.
type Capabilities struct {
	Tools       []string `json:"tools"`
	Description string   `json:"description"`
}

// Catalog returns the router and the specialized agents it dispatches to.
func Catalog() []Descriptor {
	return []Descriptor{
		{
			Type:        "router",
			Name:        "Router Agent",
			Description: "Analyzes incoming queries and routes to specialized agents",
		},
		{
			Type:         "support",
			Name:         "Support Agent",
			Description:  "Handles general support inquiries, FAQs, and troubleshooting",
			Capabilities: []string{"FAQ", "Troubleshooting", "Product Information"},
		},
		{
			Type:         "order",
			Name:         "Order Agent",
			Description:  "Handles order status, tracking, modifications, and cancellations",
			Capabilities: []string{"Order Status", "Tracking", "Order Modifications"},
		},
		{
			Type:         "billing",
			Name:         "Billing Agent",
			Description:  "Handles payment issues, refunds, invoices, and subscriptions",
			Capabilities: []string{"Invoice Lookup", "Payment Status", "Refund Requests"},
		},
	}
}

// CapabilitiesFor reports the tools of a specialized agent. The router has
// none and is not listed.
func CapabilitiesFor(agentType string) (Capabilities, bool) {
	switch agentType {
	case "support":
		return Capabilities{
			Tools:       []string{},
			Description: "Provides context-aware support using conversation history",
		}, true
	case "order":
		return Capabilities{
			Tools:       tools.OrderTools(nil).Names(),
			Description: "Retrieves order information and tracking details",
		}, true
	case "billing":
		return Capabilities{
			Tools:       tools.BillingTools(nil).Names(),
			Description: "Retrieves invoice details and checks or updates refund status",
		}, true
	}
	return Capabilities{}, false
}
