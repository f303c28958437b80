// Package tools defines the tools the concierge can call on behalf of
// a conversation. Each tool carries a JSON-schema parameter definition
// used both for LLM prompting and for pre-execution validation, plus a
// flag marking whether a human must approve the call before it runs.
package tools

import (
	"context"
	"net/http"
	"time"

	"github.com/voyagehq/concierge-agent/internal/httpkit"
	"github.com/voyagehq/concierge-agent/internal/mailer"
)

// Tool represents a callable tool.
type Tool struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Parameters       map[string]any `json:"parameters"`
	RequiresApproval bool           `json:"requiresApproval"`

	Handler func(ctx context.Context, args map[string]any) (any, error) `json:"-"`
}

// Deps carries the external services handlers may use. Zero values are
// fine: every handler degrades to deterministic demo output when its
// backing service is not configured.
type Deps struct {
	SMTP      mailer.SMTPConfig
	StripeKey string
	HTTP      *http.Client
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	order []string
	deps  Deps
}

// NewRegistry creates a registry with the built-in tool catalog.
func NewRegistry(deps Deps) *Registry {
	if deps.HTTP == nil {
		// Tool calls are short REST exchanges; retry the dial-phase
		// failures that surface when a provider is restarting.
		deps.HTTP = httpkit.NewClient(httpkit.WithRetry(2, 250*time.Millisecond))
	}
	r := &Registry{
		tools: make(map[string]*Tool),
		deps:  deps,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "search_events",
		Description: "Search for public events in a specific location and date range",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "The city or location to search for events",
				},
				"startDate": map[string]any{
					"type":        "string",
					"description": "Start date for event search (YYYY-MM-DD format)",
				},
				"endDate": map[string]any{
					"type":        "string",
					"description": "End date for event search (YYYY-MM-DD format)",
				},
				"eventType": map[string]any{
					"type":        "string",
					"description": "Type of event (conference, concert, sports, etc.)",
				},
			},
			"required": []string{"location", "startDate", "endDate"},
		},
		RequiresApproval: false,
		Handler:          r.handleSearchEvents,
	})

	r.Register(&Tool{
		Name:        "search_flights",
		Description: "Search for flights between two locations for specific dates",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"origin": map[string]any{
					"type":        "string",
					"description": "Origin airport code or city",
				},
				"destination": map[string]any{
					"type":        "string",
					"description": "Destination airport code or city",
				},
				"departureDate": map[string]any{
					"type":        "string",
					"description": "Departure date (YYYY-MM-DD format)",
				},
				"returnDate": map[string]any{
					"type":        "string",
					"description": "Return date (YYYY-MM-DD format), optional for one-way trips",
				},
				"passengers": map[string]any{
					"type":        "number",
					"description": "Number of passengers",
				},
			},
			"required": []string{"origin", "destination", "departureDate", "passengers"},
		},
		RequiresApproval: false,
		Handler:          r.handleSearchFlights,
	})

	r.Register(&Tool{
		Name:        "create_invoice",
		Description: "Create a test invoice using Stripe (for demonstration purposes)",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{
					"type":        "number",
					"description": "Invoice amount in cents",
				},
				"currency": map[string]any{
					"type":        "string",
					"description": "Currency code (e.g., USD, EUR)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Description of the invoice",
				},
				"customerEmail": map[string]any{
					"type":        "string",
					"description": "Customer email address",
				},
			},
			"required": []string{"amount", "currency", "description", "customerEmail"},
		},
		RequiresApproval: true,
		Handler:          r.handleCreateInvoice,
	})

	r.Register(&Tool{
		Name:        "send_email",
		Description: "Send an email notification or confirmation",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to": map[string]any{
					"type":        "string",
					"description": "Recipient email address",
				},
				"subject": map[string]any{
					"type":        "string",
					"description": "Email subject",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Email body content",
				},
				"template": map[string]any{
					"type":        "string",
					"description": "Email template name (optional)",
				},
			},
			"required": []string{"to", "subject", "body"},
		},
		RequiresApproval: true,
		Handler:          r.handleSendEmail,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	result := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// ForGoal returns the tools available while pursuing the named goal.
// Unknown goals get the full catalog.
func (r *Registry) ForGoal(goal string) []*Tool {
	var names []string
	switch goal {
	case "travel_planning":
		names = []string{"search_events", "search_flights", "create_invoice"}
	case "event_management":
		names = []string{"search_events", "send_email"}
	default:
		return r.List()
	}

	result := make([]*Tool, 0, len(names))
	for _, name := range names {
		if t := r.tools[name]; t != nil {
			result = append(result, t)
		}
	}
	return result
}

// Definitions renders tools for the LLM prompt.
func Definitions(ts []*Tool) []map[string]any {
	result := make([]map[string]any, 0, len(ts))
	for _, t := range ts {
		result = append(result, map[string]any{
			"name":             t.Name,
			"description":      t.Description,
			"parameters":       t.Parameters,
			"requiresApproval": t.RequiresApproval,
		})
	}
	return result
}
