package llm

import (
	"fmt"
	"strings"
)

// Router maps provider names to clients and resolves "provider/model"
// identifiers. Resolution happens once, when a conversation or service
// is configured; changing the routing table later does not affect
// already-resolved handles.
type Router struct {
	clients         map[string]Client
	defaultProvider string
	defaultModel    string
}

// NewRouter creates a router with the given defaults. The defaults are
// used when a model identifier carries no provider prefix, or is empty.
func NewRouter(defaultProvider, defaultModel string) *Router {
	return &Router{
		clients:         make(map[string]Client),
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
	}
}

// AddProvider registers a client for a provider name.
func (r *Router) AddProvider(name string, client Client) {
	r.clients[strings.ToLower(name)] = client
}

// Providers returns the registered provider names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// Resolve parses a model identifier and returns the client plus the
// bare model name. Supported forms:
//
//	"provider/model"  explicit provider
//	"model"           default provider
//	""                default provider and model
func (r *Router) Resolve(identifier string) (Client, string, error) {
	provider := r.defaultProvider
	model := identifier

	if before, after, found := strings.Cut(identifier, "/"); found {
		provider = before
		model = after
	}
	if model == "" {
		model = r.defaultModel
	}

	client, ok := r.clients[strings.ToLower(provider)]
	if !ok {
		return nil, "", fmt.Errorf("unsupported LLM provider: %s", provider)
	}
	return client, model, nil
}
