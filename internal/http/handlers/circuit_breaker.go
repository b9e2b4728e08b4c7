package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// CircuitBreakerHandler exposes the circuit breakers of the registered
// transport clients.
type CircuitBreakerHandler struct {
	registry *httpclient.Registry
}

// NewCircuitBreakerHandler creates a new circuit breaker handler.
func NewCircuitBreakerHandler(registry *httpclient.Registry) *CircuitBreakerHandler {
	return &CircuitBreakerHandler{registry: registry}
}

// Register registers the circuit breaker routes with the API.
func (h *CircuitBreakerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCircuitBreakers",
		Method:      "GET",
		Path:        "/api/v1/circuit-breakers",
		Summary:     "List circuit breakers",
		Description: "Returns the state of every transport circuit breaker",
		Tags:        []string{"Circuit Breakers"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "resetCircuitBreaker",
		Method:      "POST",
		Path:        "/api/v1/circuit-breakers/{name}/reset",
		Summary:     "Reset a circuit breaker",
		Description: "Closes a circuit breaker so requests flow again",
		Tags:        []string{"Circuit Breakers"},
	}, h.Reset)
}

// ListCircuitBreakersInput is the input for listing circuit breakers.
type ListCircuitBreakersInput struct{}

// CircuitBreakersOutput lists circuit breakers.
type CircuitBreakersOutput struct {
	Body struct {
		CircuitBreakers []httpclient.CircuitBreakerStatus `json:"circuit_breakers"`
	}
}

// ResetCircuitBreakerInput is the input for resetting a circuit breaker.
type ResetCircuitBreakerInput struct {
	Name string `path:"name" doc:"Client name, e.g. segments"`
}

// List returns the circuit breaker states.
func (h *CircuitBreakerHandler) List(ctx context.Context, input *ListCircuitBreakersInput) (*CircuitBreakersOutput, error) {
	out := &CircuitBreakersOutput{}
	out.Body.CircuitBreakers = h.registry.CircuitBreakerStatuses()
	return out, nil
}

// Reset closes one circuit breaker and returns the new states.
func (h *CircuitBreakerHandler) Reset(ctx context.Context, input *ResetCircuitBreakerInput) (*CircuitBreakersOutput, error) {
	client := h.registry.Get(input.Name)
	if client == nil {
		return nil, huma.Error404NotFound("unknown client " + input.Name)
	}
	client.ResetCircuit()
	return h.List(ctx, &ListCircuitBreakersInput{})
}
