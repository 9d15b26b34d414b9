package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Invalidator removes endpoints the gateway reported as permanently gone.
type Invalidator struct {
	repo EndpointRepository
}

// NewInvalidator creates a new endpoint invalidator.
func NewInvalidator(repo EndpointRepository) *Invalidator {
	return &Invalidator{repo: repo}
}

// Invalidate deletes the endpoint. An endpoint that is already gone is not an error.
func (i *Invalidator) Invalidate(ctx context.Context, endpoint Endpoint) error {
	err := i.repo.DeleteEndpoint(ctx, endpoint.URL)
	if err != nil && !errors.Is(err, ErrEndpointNotFound) {
		return fmt.Errorf("delete endpoint: %w", err)
	}

	recordEndpointPruned()
	slog.Info("pruned dead push endpoint",
		"recipient_id", endpoint.RecipientID,
		"endpoint", maskEndpoint(endpoint.URL),
	)
	return nil
}
