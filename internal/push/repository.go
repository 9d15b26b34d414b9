// Package push implements the push-notification delivery queue: draining due
// work items, dispatching them through the push gateway and pruning dead
// endpoints.
package push

import (
	"context"
	"time"
)

// QueueRepository defines data access for notification work items.
// Items are written by the enqueue procedures, not through this interface.
type QueueRepository interface {
	// FetchDue returns up to limit eligible items ordered by next attempt time.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*WorkItem, error)

	// Claim increments the attempt counter and moves the next attempt to leaseUntil,
	// but only if the item still has the status and attempt count that were read.
	// Returns false when another drain pass got there first.
	Claim(ctx context.Context, item *WorkItem, now, leaseUntil time.Time) (bool, error)

	MarkAsSent(ctx context.Context, id string, sentAt time.Time, lastError string) error
	MarkForRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error
	MarkAsFailed(ctx context.Context, id string, lastError string) error

	GetQueueStats(ctx context.Context) (*QueueStats, error)
	DeleteOldSentItems(ctx context.Context, olderThan time.Duration) (int64, error)
}

// EndpointRepository defines data access for registered push endpoints.
type EndpointRepository interface {
	ListByRecipient(ctx context.Context, recipientID string) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, endpointURL string) error
}

// Enqueuer materializes work items for one notification kind.
// Implementations must be idempotent.
type Enqueuer interface {
	Name() string
	Enqueue(ctx context.Context) error
}
