// Package postgres provides PostgreSQL implementation of the push repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/gigpush/internal/push"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements push.QueueRepository and push.EndpointRepository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var (
	_ push.QueueRepository    = (*Repository)(nil)
	_ push.EndpointRepository = (*Repository)(nil)
)

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const workItemColumns = `id, recipient_id, notification_type, payload, status, attempt_count,
	last_attempt_at, next_attempt_at, sent_at, COALESCE(last_error, ''), created_at`

// Enqueue inserts a new pending work item. Production items come from the
// enqueue procedures; this is used to seed the queue directly.
func (r *Repository) Enqueue(ctx context.Context, item *push.WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = time.Now()
	}
	payload := []byte(item.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO notification_queue (id, recipient_id, notification_type, payload, status, attempt_count, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.RecipientID,
		item.NotificationType,
		payload,
		push.QueueStatusPending,
		item.NextAttemptAt,
	).Scan(&item.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue work item: %w", err)
	}

	item.Status = push.QueueStatusPending
	item.AttemptCount = 0
	return nil
}

// FetchDue returns eligible items, earliest next attempt first.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*push.WorkItem, error) {
	query := `
		SELECT ` + workItemColumns + `
		FROM notification_queue
		WHERE status IN ('pending', 'retry') AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due items: %w", err)
	}
	defer rows.Close()

	items := make([]*push.WorkItem, 0, limit)
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due items: %w", err)
	}

	return items, nil
}

// GetWorkItem retrieves a work item by ID. Not used by the drain path.
func (r *Repository) GetWorkItem(ctx context.Context, id string) (*push.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM notification_queue WHERE id = $1`

	item, err := scanWorkItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, push.ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// Claim conditionally bumps the attempt counter of an item read by FetchDue.
func (r *Repository) Claim(ctx context.Context, item *push.WorkItem, now, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE notification_queue
		SET attempt_count = attempt_count + 1, last_attempt_at = $4, next_attempt_at = $5
		WHERE id = $1 AND status = $2 AND attempt_count = $3
	`
	result, err := r.db.Exec(ctx, query, item.ID, item.Status, item.AttemptCount, now, leaseUntil)
	if err != nil {
		return false, fmt.Errorf("claim work item: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkAsSent moves the item to its terminal sent state.
func (r *Repository) MarkAsSent(ctx context.Context, id string, sentAt time.Time, lastError string) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $2, last_error = NULLIF($3, '')
		WHERE id = $1 AND status <> 'sent'
	`
	return r.update(ctx, "mark as sent", query, id, sentAt, lastError)
}

// MarkForRetry schedules the item for another attempt.
func (r *Repository) MarkForRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'retry', last_error = NULLIF($2, ''), next_attempt_at = $3
		WHERE id = $1 AND status <> 'sent'
	`
	return r.update(ctx, "mark for retry", query, id, lastError, nextAttemptAt)
}

// MarkAsFailed moves the item to its terminal failed state.
func (r *Repository) MarkAsFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', last_error = NULLIF($2, '')
		WHERE id = $1 AND status <> 'sent'
	`
	return r.update(ctx, "mark as failed", query, id, lastError)
}

func (r *Repository) update(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrItemNotFound
	}
	return nil
}

// GetQueueStats counts work items by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*push.QueueStats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &push.QueueStats{}
	for rows.Next() {
		var status push.QueueStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case push.QueueStatusPending:
			stats.Pending = count
		case push.QueueStatusRetry:
			stats.Retry = count
		case push.QueueStatusSent:
			stats.Sent = count
		case push.QueueStatusFailed:
			stats.Failed = count
		}
	}

	return stats, rows.Err()
}

// DeleteOldSentItems removes sent items older than the given age and returns the count.
func (r *Repository) DeleteOldSentItems(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := r.db.Exec(ctx, `DELETE FROM notification_queue WHERE status = 'sent' AND sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old sent items: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListByRecipient returns all endpoints registered by a recipient.
func (r *Repository) ListByRecipient(ctx context.Context, recipientID string) ([]push.Endpoint, error) {
	query := `
		SELECT endpoint, recipient_id, auth, p256dh
		FROM push_subscriptions
		WHERE recipient_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := make([]push.Endpoint, 0)
	for rows.Next() {
		var ep push.Endpoint
		if err := rows.Scan(&ep.URL, &ep.RecipientID, &ep.AuthSecret, &ep.EncryptionKey); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}

	return endpoints, rows.Err()
}

// SaveEndpoint registers an endpoint or refreshes its credentials.
// Registration belongs to the subscribing client; the drain path only reads and deletes.
func (r *Repository) SaveEndpoint(ctx context.Context, ep push.Endpoint) error {
	query := `
		INSERT INTO push_subscriptions (endpoint, recipient_id, auth, p256dh)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE
		SET recipient_id = EXCLUDED.recipient_id, auth = EXCLUDED.auth, p256dh = EXCLUDED.p256dh
	`
	if _, err := r.db.Exec(ctx, query, ep.URL, ep.RecipientID, ep.AuthSecret, ep.EncryptionKey); err != nil {
		return fmt.Errorf("save endpoint: %w", err)
	}
	return nil
}

// DeleteEndpoint deletes an endpoint by its URL.
func (r *Repository) DeleteEndpoint(ctx context.Context, endpointURL string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpointURL)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return push.ErrEndpointNotFound
	}
	return nil
}

func scanWorkItem(row pgx.Row) (*push.WorkItem, error) {
	var item push.WorkItem
	var payload []byte
	err := row.Scan(
		&item.ID,
		&item.RecipientID,
		&item.NotificationType,
		&payload,
		&item.Status,
		&item.AttemptCount,
		&item.LastAttemptAt,
		&item.NextAttemptAt,
		&item.SentAt,
		&item.LastError,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan work item: %w", err)
	}
	item.Payload = payload
	return &item, nil
}
