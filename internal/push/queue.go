package push

import (
	"encoding/json"
	"time"
)

// QueueStatus represents the status of a work item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusRetry   QueueStatus = "retry"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

// WorkItem is one notification owed to one recipient.
type WorkItem struct {
	ID               string
	RecipientID      string
	NotificationType string
	Payload          json.RawMessage
	Status           QueueStatus
	AttemptCount     int
	LastAttemptAt    *time.Time
	NextAttemptAt    time.Time
	SentAt           *time.Time
	LastError        string
	CreatedAt        time.Time
}

// Eligible reports whether the item may be picked up by a drain pass at now.
func (i *WorkItem) Eligible(now time.Time) bool {
	if i.Status != QueueStatusPending && i.Status != QueueStatusRetry {
		return false
	}
	return !i.NextAttemptAt.After(now)
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Pending int64
	Retry   int64
	Sent    int64
	Failed  int64
}
