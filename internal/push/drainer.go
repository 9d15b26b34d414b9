package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// noActiveEndpoints is persisted when a recipient has nothing to deliver to.
const noActiveEndpoints = "no active endpoints"

// Item verdict labels.
const (
	itemSent         = "sent"
	itemRetry        = "retry"
	itemFailed       = "failed"
	itemNoEndpoints  = "no_endpoints"
	itemSkipped      = "skipped"
	itemPersistError = "persist_error"
)

// DrainerConfig contains drain loop configuration.
type DrainerConfig struct {
	BatchSize int
	Retry     RetryPolicy
	// SentRetention purges sent items older than this after every pass. Zero keeps them.
	SentRetention time.Duration
}

// DefaultDrainerConfig returns default drain loop configuration.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		BatchSize: DefaultBatchSize,
		Retry:     DefaultRetryPolicy(),
	}
}

// Summary contains the counts of one drain pass.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Drainer runs drain passes over the work queue.
type Drainer struct {
	config     DrainerConfig
	queue      QueueRepository
	endpoints  EndpointRepository
	dispatcher *Dispatcher
	enqueuers  []Enqueuer
	now        func() time.Time

	// running holds a token while a pass is in progress.
	running chan struct{}
}

// NewDrainer creates a new drainer. Enqueuers run at the start of every pass.
func NewDrainer(config DrainerConfig, queue QueueRepository, endpoints EndpointRepository, dispatcher *Dispatcher, enqueuers ...Enqueuer) *Drainer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Drainer{
		config:     config,
		queue:      queue,
		endpoints:  endpoints,
		dispatcher: dispatcher,
		enqueuers:  enqueuers,
		now:        time.Now,
		running:    make(chan struct{}, 1),
	}
}

// Drain processes one batch of due work items. Passes started from the same
// process run one at a time. Only a failure to enumerate the batch is returned
// as an error; item-level failures are recorded on the items. A caller whose
// context ends while waiting for a running pass gets ErrDrainFailed without
// touching the queue.
func (d *Drainer) Drain(ctx context.Context) (Summary, error) {
	select {
	case d.running <- struct{}{}:
	case <-ctx.Done():
		return Summary{}, fmt.Errorf("%w: wait for running pass: %w", ErrDrainFailed, ctx.Err())
	}
	defer func() { <-d.running }()

	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrDrainFailed, err)
	}

	start := time.Now()
	d.runEnqueuers(ctx)

	items, err := d.queue.FetchDue(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		recordDrainPass("error", time.Since(start))
		return Summary{}, fmt.Errorf("%w: fetch due items: %w", ErrDrainFailed, err)
	}

	var summary Summary
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			recordDrainPass("error", time.Since(start))
			return summary, fmt.Errorf("%w: %w", ErrDrainFailed, err)
		}

		summary.Processed++
		verdict := d.processItem(ctx, item)
		recordItem(verdict)

		switch verdict {
		case itemSent:
			summary.Sent++
		case itemRetry, itemFailed, itemPersistError:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	d.purgeSent(ctx)
	recordDrainPass("ok", time.Since(start))

	if summary.Processed > 0 {
		slog.Info("drain pass finished",
			"processed", summary.Processed,
			"sent", summary.Sent,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"duration", time.Since(start),
		)
	}

	return summary, nil
}

func (d *Drainer) runEnqueuers(ctx context.Context) {
	for _, e := range d.enqueuers {
		if err := e.Enqueue(ctx); err != nil {
			slog.Warn("enqueue procedure failed", "enqueuer", e.Name(), "error", err)
		}
	}
}

func (d *Drainer) processItem(ctx context.Context, item *WorkItem) string {
	now := d.now()

	claimed, err := d.queue.Claim(ctx, item, now, d.config.Retry.NextAttempt(now))
	if err != nil {
		slog.Error("failed to claim work item", "item_id", item.ID, "error", err)
		return itemSkipped
	}
	if !claimed {
		slog.Debug("work item claimed by another drain pass", "item_id", item.ID)
		return itemSkipped
	}
	attempts := item.AttemptCount + 1

	endpoints, err := d.endpoints.ListByRecipient(ctx, item.RecipientID)
	if err != nil {
		slog.Warn("failed to resolve push endpoints",
			"item_id", item.ID,
			"recipient_id", item.RecipientID,
			"error", err,
		)
	}
	if err != nil || len(endpoints) == 0 {
		if markErr := d.queue.MarkAsSent(ctx, item.ID, now, noActiveEndpoints); markErr != nil {
			slog.Error("failed to mark as sent", "item_id", item.ID, "error", markErr)
			return itemPersistError
		}
		return itemNoEndpoints
	}

	verdict := Reduce(d.dispatcher.Dispatch(ctx, item, endpoints))

	if verdict.Delivered {
		if markErr := d.queue.MarkAsSent(ctx, item.ID, now, verdict.LastError); markErr != nil {
			slog.Error("failed to mark as sent", "item_id", item.ID, "error", markErr)
			return itemPersistError
		}
		slog.Debug("work item sent",
			"item_id", item.ID,
			"endpoints", len(endpoints),
			"succeeded", verdict.Succeeded,
			"pruned", verdict.Pruned,
		)
		return itemSent
	}

	if d.config.Retry.Exhausted(attempts) {
		lastError := fmt.Sprintf("max attempts exceeded: %s", verdict.LastError)
		if markErr := d.queue.MarkAsFailed(ctx, item.ID, lastError); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
			return itemPersistError
		}
		slog.Warn("work item failed permanently", "item_id", item.ID, "attempts", attempts)
		return itemFailed
	}

	nextAttempt := d.config.Retry.NextAttempt(now)
	if markErr := d.queue.MarkForRetry(ctx, item.ID, verdict.LastError, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
		return itemPersistError
	}

	slog.Info("work item scheduled for retry",
		"item_id", item.ID,
		"attempts", attempts,
		"next_attempt", nextAttempt,
	)
	return itemRetry
}

func (d *Drainer) purgeSent(ctx context.Context) {
	if d.config.SentRetention <= 0 {
		return
	}

	deleted, err := d.queue.DeleteOldSentItems(ctx, d.config.SentRetention)
	if err != nil {
		slog.Warn("failed to purge sent items", "error", err)
		return
	}
	if deleted > 0 {
		recordPurged(deleted)
		slog.Info("purged sent items", "count", deleted, "retention", d.config.SentRetention)
	}
}
