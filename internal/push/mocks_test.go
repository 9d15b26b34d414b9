package push

import (
	"context"
	"sort"
	"sync"
	"time"
)

var (
	_ QueueRepository    = (*memQueue)(nil)
	_ EndpointRepository = (*memEndpoints)(nil)
	_ Gateway            = (*stubGateway)(nil)
	_ Enqueuer           = (*stubEnqueuer)(nil)
	_ DrainRunner        = (*stubRunner)(nil)
)

// memQueue is an in-memory QueueRepository. It has no way to enqueue; tests
// seed it through newMemQueue.
type memQueue struct {
	mu    sync.Mutex
	items map[string]*WorkItem

	fetchErr   error
	claimErr   error
	markErr    error
	stolen     map[string]bool
	purgeCalls []time.Duration
	purged     int64
}

func newMemQueue(items ...*WorkItem) *memQueue {
	q := &memQueue{
		items:  make(map[string]*WorkItem),
		stolen: make(map[string]bool),
	}
	for _, item := range items {
		q.items[item.ID] = item
	}
	return q
}

func (q *memQueue) get(id string) WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[id]
}

func (q *memQueue) FetchDue(_ context.Context, now time.Time, limit int) ([]*WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.fetchErr != nil {
		return nil, q.fetchErr
	}

	var due []*WorkItem
	for _, item := range q.items {
		if item.Eligible(now) {
			snapshot := *item
			due = append(due, &snapshot)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *memQueue) Claim(_ context.Context, item *WorkItem, now, leaseUntil time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.claimErr != nil {
		return false, q.claimErr
	}
	if q.stolen[item.ID] {
		return false, nil
	}

	stored, ok := q.items[item.ID]
	if !ok || stored.Status != item.Status || stored.AttemptCount != item.AttemptCount {
		return false, nil
	}

	stored.AttemptCount++
	stored.LastAttemptAt = &now
	stored.NextAttemptAt = leaseUntil
	return true, nil
}

func (q *memQueue) update(id string, fn func(item *WorkItem)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.markErr != nil {
		return q.markErr
	}
	item, ok := q.items[id]
	if !ok || item.Status == QueueStatusSent {
		return ErrItemNotFound
	}
	fn(item)
	return nil
}

func (q *memQueue) MarkAsSent(_ context.Context, id string, sentAt time.Time, lastError string) error {
	return q.update(id, func(item *WorkItem) {
		item.Status = QueueStatusSent
		item.SentAt = &sentAt
		item.LastError = lastError
	})
}

func (q *memQueue) MarkForRetry(_ context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	return q.update(id, func(item *WorkItem) {
		item.Status = QueueStatusRetry
		item.LastError = lastError
		item.NextAttemptAt = nextAttemptAt
	})
}

func (q *memQueue) MarkAsFailed(_ context.Context, id string, lastError string) error {
	return q.update(id, func(item *WorkItem) {
		item.Status = QueueStatusFailed
		item.LastError = lastError
	})
}

func (q *memQueue) GetQueueStats(_ context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats QueueStats
	for _, item := range q.items {
		switch item.Status {
		case QueueStatusPending:
			stats.Pending++
		case QueueStatusRetry:
			stats.Retry++
		case QueueStatusSent:
			stats.Sent++
		case QueueStatusFailed:
			stats.Failed++
		}
	}
	return &stats, nil
}

func (q *memQueue) DeleteOldSentItems(_ context.Context, olderThan time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.purgeCalls = append(q.purgeCalls, olderThan)
	return q.purged, nil
}

// memEndpoints is an in-memory EndpointRepository.
type memEndpoints struct {
	mu        sync.Mutex
	byURL     map[string]Endpoint
	listErr   error
	deleteErr error
	deleted   []string
}

func newMemEndpoints(endpoints ...Endpoint) *memEndpoints {
	r := &memEndpoints{byURL: make(map[string]Endpoint)}
	for _, ep := range endpoints {
		r.byURL[ep.URL] = ep
	}
	return r
}

func (r *memEndpoints) ListByRecipient(_ context.Context, recipientID string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}

	var result []Endpoint
	for _, ep := range r.byURL {
		if ep.RecipientID == recipientID {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].URL < result[j].URL })
	return result, nil
}

func (r *memEndpoints) DeleteEndpoint(_ context.Context, endpointURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.byURL[endpointURL]; !ok {
		return ErrEndpointNotFound
	}
	delete(r.byURL, endpointURL)
	r.deleted = append(r.deleted, endpointURL)
	return nil
}

func (r *memEndpoints) has(endpointURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byURL[endpointURL]
	return ok
}

type gatewayResult struct {
	resp *GatewayResponse
	err  error
}

// stubGateway returns a canned result per endpoint URL.
// Endpoints without a canned result are accepted.
type stubGateway struct {
	mu      sync.Mutex
	results map[string]gatewayResult
	calls   []GatewayRequest
}

func newStubGateway() *stubGateway {
	return &stubGateway{results: make(map[string]gatewayResult)}
}

func (g *stubGateway) on(endpointURL string, resp *GatewayResponse, err error) *stubGateway {
	g.results[endpointURL] = gatewayResult{resp: resp, err: err}
	return g
}

func (g *stubGateway) Send(_ context.Context, req GatewayRequest) (*GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, req)
	if r, ok := g.results[req.Endpoint.URL]; ok {
		return r.resp, r.err
	}
	return &GatewayResponse{Accepted: true, StatusCode: 200}, nil
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type stubEnqueuer struct {
	name  string
	err   error
	calls int
}

func (e *stubEnqueuer) Name() string { return e.name }

func (e *stubEnqueuer) Enqueue(_ context.Context) error {
	e.calls++
	return e.err
}

type stubRunner struct {
	mu      sync.Mutex
	summary Summary
	err     error
	calls   int
}

func (r *stubRunner) Drain(_ context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.summary, r.err
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
