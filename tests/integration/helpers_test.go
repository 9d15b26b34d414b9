//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/gigpush/internal/push"
	pushpostgres "github.com/bissquit/gigpush/internal/push/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// gatewayReply is what the stub answers for one endpoint.
type gatewayReply struct {
	status int
	body   string
	delay  time.Duration
}

type gatewayCall struct {
	Endpoint         string
	NotificationType string
	Payload          json.RawMessage
}

// gatewayStub imitates the push gateway. Endpoints without a reply are accepted.
type gatewayStub struct {
	mu      sync.Mutex
	replies map[string]gatewayReply
	calls   []gatewayCall
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{replies: make(map[string]gatewayReply)}
}

func (g *gatewayStub) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = make(map[string]gatewayReply)
	g.calls = nil
}

func (g *gatewayStub) reply(endpoint string, r gatewayReply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[endpoint] = r
}

func (g *gatewayStub) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subscription struct {
			Endpoint string `json:"endpoint"`
		} `json:"subscription"`
		Payload          json.RawMessage `json:"payload"`
		NotificationType string          `json:"notification_type"`
	}
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{
		Endpoint:         req.Subscription.Endpoint,
		NotificationType: req.NotificationType,
		Payload:          req.Payload,
	})
	reply, ok := g.replies[req.Subscription.Endpoint]
	g.mu.Unlock()

	if !ok {
		reply = gatewayReply{status: http.StatusOK, body: `{"success":true}`}
	}
	if reply.delay > 0 {
		select {
		case <-time.After(reply.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.status)
	_, _ = w.Write([]byte(reply.body))
}

// resetState empties the queue and subscriptions and forgets gateway calls.
func resetState(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `TRUNCATE notification_queue, push_subscriptions`)
	require.NoError(t, err)
	gateway.reset()
}

func repo() *pushpostgres.Repository {
	return pushpostgres.NewRepository(testDB)
}

func enqueueItem(t *testing.T, recipientID string, nextAttemptAt time.Time) *push.WorkItem {
	t.Helper()
	item := &push.WorkItem{
		ID:               uuid.New().String(),
		RecipientID:      recipientID,
		NotificationType: "shift_reminder",
		Payload:          json.RawMessage(`{"title":"Shift starts in 1 hour"}`),
		NextAttemptAt:    nextAttemptAt,
	}
	require.NoError(t, repo().Enqueue(context.Background(), item))
	return item
}

func registerEndpoint(t *testing.T, recipientID, url string) push.Endpoint {
	t.Helper()
	ep := push.Endpoint{
		URL:           url,
		RecipientID:   recipientID,
		AuthSecret:    "auth-" + recipientID,
		EncryptionKey: "p256dh-" + recipientID,
	}
	require.NoError(t, repo().SaveEndpoint(context.Background(), ep))
	return ep
}

func getItem(t *testing.T, id string) *push.WorkItem {
	t.Helper()
	item, err := repo().GetWorkItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func endpointExists(t *testing.T, url string) bool {
	t.Helper()
	var exists bool
	err := testDB.QueryRow(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM push_subscriptions WHERE endpoint = $1)`, url).Scan(&exists)
	require.NoError(t, err)
	return exists
}

type drainResult struct {
	OK bool `json:"ok"`
	push.Summary
}
