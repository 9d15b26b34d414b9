// Package gateway provides the HTTP client of the push gateway service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/gigpush/internal/push"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 64 << 10
)

// Config holds push gateway client configuration.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// RateLimit caps calls per second. Zero means unlimited.
	RateLimit float64
}

// Client implements push.Gateway over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new gateway client.
// Returns error if the gateway URL is missing or invalid.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("push gateway: url is required")
	}
	u, err := url.Parse(config.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("push gateway: invalid url %q", config.URL)
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(1, int(config.RateLimit)))
	}

	slog.Info("push gateway configured",
		"host", u.Host,
		"timeout", config.Timeout,
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: limiter,
	}, nil
}

type sendRequest struct {
	Subscription     subscription    `json:"subscription"`
	Payload          json.RawMessage `json:"payload"`
	NotificationType string          `json:"notification_type,omitempty"`
}

type subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     subscriptionKeys `json:"keys"`
}

type subscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// sendReply is the loose shape of a 2xx gateway reply.
type sendReply struct {
	Success            *bool           `json:"success"`
	Error              json.RawMessage `json:"error"`
	Details            json.RawMessage `json:"details"`
	DeleteSubscription bool            `json:"deleteSubscription"`
	StatusCode         int             `json:"statusCode"`
}

// Send delivers one message to one endpoint.
func (c *Client) Send(ctx context.Context, req push.GatewayRequest) (*push.GatewayResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &push.GatewayError{Message: fmt.Sprintf("rate limiter: %v", err), Err: err}
	}

	body, err := json.Marshal(sendRequest{
		Subscription: subscription{
			Endpoint: req.Endpoint.URL,
			Keys: subscriptionKeys{
				P256dh: req.Endpoint.EncryptionKey,
				Auth:   req.Endpoint.AuthSecret,
			},
		},
		Payload:          req.Payload,
		NotificationType: req.NotificationType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &push.GatewayError{Message: fmt.Sprintf("send request: %v", err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp)
}

func (c *Client) handleResponse(resp *http.Response) (*push.GatewayResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &push.GatewayError{
			Message: fmt.Sprintf("read response: %v", err),
			Context: &push.ErrorContext{StatusCode: resp.StatusCode},
			Err:     err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &push.GatewayError{
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Context: &push.ErrorContext{StatusCode: resp.StatusCode, Body: string(body)},
		}
	}

	result := &push.GatewayResponse{Accepted: true, StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(body)) == 0 {
		return result, nil
	}

	var reply sendReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &push.GatewayError{
			Message: "malformed gateway response",
			Context: &push.ErrorContext{StatusCode: resp.StatusCode, Body: string(body)},
			Err:     err,
		}
	}

	if reply.StatusCode > 0 {
		result.StatusCode = reply.StatusCode
	}
	result.Error = rawText(reply.Error)
	result.Details = rawText(reply.Details)
	result.DeleteSubscription = reply.DeleteSubscription
	result.Accepted = result.Error == "" && !reply.DeleteSubscription &&
		(reply.Success == nil || *reply.Success)

	return result, nil
}

// rawText returns a JSON string as is, the message of an object that has one,
// and any other value as compact JSON.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}
