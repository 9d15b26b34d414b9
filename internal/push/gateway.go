package push

import (
	"context"
	"encoding/json"
	"fmt"
)

// Gateway delivers one message to one endpoint through the push service.
type Gateway interface {
	Send(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
}

// GatewayRequest contains the destination and content of one delivery.
type GatewayRequest struct {
	Endpoint         Endpoint
	NotificationType string
	Payload          json.RawMessage
}

// GatewayResponse is the transport-level successful reply of the gateway.
// A reply can still signal failure through Error or DeleteSubscription.
type GatewayResponse struct {
	Accepted           bool
	StatusCode         int
	Error              string
	Details            string
	DeleteSubscription bool
}

// ErrorContext carries what the gateway returned alongside an error.
// Body is raw and may itself be a JSON document or a JSON-encoded string.
type ErrorContext struct {
	StatusCode int
	Body       string
}

// GatewayError is returned by Gateway implementations when the call fails.
type GatewayError struct {
	Message string
	Context *ErrorContext
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Context != nil && e.Context.StatusCode > 0 {
		return fmt.Sprintf("push gateway error %d: %s", e.Context.StatusCode, e.Message)
	}
	return fmt.Sprintf("push gateway error: %s", e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
