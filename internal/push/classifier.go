package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// OutcomeKind tags the result of one delivery against one endpoint.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeTransientFailure OutcomeKind = "transient-failure"
	OutcomePermanentFailure OutcomeKind = "permanent-endpoint-failure"
)

// Outcome is the classified result of one delivery attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Message    string
}

// FailureShape identifies how the gateway reported a failure.
type FailureShape string

// Failure shapes.
const (
	FailureNone        FailureShape = ""
	FailureTransport   FailureShape = "transport"
	FailureRejected    FailureShape = "rejected"
	FailureApplication FailureShape = "application"
)

// Failure is the decoded form of a raw gateway failure.
type Failure struct {
	Shape              FailureShape
	StatusCode         int
	Message            string
	DeleteSubscription bool
	Timeout            bool
}

// Classify maps a raw gateway result to an Outcome. It has no side effects.
func Classify(resp *GatewayResponse, err error) Outcome {
	f := DecodeFailure(resp, err)

	// A gone status is permanent even when the gateway accepted the call.
	if f.DeleteSubscription || isGoneStatus(f.StatusCode) {
		return Outcome{
			Kind:       OutcomePermanentFailure,
			StatusCode: f.StatusCode,
			Message:    withDetails(fmt.Sprintf("endpoint gone (%d)", f.StatusCode), f.Message),
		}
	}

	if f.Shape == FailureNone {
		return Outcome{Kind: OutcomeSuccess, StatusCode: f.StatusCode}
	}

	return Outcome{
		Kind:       OutcomeTransientFailure,
		StatusCode: f.StatusCode,
		Message:    f.Message,
	}
}

func isGoneStatus(code int) bool {
	return code == http.StatusNotFound || code == http.StatusGone
}

// DecodeFailure runs the tolerant parser chain over a gateway result:
// status code extraction, then nested body decoding, then the raw string.
func DecodeFailure(resp *GatewayResponse, err error) Failure {
	if err != nil {
		return decodeError(err)
	}
	if resp == nil {
		return Failure{Shape: FailureApplication, Message: "empty gateway response"}
	}

	switch {
	case resp.DeleteSubscription:
		msg := resp.Error
		if msg == "" {
			msg = "gateway requested subscription deletion"
		}
		return Failure{
			Shape:              FailureApplication,
			StatusCode:         resp.StatusCode,
			Message:            withDetails(msg, resp.Details),
			DeleteSubscription: true,
		}
	case resp.Error != "":
		return Failure{
			Shape:      FailureApplication,
			StatusCode: resp.StatusCode,
			Message:    withDetails(resp.Error, resp.Details),
		}
	case !resp.Accepted:
		return Failure{
			Shape:      FailureApplication,
			StatusCode: resp.StatusCode,
			Message:    "gateway did not accept delivery",
		}
	}

	return Failure{Shape: FailureNone, StatusCode: resp.StatusCode}
}

func decodeError(err error) Failure {
	if isTimeout(err) {
		return Failure{
			Shape:   FailureTransport,
			Message: fmt.Sprintf("gateway timeout: %v", err),
			Timeout: true,
		}
	}

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return Failure{Shape: FailureTransport, Message: err.Error()}
	}

	f := Failure{Shape: FailureTransport, Message: gwErr.Message}
	if gwErr.Context == nil {
		if f.Message == "" {
			f.Message = err.Error()
		}
		return f
	}

	f.Shape = FailureRejected
	f.StatusCode = gwErr.Context.StatusCode

	body, ok := decodeBody(gwErr.Context.Body)
	if ok {
		if f.StatusCode == 0 {
			f.StatusCode = body.StatusCode
		}
		f.DeleteSubscription = body.DeleteSubscription
		if msg := body.message(); msg != "" {
			f.Message = msg
		}
	} else if raw := strings.TrimSpace(gwErr.Context.Body); raw != "" {
		f.Message = withDetails(f.Message, raw)
	}

	if f.Message == "" {
		f.Message = err.Error()
	}
	return f
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorBody is the loose shape of error bodies returned by push services.
type errorBody struct {
	Error              json.RawMessage `json:"error"`
	Message            string          `json:"message"`
	Details            json.RawMessage `json:"details"`
	StatusCode         int             `json:"statusCode"`
	DeleteSubscription bool            `json:"deleteSubscription"`
}

func (b errorBody) message() string {
	msg := flattenJSON(b.Error)
	if msg == "" {
		msg = b.Message
	}
	return withDetails(msg, flattenJSON(b.Details))
}

// decodeBody decodes a JSON error body. A body that is a JSON string holding
// another JSON document is unwrapped once.
func decodeBody(raw string) (errorBody, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errorBody{}, false
	}

	var body errorBody
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		return body, true
	}

	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err != nil {
		return errorBody{}, false
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &body); err != nil {
		return errorBody{}, false
	}
	return body, true
}

// flattenJSON turns a string, an object with a message field, or any other
// JSON value into a single line of text.
func flattenJSON(raw json.RawMessage) string {
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

	return string(raw)
}

func withDetails(msg, details string) string {
	if details == "" {
		return msg
	}
	if msg == "" {
		return details
	}
	return msg + ": " + details
}
