package push

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		resp        *GatewayResponse
		err         error
		wantKind    OutcomeKind
		wantStatus  int
		wantMessage string
	}{
		{
			name:     "accepted",
			resp:     &GatewayResponse{Accepted: true, StatusCode: 201},
			wantKind: OutcomeSuccess, wantStatus: 201,
		},
		{
			name:        "delete subscription flag",
			resp:        &GatewayResponse{DeleteSubscription: true, StatusCode: 200, Error: "unsubscribed"},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  200,
			wantMessage: "endpoint gone (200): unsubscribed",
		},
		{
			name:        "accepted reply reporting 410",
			resp:        &GatewayResponse{Accepted: true, StatusCode: 410},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  410,
			wantMessage: "endpoint gone (410)",
		},
		{
			name:        "accepted reply reporting 404",
			resp:        &GatewayResponse{Accepted: true, StatusCode: 404},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  404,
			wantMessage: "endpoint gone (404)",
		},
		{
			name:        "application error with details",
			resp:        &GatewayResponse{StatusCode: 200, Error: "payload too large", Details: "4096 bytes max"},
			wantKind:    OutcomeTransientFailure,
			wantStatus:  200,
			wantMessage: "payload too large: 4096 bytes max",
		},
		{
			name:        "not accepted without error",
			resp:        &GatewayResponse{StatusCode: 200},
			wantKind:    OutcomeTransientFailure,
			wantStatus:  200,
			wantMessage: "gateway did not accept delivery",
		},
		{
			name:        "nil response",
			wantKind:    OutcomeTransientFailure,
			wantMessage: "empty gateway response",
		},
		{
			name:        "plain transport error",
			err:         errors.New("connection refused"),
			wantKind:    OutcomeTransientFailure,
			wantMessage: "connection refused",
		},
		{
			name:        "timeout",
			err:         fmt.Errorf("send: %w", context.DeadlineExceeded),
			wantKind:    OutcomeTransientFailure,
			wantMessage: "gateway timeout: send: context deadline exceeded",
		},
		{
			name: "410 gone",
			err: &GatewayError{
				Message: "unexpected status 410",
				Context: &ErrorContext{StatusCode: 410, Body: `{"error":"subscription expired"}`},
			},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  410,
			wantMessage: "endpoint gone (410): subscription expired",
		},
		{
			name: "404 not found",
			err: &GatewayError{
				Message: "unexpected status 404",
				Context: &ErrorContext{StatusCode: 404},
			},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  404,
			wantMessage: "endpoint gone (404): unexpected status 404",
		},
		{
			name: "500 with non-json body",
			err: &GatewayError{
				Message: "unexpected status 500",
				Context: &ErrorContext{StatusCode: 500, Body: "upstream exploded"},
			},
			wantKind:    OutcomeTransientFailure,
			wantStatus:  500,
			wantMessage: "unexpected status 500: upstream exploded",
		},
		{
			name: "status code only in body",
			err: &GatewayError{
				Message: "rejected",
				Context: &ErrorContext{Body: `{"statusCode":410,"message":"gone"}`},
			},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  410,
			wantMessage: "endpoint gone (410): gone",
		},
		{
			name: "json-encoded string body",
			err: &GatewayError{
				Message: "rejected",
				Context: &ErrorContext{StatusCode: 400, Body: `"{\"error\":{\"message\":\"bad keys\"},\"details\":\"p256dh\"}"`},
			},
			wantKind:    OutcomeTransientFailure,
			wantStatus:  400,
			wantMessage: "bad keys: p256dh",
		},
		{
			name: "delete subscription in error body",
			err: &GatewayError{
				Message: "rejected",
				Context: &ErrorContext{StatusCode: 400, Body: `{"error":"invalid","deleteSubscription":true}`},
			},
			wantKind:    OutcomePermanentFailure,
			wantStatus:  400,
			wantMessage: "endpoint gone (400): invalid",
		},
		{
			name:        "gateway error without context",
			err:         &GatewayError{Message: "send request: dial tcp: refused", Err: errors.New("refused")},
			wantKind:    OutcomeTransientFailure,
			wantMessage: "send request: dial tcp: refused",
		},
		{
			name:        "error wins over response",
			resp:        &GatewayResponse{Accepted: true},
			err:         errors.New("broken pipe"),
			wantKind:    OutcomeTransientFailure,
			wantMessage: "broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.resp, tt.err)

			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantMessage, got.Message)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := &GatewayError{
		Message: "unexpected status 503",
		Context: &ErrorContext{StatusCode: 503, Body: `{"error":"busy"}`},
	}

	first := Classify(nil, err)
	for range 5 {
		assert.Equal(t, first, Classify(nil, err))
	}
}

func TestDecodeFailure_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		resp      *GatewayResponse
		err       error
		wantShape FailureShape
	}{
		{"success", &GatewayResponse{Accepted: true}, nil, FailureNone},
		{"application", &GatewayResponse{Error: "nope"}, nil, FailureApplication},
		{"transport", nil, errors.New("eof"), FailureTransport},
		{"rejected", nil, &GatewayError{Message: "x", Context: &ErrorContext{StatusCode: 500}}, FailureRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantShape, DecodeFailure(tt.resp, tt.err).Shape)
		})
	}
}

func TestGatewayError(t *testing.T) {
	inner := errors.New("dial failed")
	err := &GatewayError{Message: "send request", Err: inner}

	assert.Equal(t, "push gateway error: send request", err.Error())
	assert.ErrorIs(t, err, inner)

	withStatus := &GatewayError{Message: "unexpected status 502", Context: &ErrorContext{StatusCode: 502}}
	assert.Equal(t, "push gateway error 502: unexpected status 502", withStatus.Error())
}
