package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const defaultCallTimeout = 10 * time.Second

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	// CallTimeout bounds every gateway call. A timeout is a transient failure.
	CallTimeout time.Duration
	// Concurrency is the number of endpoints of one item delivered in parallel.
	Concurrency int
}

// Dispatcher delivers one work item to all of its endpoints.
type Dispatcher struct {
	config      DispatcherConfig
	gateway     Gateway
	invalidator *Invalidator
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(config DispatcherConfig, gateway Gateway, invalidator *Invalidator) *Dispatcher {
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaultCallTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Dispatcher{
		config:      config,
		gateway:     gateway,
		invalidator: invalidator,
	}
}

// Dispatch calls the gateway once per endpoint and returns results in endpoint order.
func (d *Dispatcher) Dispatch(ctx context.Context, item *WorkItem, endpoints []Endpoint) []EndpointResult {
	results := make([]EndpointResult, len(endpoints))

	if d.config.Concurrency == 1 || len(endpoints) < 2 {
		for i, ep := range endpoints {
			results[i] = d.deliver(ctx, item, ep)
		}
		return results
	}

	p := pool.New().WithMaxGoroutines(min(d.config.Concurrency, len(endpoints)))
	for i, ep := range endpoints {
		p.Go(func() {
			results[i] = d.deliver(ctx, item, ep)
		})
	}
	p.Wait()

	return results
}

func (d *Dispatcher) deliver(ctx context.Context, item *WorkItem, endpoint Endpoint) EndpointResult {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	resp, err := d.gateway.Send(callCtx, GatewayRequest{
		Endpoint:         endpoint,
		NotificationType: item.NotificationType,
		Payload:          item.Payload,
	})
	cancel()

	outcome := Classify(resp, err)
	recordGatewayCall(outcome.Kind, time.Since(start))

	if outcome.Kind == OutcomePermanentFailure {
		if invErr := d.invalidator.Invalidate(ctx, endpoint); invErr != nil {
			slog.Error("failed to prune push endpoint",
				"item_id", item.ID,
				"endpoint", maskEndpoint(endpoint.URL),
				"error", invErr,
			)
			outcome = Outcome{
				Kind:       OutcomeTransientFailure,
				StatusCode: outcome.StatusCode,
				Message:    fmt.Sprintf("prune endpoint: %v", invErr),
			}
		}
	}

	recordEndpointOutcome(outcome.Kind)

	if outcome.Kind == OutcomeTransientFailure {
		slog.Warn("push delivery failed",
			"item_id", item.ID,
			"endpoint", maskEndpoint(endpoint.URL),
			"status_code", outcome.StatusCode,
			"error", outcome.Message,
		)
	} else {
		slog.Debug("push delivery finished",
			"item_id", item.ID,
			"endpoint", maskEndpoint(endpoint.URL),
			"outcome", outcome.Kind,
		)
	}

	return EndpointResult{Endpoint: endpoint, Outcome: outcome}
}
