package push

import "time"

// Drain defaults.
const (
	DefaultBatchSize    = 50
	DefaultRetryBackoff = 5 * time.Minute
)

// RetryPolicy decides when a failed item becomes eligible again.
// Backoff is fixed, not exponential.
type RetryPolicy struct {
	Backoff time.Duration
	// MaxAttempts moves an item to failed once reached. Zero retries forever.
	MaxAttempts int
}

// DefaultRetryPolicy returns the fixed five minute policy without attempt cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Backoff: DefaultRetryBackoff}
}

// NextAttempt returns the time the item becomes eligible again.
func (p RetryPolicy) NextAttempt(now time.Time) time.Time {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return now.Add(backoff)
}

// Exhausted reports whether attempts has reached the cap.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
