package netx

import (
	"context"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds every outbound call: at most MaxRetries extra attempts,
// exponential delay starting at BaseDelay and capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy matches the client defaults: 3 retries, 1s doubling up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Do runs fn under the policy. fn marks transient failures with Retryable;
// any other error stops immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), fn)
}

// Retryable marks err as transient.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
