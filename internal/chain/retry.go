package chain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff implements backoff.BackOff with the engine's fixed policy
// — 2s × attempt — rather than the library's default exponential curve.
// Kept as a swappable seam per §9 ("a retry policy object is the right
// seam to substitute exponential backoff or jitter in tests").
type linearBackOff struct {
	attempt int
	unit    time.Duration
}

func newLinearBackOff() *linearBackOff {
	return &linearBackOff{unit: 2 * time.Second}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.unit
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// retryLinear runs op up to maxAttempts times with the engine's 2s ×
// attempt linear backoff, per §4.2 "Retry". The final failure is
// returned unwrapped by the caller, who maps it to ChainRequestFailed.
func retryLinear(ctx context.Context, maxAttempts uint64, op backoff.Operation) error {
	b := backoff.WithContext(backoff.WithMaxRetries(newLinearBackOff(), maxAttempts-1), ctx)
	return backoff.Retry(op, b)
}
