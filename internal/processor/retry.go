package processor

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// withRetry runs fn up to maxRetries+1 times with exponential backoff,
// retrying only errors accepted by retryIf.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, retryIf func(error) bool, onRetry func(uint, error), fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(maxRetries)+1),
		retry.Delay(baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
		retry.OnRetry(onRetry),
	)
}
