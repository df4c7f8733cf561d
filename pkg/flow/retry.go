package flow

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Retry runs fn up to attempts times with exponential backoff, skipping the
// remaining attempts as soon as fn returns a non-retryable error. The
// backoff sleep observes ctx, so a stop request interrupts it promptly.
func Retry(ctx context.Context, log zerolog.Logger, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("retrying after recoverable failure")
		}),
	)
}
