package gateway

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/ledgerd/pkg/config"
)

const jitterPercent = 20

// Backoff builds the exponential, jittered and capped schedule from cfg.
func Backoff(cfg config.RetryConfig) retry.Backoff {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(jitterPercent, b)
	if cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(cfg.MaxDelay, b)
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.WithMaxRetries(attempts-1, b)
}

// Retry calls fn until it succeeds, returns a non-transient error, or the
// attempt budget runs out. The last error is returned as-is so callers can
// still tell a transient exhaustion from a permanent failure.
func Retry[T any](ctx context.Context, cfg config.RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, Backoff(cfg), func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			if IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = res
		return nil
	})
	return out, err
}
