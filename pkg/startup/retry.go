package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/cartcache-backend/pkg/logger"
)

// Policy bounds how hard process startup tries to reach a dependency.
type Policy struct {
	MaxRetries uint64
	Backoff    time.Duration
}

// Connect calls dial until it succeeds or the policy is exhausted, backing off
// exponentially between attempts. Each failed attempt is logged as a warning.
func Connect[T any](ctx context.Context, logg *logger.Logger, name string, policy Policy, dial func(context.Context) (T, error)) (T, error) {
	base := policy.Backoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(policy.MaxRetries, retry.NewExponential(base))

	var (
		result  T
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		value, err := dial(ctx)
		if err != nil {
			if logg != nil {
				logg.WarnErr(logg.WithFields(ctx, map[string]any{
					"dependency": name,
					"attempt":    attempt,
				}), "startup.connect_failed", err)
			}
			return retry.RetryableError(err)
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("connect %s after %d attempts: %w", name, attempt, err)
	}
	return result, nil
}
