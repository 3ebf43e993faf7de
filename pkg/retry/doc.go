// Package retry provides backoff strategies and a context-aware retry loop.
//
// ExponentialBackoff sizes identity cooldowns from the number of consecutive
// failures; Do retries proxy list fetches; Wait is the cancellable sleep used
// for pacing between sessions.
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return fetch(ctx, source)
//	}, &retry.Config{
//		MaxAttempts: 2,
//		Backoff:     retry.DefaultExponentialBackoff(),
//		Logger:      log,
//	})
package retry
