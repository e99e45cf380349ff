package infra

import (
	"context"
	"time"

	"github.com/solven/escrow/internal/retry"
)

// startupRetry bounds how long the process waits for Postgres and Redis to
// accept connections, e.g. while a compose stack is still starting.
var startupRetry = retry.Policy{Attempts: 6, BaseDelay: 250 * time.Millisecond, MaxDelay: 3 * time.Second}

// pingUntilReady calls ping, each try bounded by timeout, until it succeeds
// or startupRetry runs out.
func pingUntilReady(ctx context.Context, timeout time.Duration, ping func(ctx context.Context) error) error {
	return retry.Do(ctx, startupRetry, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return ping(pingCtx)
	})
}
