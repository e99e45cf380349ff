package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/metrics"
	"github.com/solven/escrow/internal/retry"
)

// GuardOptions bounds calls to a provider.
type GuardOptions struct {
	Timeout time.Duration
	Retry   retry.Policy
}

// Guard wraps a Provider with a per-call deadline, retries for Verify, and
// metrics. Failures outside the apperr taxonomy surface as
// apperr.ErrGatewayFailure.
type Guard struct {
	inner Provider
	opts  GuardOptions
}

// NewGuard wraps p.
func NewGuard(p Provider, opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Guard{inner: p, opts: opts}
}

// Name implements Provider.
func (g *Guard) Name() string { return g.inner.Name() }

// Initialize implements Provider. It is not retried since a second call
// could open a second payment on the gateway side.
func (g *Guard) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	return guarded(ctx, g, "initialize", func(ctx context.Context) (InitializeResult, error) {
		return g.inner.Initialize(ctx, req)
	})
}

// Verify implements Provider.
func (g *Guard) Verify(ctx context.Context, reference string) (Verification, error) {
	var v Verification
	err := retry.Do(ctx, g.opts.Retry, func(ctx context.Context) error {
		got, err := guarded(ctx, g, "verify", func(ctx context.Context) (Verification, error) {
			return g.inner.Verify(ctx, reference)
		})
		if err != nil {
			if !errors.Is(err, apperr.ErrGatewayFailure) {
				return retry.Permanent(err)
			}
			return err
		}
		v = got
		return nil
	})
	return v, err
}

// HandleWebhook implements Provider.
func (g *Guard) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error) {
	return guarded(ctx, g, "webhook", func(ctx context.Context) (WebhookEvent, error) {
		return g.inner.HandleWebhook(ctx, payload, signature)
	})
}

type outcome[T any] struct {
	val T
	err error
}

// guarded runs fn under the guard's deadline. A call abandoned at the
// deadline keeps running but its result is dropped on the buffered channel.
func guarded[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		val, err := fn(ctx)
		done <- outcome[T]{val: val, err: err}
	}()

	var (
		val T
		err error
	)
	select {
	case out := <-done:
		val, err = out.val, out.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.GatewayCallDuration.WithLabelValues(g.inner.Name(), op).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case err == nil:
	case apperr.Known(err):
		result = "rejected"
	default:
		result = "error"
		err = fmt.Errorf("%s %s: %v: %w", g.inner.Name(), op, err, apperr.ErrGatewayFailure)
	}
	metrics.GatewayCallsTotal.WithLabelValues(g.inner.Name(), op, result).Inc()
	if err != nil {
		var zero T
		return zero, err
	}
	return val, nil
}
