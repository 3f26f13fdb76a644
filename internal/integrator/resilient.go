package integrator

import (
	"context"

	"github.com/codegraph-io/codegraph/pkg/fn"
	"github.com/codegraph-io/codegraph/pkg/resilience"
)

// ResilientEmbedder wraps a network-backed Embedder (embedclient.Client,
// ollama.Client) with retry-with-backoff and a circuit breaker: a few
// transient failures retry, a sustained outage trips the breaker and
// fails fast instead of piling up timeouts behind it. HashEmbedder and
// other in-process embedders have no use for this and should be passed
// around undecorated.
type ResilientEmbedder struct {
	inner   Embedder
	breaker *resilience.Breaker
	retry   fn.RetryOpts
}

// NewResilientEmbedder wraps inner with the given breaker and retry
// policy.
func NewResilientEmbedder(inner Embedder, breakerOpts resilience.BreakerOpts, retryOpts fn.RetryOpts) *ResilientEmbedder {
	return &ResilientEmbedder{
		inner:   inner,
		breaker: resilience.NewBreaker(breakerOpts),
		retry:   retryOpts,
	}
}

func (r *ResilientEmbedder) Dimension() int { return r.inner.Dimension() }

func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result := fn.Retry(ctx, r.retry, func(ctx context.Context) fn.Result[[]float32] {
		return resilience.CallResult(r.breaker, ctx, func(ctx context.Context) fn.Result[[]float32] {
			v, err := r.inner.Embed(ctx, text)
			if err != nil {
				return fn.Err[[]float32](err)
			}
			return fn.Ok(v)
		})
	})
	return result.Unwrap()
}

func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := fn.Retry(ctx, r.retry, func(ctx context.Context) fn.Result[[][]float32] {
		return resilience.CallResult(r.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
			v, err := r.inner.EmbedBatch(ctx, texts)
			if err != nil {
				return fn.Err[[][]float32](err)
			}
			return fn.Ok(v)
		})
	})
	return result.Unwrap()
}

// BreakerState reports the circuit breaker's current state, for an ops
// surface to expose alongside the rest of an embedder's health.
func (r *ResilientEmbedder) BreakerState() resilience.State {
	return r.breaker.State()
}
