package integrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/pkg/fn"
	"github.com/codegraph-io/codegraph/pkg/resilience"
)

type flakyEmbedder struct {
	dim      int
	failures int
	calls    int
}

func (f *flakyEmbedder) Dimension() int { return f.dim }

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient failure")
	}
	return make([]float32, f.dim), nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestResilientEmbedderRetriesTransientFailures(t *testing.T) {
	inner := &flakyEmbedder{dim: 4, failures: 2}
	e := NewResilientEmbedder(inner,
		resilience.BreakerOpts{FailThreshold: 5, Timeout: time.Second},
		fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
	)

	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected the third attempt to succeed, got %v", err)
	}
	if len(v) != 4 {
		t.Fatalf("expected dimension 4, got %d", len(v))
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestResilientEmbedderTripsBreakerOnSustainedFailure(t *testing.T) {
	inner := &flakyEmbedder{dim: 4, failures: 1000}
	e := NewResilientEmbedder(inner,
		resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute},
		fn.RetryOpts{MaxAttempts: 1, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	)

	for i := 0; i < 2; i++ {
		if _, err := e.Embed(context.Background(), "x"); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}

	if e.BreakerState() != resilience.StateOpen {
		t.Fatalf("expected breaker open after threshold failures, got %v", e.BreakerState())
	}

	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen once tripped, got %v", err)
	}
}

func TestResilientEmbedderDimensionDelegates(t *testing.T) {
	inner := &flakyEmbedder{dim: 16}
	e := NewResilientEmbedder(inner, resilience.DefaultBreakerOpts, fn.DefaultRetry)
	if e.Dimension() != 16 {
		t.Fatalf("expected dimension 16, got %d", e.Dimension())
	}
}
