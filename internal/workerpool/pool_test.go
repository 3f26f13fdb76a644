package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
)

func TestSubmitRunsAndReturnsValue(t *testing.T) {
	p := New(Config{Workers: 2})
	defer p.Close()

	f, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	stats := p.Stats()
	if stats.Completed != 1 {
		t.Fatalf("expected 1 completed task, got %+v", stats)
	}
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(Config{Workers: 2, QueueCapacity: 16})
	defer p.Close()

	var running, maxRunning atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 8; i++ {
		_, err := Submit(context.Background(), p, func(ctx context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				old := maxRunning.Load()
				if n <= old || maxRunning.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("Submit #%d: %v", i, err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	p.Close()

	if got := maxRunning.Load(); got > 2 {
		t.Fatalf("observed %d concurrently running tasks, want <= 2", got)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	p := New(Config{Workers: 1, QueueCapacity: 1})
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	// Occupies the pool's one admission slot for the whole task.
	if _, err := Submit(context.Background(), p, func(ctx context.Context) (struct{}, error) {
		close(started)
		<-block
		return struct{}{}, nil
	}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	<-started

	_, err := Submit(context.Background(), p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	if coderr.KindOf(err) != coderr.KindBackpressureFull {
		t.Fatalf("expected KindBackpressureFull, got %v", err)
	}

	close(block)
}

func TestFutureCancelStopsCooperativeTask(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	started := make(chan struct{})
	f, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-started
	f.Cancel()

	_, err = f.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats := p.Stats(); stats.Cancelled != 1 {
		t.Fatalf("expected 1 cancelled task, got %+v", stats)
	}
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	p := New(Config{Workers: 1})
	p.Close()

	_, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, nil
	})
	if coderr.KindOf(err) != coderr.KindUnrecoverable {
		t.Fatalf("expected KindUnrecoverable after Close, got %v", err)
	}
}

func TestFailedTaskIncrementsFailedCounter(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	f, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.Wait(context.Background()); err == nil {
		t.Fatal("expected the task's error to surface from Wait")
	}
	if stats := p.Stats(); stats.Failed != 1 {
		t.Fatalf("expected 1 failed task, got %+v", stats)
	}
}
