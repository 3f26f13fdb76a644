// Package workerpool implements the bounded worker pool the core schedules
// long-running, blocking work onto: parsing, embedding, vector search,
// disk I/O, and WAL fsync. Request-handling code yields into the pool
// through Submit rather than running that work inline, so a slow embedder
// call or a large FAISS batch can't starve the goroutines driving request
// handling itself.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
)

var (
	errQueueFull  = errors.New("workerpool: admission queue full")
	errPoolClosed = errors.New("workerpool: pool is closed")
)

// Config sizes and tunes a Pool.
type Config struct {
	// Workers bounds how many tasks run concurrently. Zero means use
	// runtime.GOMAXPROCS(0), which automaxprocs has already set to the
	// container's CPU quota by the time cmd/codegraph constructs a Pool.
	Workers int
	// QueueCapacity bounds how many tasks may be admitted (queued or
	// running) at once; a task holds its admission slot from Submit
	// until it finishes, so this is the pool's total in-flight limit,
	// with Workers further bounding how many of those run concurrently
	// rather than wait. Zero means size it to 4x Workers.
	QueueCapacity int
	// AdmitWait bounds how long Submit blocks for a free admission slot
	// before failing with KindBackpressureFull. Zero means don't wait at
	// all: Submit either gets a slot immediately or rejects.
	AdmitWait time.Duration
}

// DefaultConfig sizes the pool off the process's GOMAXPROCS.
func DefaultConfig() Config {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return Config{Workers: workers, QueueCapacity: workers * 4}
}

// Stats is a point-in-time view of the pool's admission and throughput
// counters, meant to back an operator-facing metrics surface.
type Stats struct {
	// Queued counts tasks currently holding an admission slot, whether
	// still waiting for a worker or already running.
	Queued    int64
	Running   int64
	Completed int64
	Failed    int64
	Rejected  int64
	Cancelled int64
}

// Pool runs submitted tasks with bounded concurrency. The zero value is
// not usable; construct with New.
type Pool struct {
	cfg Config

	sem   chan struct{}
	admit chan struct{} // queue-slot tokens; bounds QueueCapacity

	wg       sync.WaitGroup
	closing  atomic.Bool
	closedCh chan struct{}

	queued, running, completed, failed, rejected, cancelled atomic.Int64
}

// New builds a Pool per cfg, filling in zero fields from DefaultConfig.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.Workers * 4
	}
	return &Pool{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Workers),
		admit:    make(chan struct{}, cfg.QueueCapacity),
		closedCh: make(chan struct{}),
	}
}

// Stats snapshots the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    p.queued.Load(),
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Cancelled: p.cancelled.Load(),
	}
}

// Future is the handle Submit returns: a cancellation token paired with a
// result channel, the shape the core's background-task convention uses
// throughout (watchers, compactors, integrity checks) so shutdown can join
// every outstanding task before storage handles are released.
type Future[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	val    T
	err    error
}

// Cancel requests cooperative cancellation of the task, if it hasn't
// already finished. The task observes this through its ctx.Done(); it is
// responsible for checking it at its own suspension points.
func (f *Future[T]) Cancel() { f.cancel() }

// Wait blocks until the task completes or ctx is done, whichever comes
// first. Cancelling ctx here does not cancel the task itself — call
// Cancel for that — it only stops waiting on it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit admits fn onto the pool and returns immediately with a Future.
// fn receives a context derived from ctx that is cancelled if the caller's
// deadline expires or Cancel is called (closing the Pool cancels no
// task); fn must check
// ctx at its own suspension points (disk I/O, embedder calls, batch
// boundaries) to honor cancellation cooperatively rather than being killed.
//
// If the admission queue is full, Submit waits up to Config.AdmitWait for
// a slot (not at all if zero) and otherwise returns KindBackpressureFull
// without running fn.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (*Future[T], error) {
	if p.closing.Load() {
		return nil, coderr.New(coderr.KindUnrecoverable, "workerpool.Submit", errPoolClosed)
	}
	if err := p.acquireAdmit(ctx); err != nil {
		p.rejected.Add(1)
		return nil, err
	}
	p.queued.Add(1)

	taskCtx, cancel := context.WithCancel(ctx)
	f := &Future[T]{cancel: cancel, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.admit
			p.queued.Add(-1)
			p.wg.Done()
			close(f.done)
		}()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-taskCtx.Done():
			f.err = taskCtx.Err()
			p.cancelled.Add(1)
			return
		}

		p.running.Add(1)
		val, err := fn(taskCtx)
		p.running.Add(-1)

		f.val, f.err = val, err
		switch {
		case err == nil:
			p.completed.Add(1)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			p.cancelled.Add(1)
		default:
			p.failed.Add(1)
		}
	}()
	return f, nil
}

// Close stops admitting new tasks and waits for every running and queued
// task to finish (cancelling none of them implicitly — callers wanting a
// hard stop should Cancel every outstanding Future first).
func (p *Pool) Close() {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}
	close(p.closedCh)
	p.wg.Wait()
}

// acquireAdmit reserves a queue slot, waiting up to Config.AdmitWait (or
// not at all, if zero) before giving up.
func (p *Pool) acquireAdmit(ctx context.Context) error {
	select {
	case p.admit <- struct{}{}:
		return nil
	default:
	}
	if p.cfg.AdmitWait <= 0 {
		return coderr.New(coderr.KindBackpressureFull, "workerpool.Submit", errQueueFull)
	}

	timer := time.NewTimer(p.cfg.AdmitWait)
	defer timer.Stop()
	select {
	case p.admit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return coderr.New(coderr.KindCancelled, "workerpool.Submit", ctx.Err())
	case <-timer.C:
		return coderr.New(coderr.KindBackpressureFull, "workerpool.Submit", errQueueFull)
	case <-p.closedCh:
		return coderr.New(coderr.KindUnrecoverable, "workerpool.Submit", errPoolClosed)
	}
}
