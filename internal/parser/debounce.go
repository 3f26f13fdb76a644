package parser

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces bursts of file-change events per path into a single
// ProcessChange call once edits to that path have been quiet for Window,
// so an editor's autosave-per-keystroke doesn't trigger a reparse per
// keystroke.
type Debouncer struct {
	pipeline *Pipeline
	window   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEdit
}

type pendingEdit struct {
	timer *time.Timer
	event FileEvent
}

// NewDebouncer batches edits to pipeline within window, which should sit
// in the 50-200ms range: long enough to absorb a burst of saves, short
// enough that interactive search results stay fresh.
func NewDebouncer(pipeline *Pipeline, window time.Duration) *Debouncer {
	return &Debouncer{pipeline: pipeline, window: window, pending: make(map[string]*pendingEdit)}
}

// Submit records event as the latest known state for its path and
// (re)starts that path's quiet-window timer. onResult, if non-nil, is
// called from the timer's own goroutine once the debounced change is
// applied.
func (d *Debouncer) Submit(ctx context.Context, event FileEvent, onResult func(Result, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pe, ok := d.pending[event.Path]; ok {
		pe.timer.Stop()
		pe.event = event
	} else {
		d.pending[event.Path] = &pendingEdit{event: event}
	}
	pe := d.pending[event.Path]
	pe.timer = time.AfterFunc(d.window, func() {
		d.flush(ctx, event.Path, onResult)
	})
}

func (d *Debouncer) flush(ctx context.Context, path string, onResult func(Result, error)) {
	d.mu.Lock()
	pe, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	res, err := d.pipeline.ProcessChange(ctx, pe.event)
	if onResult != nil {
		onResult(res, err)
	}
}

// Flush forces any pending edit for path to apply immediately, skipping
// the remainder of its quiet window. Used on shutdown so no edit is lost.
func (d *Debouncer) Flush(ctx context.Context, path string) (Result, error) {
	d.mu.Lock()
	pe, ok := d.pending[path]
	if ok {
		pe.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()
	if !ok {
		return Result{}, nil
	}
	return d.pipeline.ProcessChange(ctx, pe.event)
}
