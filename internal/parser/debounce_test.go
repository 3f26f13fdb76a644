package parser

import (
	"context"
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/internal/graph"
)

func TestDebouncerCoalescesRapidEditsToLatest(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	d := NewDebouncer(p, 20*time.Millisecond)
	ctx := context.Background()

	results := make(chan Result, 2)
	onResult := func(res Result, err error) {
		if err != nil {
			t.Errorf("onResult: %v", err)
			return
		}
		results <- res
	}

	d.Submit(ctx, FileEvent{Path: "a.go", Language: "go", Content: "func Foo() {}\n"}, onResult)
	d.Submit(ctx, FileEvent{Path: "a.go", Language: "go", Content: "func Foo() {}\nfunc Bar() {}\n"}, onResult)

	select {
	case <-results:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced result")
	}

	select {
	case r := <-results:
		t.Fatalf("expected only one applied edit for a coalesced burst, got a second: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if len(g.NodeIDs()) != 2 {
		t.Fatalf("expected the latest content (2 functions) to win, got %d nodes", len(g.NodeIDs()))
	}
}

func TestDebouncerFlushAppliesImmediately(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	d := NewDebouncer(p, time.Hour)
	ctx := context.Background()

	d.Submit(ctx, FileEvent{Path: "a.go", Language: "go", Content: "func Foo() {}\n"}, nil)

	res, err := d.Flush(ctx, "a.go")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Path != "a.go" {
		t.Fatalf("expected Flush to apply the pending edit, got %+v", res)
	}
	if len(g.NodeIDs()) != 1 {
		t.Fatalf("expected 1 node after Flush, got %d", len(g.NodeIDs()))
	}
}

func TestDebouncerFlushWithNoPendingEditIsNoOp(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	d := NewDebouncer(p, time.Hour)

	res, err := d.Flush(context.Background(), "missing.go")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res.Path != "" {
		t.Fatalf("expected a zero Result when nothing is pending, got %+v", res)
	}
}
