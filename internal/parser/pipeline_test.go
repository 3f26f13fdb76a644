package parser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/codegraph-io/codegraph/internal/graph"
)

func TestProcessChangeFullParsesUnknownFile(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())

	res, err := p.ProcessChange(context.Background(), FileEvent{
		Path: "a.go", Language: "go",
		Content: "package main\n\nfunc Foo() {}\n",
	})
	if err != nil {
		t.Fatalf("ProcessChange: %v", err)
	}
	if res.Selective {
		t.Fatal("expected first sight of a file to be a full reparse")
	}
	if len(g.NodeIDs()) != 1 {
		t.Fatalf("expected 1 node in graph, got %d", len(g.NodeIDs()))
	}
}

func TestProcessChangeNoOpOnIdenticalContent(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	content := "package main\n\nfunc Foo() {}\n"
	ctx := context.Background()

	if _, err := p.ProcessChange(ctx, FileEvent{Path: "a.go", Language: "go", Content: content}); err != nil {
		t.Fatalf("ProcessChange: %v", err)
	}
	res, err := p.ProcessChange(ctx, FileEvent{Path: "a.go", Language: "go", Content: content})
	if err != nil {
		t.Fatalf("ProcessChange (repeat): %v", err)
	}
	if !res.Selective || res.Affected != 0 {
		t.Fatalf("expected a no-op selective result for identical content, got %+v", res)
	}
}

func TestProcessChangeSelectiveOnSmallEdit(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	ctx := context.Background()

	if _, err := p.ProcessChange(ctx, FileEvent{
		Path: "a.go", Language: "go",
		Content: "package main\n\nfunc Foo() {\n\treturn\n}\n",
	}); err != nil {
		t.Fatalf("ProcessChange: %v", err)
	}

	res, err := p.ProcessChange(ctx, FileEvent{
		Path: "a.go", Language: "go",
		Content: "package main\n\nfunc Foo() {\n\treturn 1\n}\n",
	})
	if err != nil {
		t.Fatalf("ProcessChange (edit): %v", err)
	}
	if !res.Selective {
		t.Fatalf("expected a single-line body edit to stay selective, got %+v", res)
	}
}

func TestProcessChangeDeleteRemovesNodes(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	ctx := context.Background()

	if _, err := p.ProcessChange(ctx, FileEvent{
		Path: "a.go", Language: "go", Content: "func Foo() {}\n",
	}); err != nil {
		t.Fatalf("ProcessChange: %v", err)
	}
	if len(g.NodeIDs()) != 1 {
		t.Fatalf("expected 1 node before delete, got %d", len(g.NodeIDs()))
	}

	res, err := p.ProcessChange(ctx, FileEvent{Path: "a.go", Deleted: true})
	if err != nil {
		t.Fatalf("ProcessChange (delete): %v", err)
	}
	if res.Removed != 1 {
		t.Fatalf("expected 1 node removed, got %d", res.Removed)
	}
	if len(g.NodeIDs()) != 0 {
		t.Fatalf("expected 0 nodes after delete, got %d", len(g.NodeIDs()))
	}
}

func TestProcessChangeFullReparseOnMassiveEdit(t *testing.T) {
	g := graph.New()
	p := NewPipeline(g, NewHeuristicBackend())
	ctx := context.Background()

	// 60 functions, each separated by an untouched line so the edit below
	// produces 60 disjoint single-line regions instead of one merged block.
	var oldLines, newLines []string
	for i := 0; i < 60; i++ {
		oldLines = append(oldLines, fmt.Sprintf("func F%d() { return 0 }", i), "// sep")
		newLines = append(newLines, fmt.Sprintf("func F%d() { return 1 }", i), "// sep")
	}
	old := strings.Join(oldLines, "\n") + "\n"
	huge := strings.Join(newLines, "\n") + "\n"

	if _, err := p.ProcessChange(ctx, FileEvent{Path: "a.go", Language: "go", Content: old}); err != nil {
		t.Fatalf("ProcessChange: %v", err)
	}

	res, err := p.ProcessChange(ctx, FileEvent{Path: "a.go", Language: "go", Content: huge})
	if err != nil {
		t.Fatalf("ProcessChange (huge): %v", err)
	}
	if res.Selective {
		t.Fatalf("expected 60 scattered single-line edits to trigger a full reparse, got %+v", res)
	}
}
