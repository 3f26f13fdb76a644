package parser

import (
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
)

func TestFindAffectedNodesMatchesOverlappingRange(t *testing.T) {
	n := &graph.CodeNode{
		ID: ids.NewNode(), Name: "Foo", NodeType: graph.NodeFunction,
		Location:  graph.Location{FilePath: "a.go", StartLine: 10, EndLine: 20},
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	regions := []ChangedRegion{{Range: LineRange{Start: 15, End: 16}, ChangeType: Modify}}

	affected := findAffectedNodes("a.go", []*graph.CodeNode{n}, regions)
	if len(affected) != 1 {
		t.Fatalf("expected 1 affected node, got %d", len(affected))
	}
	if affected[0].NodeID != n.ID {
		t.Fatalf("expected node %s, got %s", n.ID, affected[0].NodeID)
	}
}

func TestFindAffectedNodesIgnoresOtherFiles(t *testing.T) {
	n := &graph.CodeNode{ID: ids.NewNode(), Location: graph.Location{FilePath: "b.go", StartLine: 1, EndLine: 5}}
	regions := []ChangedRegion{{Range: LineRange{Start: 1, End: 5}, ChangeType: Modify}}
	affected := findAffectedNodes("a.go", []*graph.CodeNode{n}, regions)
	if len(affected) != 0 {
		t.Fatalf("expected 0 affected nodes for a different file, got %d", len(affected))
	}
}

func TestShouldFullReparseOnRegionCount(t *testing.T) {
	regions := make([]ChangedRegion, 51)
	if !shouldFullReparse(regions, nil) {
		t.Fatal("expected full reparse when region count exceeds threshold")
	}
}

func TestShouldFullReparseOnAffectedCount(t *testing.T) {
	affected := make([]AffectedNode, 101)
	if !shouldFullReparse(nil, affected) {
		t.Fatal("expected full reparse when affected count exceeds threshold")
	}
}

func TestShouldFullReparseOnModuleNode(t *testing.T) {
	affected := []AffectedNode{{NodeType: graph.NodeModule}}
	if !shouldFullReparse(nil, affected) {
		t.Fatal("expected full reparse when a module-level node is affected")
	}
}

func TestShouldNotFullReparseSmallChange(t *testing.T) {
	affected := []AffectedNode{{NodeType: graph.NodeFunction}}
	if shouldFullReparse([]ChangedRegion{{}}, affected) {
		t.Fatal("expected selective update for a small, non-structural change")
	}
}
