// Package parser implements the incremental parser: a debounced
// file-change pipeline that diffs edited source against the previous
// version, maps the diff onto affected graph nodes, and chooses between a
// selective update and a full reparse.
package parser

import (
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// ChangeType classifies one line-level edit between two file revisions.
type ChangeType int

const (
	Insert ChangeType = iota
	Delete
	Modify
)

func (c ChangeType) String() string {
	switch c {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return "modify"
	}
}

// LineRange is a half-open [Start, End) 1-based line range.
type LineRange struct {
	Start, End int
}

func (r LineRange) overlaps(o LineRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// ChangedRegion is one contiguous span of edited lines in a file.
type ChangedRegion struct {
	Range      LineRange
	ChangeType ChangeType
	Content    string
}

// AffectedNode names a graph node whose source range overlaps a
// ChangedRegion, and whether it needs reparsing or just housekeeping
// (e.g. a node fully inside a deleted region needs removal, not reparse).
type AffectedNode struct {
	NodeID       ids.NodeId
	NodeType     graph.NodeType
	NeedsReparse bool
}

// FileEvent describes one observed file mutation, as carried over the
// event bus and fed into the debouncer.
type FileEvent struct {
	Path     string
	Content  string
	Deleted  bool
	Language string
}

// ParseResult is what a Backend produces for a file's full content.
type ParseResult struct {
	Nodes []*graph.CodeNode
	Edges []*graph.Edge
}
