// Package graph implements the property graph engine: an in-process
// node/edge store addressed by opaque ids, with traversal, analytics, and
// selective-update operations driven by the incremental parser.
package graph

import (
	"time"

	"github.com/codegraph-io/codegraph/internal/ids"
)

// NodeType classifies a CodeNode. Other carries a free-form tag for
// language constructs the core doesn't model explicitly.
type NodeType string

const (
	NodeFunction  NodeType = "function"
	NodeStruct    NodeType = "struct"
	NodeTrait     NodeType = "trait"
	NodeClass     NodeType = "class"
	NodeInterface NodeType = "interface"
	NodeModule    NodeType = "module"
	NodeImport    NodeType = "import"
	NodeVariable  NodeType = "variable"
	NodeOther     NodeType = "other"
)

// EdgeType classifies the relationship an Edge represents.
type EdgeType string

const (
	EdgeCalls      EdgeType = "calls"
	EdgeImports    EdgeType = "imports"
	EdgeUses       EdgeType = "uses"
	EdgeExtends    EdgeType = "extends"
	EdgeImplements EdgeType = "implements"
	EdgeReferences EdgeType = "references"
	EdgeContains   EdgeType = "contains"
	EdgeDefines    EdgeType = "defines"
)

// MaxContentBytes bounds CodeNode.Content.
const MaxContentBytes = 256 * 1024

// Location pinpoints a node's source-text span.
type Location struct {
	FilePath string
	StartLine int
	StartCol  int
	EndLine   int // 0 if unknown
	EndCol    int // 0 if unknown
}

// CodeNode is one AST-derived entity: a function, type, module, etc.
type CodeNode struct {
	ID       ids.NodeId
	Name     string
	NodeType NodeType
	Language string
	Location Location

	// Content is an optional bounded text snippet; see MaxContentBytes.
	Content string

	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Embedding, if present, must have length equal to the integrator's
	// configured dimension D (enforced by internal/integrator, not here).
	Embedding  []float32
	Complexity *float64
}

// ContentHash is a stand-in identity for three-way merge and selective
// update comparisons; the real hash is computed by internal/cas over a
// canonical encoding of the node, this just names the field the rest of
// the core expects a node to expose.
type ContentHash = string

// Edge connects two nodes, or a node to an as-yet-unresolved symbol name.
type Edge struct {
	ID   ids.EdgeId
	From ids.NodeId

	// Exactly one of To/ToSymbol is meaningful: To when Resolved, ToSymbol
	// (a qualified name) otherwise.
	To       ids.NodeId
	ToSymbol string
	Resolved bool

	Type     EdgeType
	Weight   float32
	Metadata map[string]string
}

// Patch describes a partial update to a CodeNode; nil fields are left
// unchanged.
type Patch struct {
	Name       *string
	Content    *string
	Metadata   map[string]string
	Embedding  []float32
	Complexity *float64
}
