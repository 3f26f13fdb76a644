package parser

import (
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/pkg/fn"
)

// fullReparseNodeTypes are node kinds whose presence in an affected set
// means the edit touched file-level structure, not just a leaf
// declaration — cheap text-range diffing can't be trusted to have found
// every consequence of that, so the caller should reparse from scratch.
var fullReparseNodeTypes = map[graph.NodeType]bool{
	graph.NodeModule: true,
	graph.NodeImport: true,
}

// findAffectedNodes returns every existing node in path whose line range
// overlaps one of regions.
func findAffectedNodes(path string, existing []*graph.CodeNode, regions []ChangedRegion) []AffectedNode {
	var out []AffectedNode
	for _, n := range existing {
		if n.Location.FilePath != path {
			continue
		}
		nodeRange := LineRange{Start: n.Location.StartLine, End: n.Location.EndLine + 1}
		for _, r := range regions {
			if nodeRange.overlaps(r.Range) {
				out = append(out, AffectedNode{
					NodeID:       n.ID,
					NodeType:     n.NodeType,
					NeedsReparse: r.ChangeType != Delete,
				})
				break
			}
		}
	}
	return out
}

// shouldFullReparse applies the same three checks the reference
// incremental parser uses: too many changed regions, too many affected
// nodes, or any affected node being a file-structural one.
func shouldFullReparse(regions []ChangedRegion, affected []AffectedNode) bool {
	const maxRegions = 50
	const maxAffected = 100
	if len(regions) > maxRegions || len(affected) > maxAffected {
		return true
	}
	for _, a := range affected {
		if fullReparseNodeTypes[a.NodeType] {
			return true
		}
	}
	return false
}

func affectedIDs(affected []AffectedNode) []ids.NodeId {
	return fn.Map(affected, func(a AffectedNode) ids.NodeId { return a.NodeID })
}
