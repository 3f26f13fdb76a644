package graph

import (
	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// UpdateStrategy selects how a selective update reconciles a region's old
// node set against a newly parsed replacement set.
type UpdateStrategy int

const (
	Replace UpdateStrategy = iota
	Merge
	DiffOnly
	Custom
)

// SelectiveUpdate applies newNodes in place of oldIDs using strategy. A
// Custom strategy delegates entirely to customFn, which receives the old
// and new sets and performs its own Add/Update/Remove calls.
func (g *Graph) SelectiveUpdate(oldIDs []ids.NodeId, newNodes []*CodeNode, strategy UpdateStrategy, similarityThreshold float64, customFn func(old []ids.NodeId, new []*CodeNode) error) error {
	switch strategy {
	case Replace:
		return g.replaceUpdate(oldIDs, newNodes)
	case Merge:
		return g.mergeUpdate(oldIDs, newNodes, similarityThreshold)
	case DiffOnly:
		return g.diffOnlyUpdate(oldIDs, newNodes)
	case Custom:
		if customFn == nil {
			return nil
		}
		return customFn(oldIDs, newNodes)
	default:
		return nil
	}
}

func (g *Graph) replaceUpdate(oldIDs []ids.NodeId, newNodes []*CodeNode) error {
	for _, id := range oldIDs {
		if err := g.RemoveNode(id); err != nil && !isUnknownID(err) {
			return err
		}
	}
	for _, n := range newNodes {
		if err := g.AddNode(n); err != nil {
			return err
		}
	}
	return nil
}

// mergeUpdate matches old and new sets by NodeId. Nodes present in both
// with similarity below threshold are updated in place; old-only nodes are
// deleted; new-only nodes are added.
func (g *Graph) mergeUpdate(oldIDs []ids.NodeId, newNodes []*CodeNode, threshold float64) error {
	oldSet := make(map[ids.NodeId]bool, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = true
	}
	newSet := make(map[ids.NodeId]*CodeNode, len(newNodes))
	for _, n := range newNodes {
		newSet[n.ID] = n
	}

	for id, n := range newSet {
		if !oldSet[id] {
			if err := g.AddNode(n); err != nil {
				return err
			}
			continue
		}
		existing, err := g.GetNode(id)
		if err != nil {
			return err
		}
		if nodeSimilarity(existing, n) < threshold {
			name := n.Name
			content := n.Content
			if err := g.UpdateNode(id, Patch{
				Name:       &name,
				Content:    &content,
				Metadata:   n.Metadata,
				Embedding:  n.Embedding,
				Complexity: n.Complexity,
			}); err != nil {
				return err
			}
		}
	}
	for id := range oldSet {
		if _, stillPresent := newSet[id]; !stillPresent {
			if err := g.RemoveNode(id); err != nil && !isUnknownID(err) {
				return err
			}
		}
	}
	return nil
}

// nodeSimilarity is a coarse [0,1] similarity used by Merge's threshold
// comparison: 1.0 when name, type, and content are all identical, 0.0 when
// all differ, interpolated in between.
func nodeSimilarity(a, b *CodeNode) float64 {
	matches := 0
	total := 3
	if a.Name == b.Name {
		matches++
	}
	if a.NodeType == b.NodeType {
		matches++
	}
	if a.Content == b.Content {
		matches++
	}
	return float64(matches) / float64(total)
}

func isUnknownID(err error) bool {
	return coderr.KindOf(err) == coderr.KindUnknownId
}

// diffKey is the (name, type, content) tuple LCS is computed over for the
// DiffOnly strategy.
type diffKey struct {
	name, nodeType, content string
}

func keyOf(n *CodeNode) diffKey {
	return diffKey{name: n.Name, nodeType: string(n.NodeType), content: n.Content}
}

// diffOnlyUpdate computes the LCS of (name, type, content) tuples
// between the old and new node sequences and applies only the edit set:
// nodes outside the LCS in the old sequence are removed, nodes outside the
// LCS in the new sequence are added.
func (g *Graph) diffOnlyUpdate(oldIDs []ids.NodeId, newNodes []*CodeNode) error {
	oldNodes := make([]*CodeNode, 0, len(oldIDs))
	for _, id := range oldIDs {
		n, err := g.GetNode(id)
		if err != nil {
			continue
		}
		oldNodes = append(oldNodes, n)
	}

	keptOld, keptNew := lcsMatch(oldNodes, newNodes)

	for _, n := range oldNodes {
		if !keptOld[n.ID] {
			if err := g.RemoveNode(n.ID); err != nil && !isUnknownID(err) {
				return err
			}
		}
	}
	for _, n := range newNodes {
		if !keptNew[n.ID] {
			if err := g.AddNode(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// lcsMatch returns, for each side, the set of node ids that participate in
// the longest common subsequence of (name,type,content) tuples — the part
// of the region the edit should leave untouched.
func lcsMatch(oldNodes, newNodes []*CodeNode) (keptOld, keptNew map[ids.NodeId]bool) {
	n, m := len(oldNodes), len(newNodes)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if keyOf(oldNodes[i-1]) == keyOf(newNodes[j-1]) {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	keptOld = map[ids.NodeId]bool{}
	keptNew = map[ids.NodeId]bool{}
	i, j := n, m
	for i > 0 && j > 0 {
		if keyOf(oldNodes[i-1]) == keyOf(newNodes[j-1]) {
			keptOld[oldNodes[i-1].ID] = true
			keptNew[newNodes[j-1].ID] = true
			i--
			j--
		} else if dp[i-1][j] >= dp[i][j-1] {
			i--
		} else {
			j--
		}
	}
	return keptOld, keptNew
}
