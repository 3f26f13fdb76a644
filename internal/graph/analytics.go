package graph

import (
	"sort"

	"github.com/codegraph-io/codegraph/internal/ids"
)

// Coupling reports afferent/efferent coupling and instability for a node.
type Coupling struct {
	Ca int     // afferent: distinct incoming sources
	Ce int     // efferent: distinct outgoing targets
	I  float64 // instability = Ce/(Ce+Ca), 0 if both are 0
}

// Coupling computes the coupling metrics for id, counting only resolved
// edges (unresolved symbol edges are excluded).
func (g *Graph) Coupling(id ids.NodeId) Coupling {
	inSeen := map[ids.NodeId]bool{}
	for _, e := range g.GetEdgesTo(id) {
		if e.Resolved {
			inSeen[e.From] = true
		}
	}
	outSeen := map[ids.NodeId]bool{}
	for _, e := range g.GetEdgesFrom(id) {
		if e.Resolved {
			outSeen[e.To] = true
		}
	}
	c := Coupling{Ca: len(inSeen), Ce: len(outSeen)}
	if total := c.Ca + c.Ce; total > 0 {
		c.I = float64(c.Ce) / float64(total)
	}
	return c
}

// HubNode pairs a node id with its total degree.
type HubNode struct {
	ID     ids.NodeId
	Degree int
}

// HubNodes returns nodes whose Ca+Ce is at least minDegree, sorted by
// degree descending.
func (g *Graph) HubNodes(minDegree int) []HubNode {
	var out []HubNode
	for _, id := range g.NodeIDs() {
		c := g.Coupling(id)
		deg := c.Ca + c.Ce
		if deg >= minDegree {
			out = append(out, HubNode{ID: id, Degree: deg})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Degree != out[j].Degree {
			return out[i].Degree > out[j].Degree
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// TransitiveDeps returns every node reachable from id by following edges
// of edgeType up to depth hops, cycle-safe via a visited set.
func (g *Graph) TransitiveDeps(id ids.NodeId, edgeType EdgeType, depth int) []ids.NodeId {
	return g.typedBFS(id, edgeType, depth, false)
}

// TransitiveDependents is the reverse of TransitiveDeps: nodes that
// transitively depend on id via edgeType.
func (g *Graph) TransitiveDependents(id ids.NodeId, edgeType EdgeType, depth int) []ids.NodeId {
	return g.typedBFS(id, edgeType, depth, true)
}

func (g *Graph) typedBFS(start ids.NodeId, edgeType EdgeType, depth int, reverse bool) []ids.NodeId {
	visited := map[ids.NodeId]bool{start: true}
	type item struct {
		id    ids.NodeId
		depth int
	}
	queue := []item{{start, 0}}
	var out []ids.NodeId

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depth > 0 && cur.depth >= depth {
			continue
		}
		var edges []*Edge
		if reverse {
			edges = g.GetEdgesTo(cur.id)
		} else {
			edges = g.GetEdgesFrom(cur.id)
		}
		for _, e := range edges {
			if e.Type != edgeType || !e.Resolved {
				continue
			}
			next := e.To
			if reverse {
				next = e.From
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, item{next, cur.depth + 1})
		}
	}
	return out
}

// TraceCallChain returns every node reachable from id by following Calls
// edges up to max_depth hops, as the set of nodes on any such path.
func (g *Graph) TraceCallChain(id ids.NodeId, maxDepth int) []ids.NodeId {
	// best holds the shallowest depth each node has been reached at, so a
	// node first found along a long path is explored again from a shorter
	// one and its callees within maxDepth are not missed.
	best := map[ids.NodeId]int{id: 0}
	var out []ids.NodeId

	var visit func(cur ids.NodeId, depth int)
	visit = func(cur ids.NodeId, depth int) {
		if maxDepth > 0 && depth >= maxDepth {
			return
		}
		for _, e := range g.GetEdgesFrom(cur) {
			if e.Type != EdgeCalls || !e.Resolved {
				continue
			}
			d, seen := best[e.To]
			if seen && d <= depth+1 {
				continue
			}
			if !seen {
				out = append(out, e.To)
			}
			best[e.To] = depth + 1
			visit(e.To, depth+1)
		}
	}
	visit(id, 0)
	return out
}
