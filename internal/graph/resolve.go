package graph

import "github.com/codegraph-io/codegraph/internal/ids"

// ResolveEdges attempts to bind every unresolved edge's symbol name to a
// NodeId using the qualified-name index. Scope and language disambiguation
// is left to the caller via scopeHint, since the graph itself only
// maintains a flat qualified-name index.
func (g *Graph) ResolveEdges(scopeHint func(symbol string, candidates []ids.NodeId) (ids.NodeId, bool)) int {
	var resolved int
	for _, e := range g.allEdgesSnapshot() {
		if e.Resolved {
			continue
		}
		candidates := g.NodeByName(e.ToSymbol)
		if len(candidates) == 0 {
			continue
		}
		target := candidates[0]
		if len(candidates) > 1 {
			if scopeHint == nil {
				continue
			}
			chosen, ok := scopeHint(e.ToSymbol, candidates)
			if !ok {
				continue
			}
			target = chosen
		}
		if g.bindEdge(e.ID, target) {
			resolved++
		}
	}
	return resolved
}

func (g *Graph) allEdgesSnapshot() []*Edge {
	g.edgesMu.RLock()
	defer g.edgesMu.RUnlock()
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

func (g *Graph) bindEdge(id ids.EdgeId, target ids.NodeId) bool {
	g.edgesMu.Lock()
	e, ok := g.edges[id]
	g.edgesMu.Unlock()
	if !ok || e.Resolved {
		return false
	}

	toShard := g.shardFor(target)
	toShard.mu.Lock()
	if _, exists := toShard.nodes[target]; !exists {
		toShard.mu.Unlock()
		return false
	}
	e.To = target
	e.Resolved = true
	toShard.inEdges[target] = append(toShard.inEdges[target], e)
	toShard.mu.Unlock()
	return true
}
