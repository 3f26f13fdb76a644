package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// shardCount partitions the node arena so that unrelated nodes never
// contend on the same lock.
const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	nodes    map[ids.NodeId]*CodeNode
	outEdges map[ids.NodeId][]*Edge
	inEdges  map[ids.NodeId][]*Edge
}

// Graph is the in-process property graph store. All node/edge content
// lives in an arena addressed by NodeId; edges hold ids, never pointers,
// so cycles never leak into Go's GC graph as reference cycles.
type Graph struct {
	shards [shardCount]*shard

	edgesMu sync.RWMutex
	edges   map[ids.EdgeId]*Edge

	nameMu sync.RWMutex
	// byName maps a qualified symbol name to the node(s) defining it, used
	// by the edge resolver and by C8's semantic-impact walk.
	byName map[string][]ids.NodeId
}

// New creates an empty Graph.
func New() *Graph {
	g := &Graph{
		edges:  make(map[ids.EdgeId]*Edge),
		byName: make(map[string][]ids.NodeId),
	}
	for i := range g.shards {
		g.shards[i] = &shard{
			nodes:    make(map[ids.NodeId]*CodeNode),
			outEdges: make(map[ids.NodeId][]*Edge),
			inEdges:  make(map[ids.NodeId][]*Edge),
		}
	}
	return g
}

func shardIndex(id ids.NodeId) int {
	return int(xxhash.Sum64(id.Bytes()) % shardCount)
}

func (g *Graph) shardFor(id ids.NodeId) *shard {
	return g.shards[shardIndex(id)]
}

// AddNode inserts node, failing if its id already exists.
func (g *Graph) AddNode(node *CodeNode) error {
	if len(node.Content) > MaxContentBytes {
		return coderr.New(coderr.KindInvalidArgument, "graph.AddNode", fmt.Errorf("content exceeds %d bytes", MaxContentBytes))
	}
	sh := g.shardFor(node.ID)
	sh.mu.Lock()
	if _, exists := sh.nodes[node.ID]; exists {
		sh.mu.Unlock()
		return coderr.New(coderr.KindInvalidArgument, "graph.AddNode", fmt.Errorf("node %s already exists", node.ID))
	}
	now := time.Now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	sh.nodes[node.ID] = node
	sh.mu.Unlock()

	if node.Name != "" {
		g.nameMu.Lock()
		g.byName[node.Name] = append(g.byName[node.Name], node.ID)
		g.nameMu.Unlock()
	}
	return nil
}

// GetNode returns a copy-free pointer to the stored node; callers must not
// mutate it in place — use UpdateNode.
func (g *Graph) GetNode(id ids.NodeId) (*CodeNode, error) {
	sh := g.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	n, ok := sh.nodes[id]
	if !ok {
		return nil, coderr.New(coderr.KindUnknownId, "graph.GetNode", fmt.Errorf("node %s not found", id))
	}
	return n, nil
}

// UpdateNode applies patch to the node in place, bumping UpdatedAt.
func (g *Graph) UpdateNode(id ids.NodeId, patch Patch) error {
	sh := g.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, ok := sh.nodes[id]
	if !ok {
		return coderr.New(coderr.KindUnknownId, "graph.UpdateNode", fmt.Errorf("node %s not found", id))
	}
	if patch.Name != nil {
		n.Name = *patch.Name
	}
	if patch.Content != nil {
		if len(*patch.Content) > MaxContentBytes {
			return coderr.New(coderr.KindInvalidArgument, "graph.UpdateNode", fmt.Errorf("content exceeds %d bytes", MaxContentBytes))
		}
		n.Content = *patch.Content
	}
	if patch.Metadata != nil {
		n.Metadata = patch.Metadata
	}
	if patch.Embedding != nil {
		n.Embedding = patch.Embedding
	}
	if patch.Complexity != nil {
		n.Complexity = patch.Complexity
	}
	n.UpdatedAt = time.Now()
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id ids.NodeId) error {
	sh := g.shardFor(id)
	sh.mu.Lock()
	if _, ok := sh.nodes[id]; !ok {
		sh.mu.Unlock()
		return coderr.New(coderr.KindUnknownId, "graph.RemoveNode", fmt.Errorf("node %s not found", id))
	}
	out := append([]*Edge(nil), sh.outEdges[id]...)
	in := append([]*Edge(nil), sh.inEdges[id]...)
	delete(sh.nodes, id)
	delete(sh.outEdges, id)
	delete(sh.inEdges, id)
	sh.mu.Unlock()

	for _, e := range out {
		_ = g.RemoveEdge(e.ID)
	}
	for _, e := range in {
		_ = g.RemoveEdge(e.ID)
	}
	return nil
}

// AddEdge inserts an edge, indexing it on both endpoints' shards (locked
// in ascending shard-index order to avoid ABBA deadlocks between
// concurrent AddEdge calls with swapped endpoints).
func (g *Graph) AddEdge(e *Edge) error {
	fromIdx := shardIndex(e.From)
	var toIdx int
	if e.Resolved {
		toIdx = shardIndex(e.To)
	} else {
		toIdx = fromIdx
	}

	first, second := fromIdx, toIdx
	swapped := false
	if first > second {
		first, second = second, first
		swapped = true
	}
	g.shards[first].mu.Lock()
	if second != first {
		g.shards[second].mu.Lock()
	}
	defer func() {
		if second != first {
			g.shards[second].mu.Unlock()
		}
		g.shards[first].mu.Unlock()
	}()
	_ = swapped

	fromShard := g.shards[fromIdx]
	if _, ok := fromShard.nodes[e.From]; !ok {
		return coderr.New(coderr.KindUnknownId, "graph.AddEdge", fmt.Errorf("source node %s not found", e.From))
	}
	if e.Resolved {
		toShard := g.shards[toIdx]
		if _, ok := toShard.nodes[e.To]; !ok {
			return coderr.New(coderr.KindUnknownId, "graph.AddEdge", fmt.Errorf("target node %s not found", e.To))
		}
	}

	g.edgesMu.Lock()
	g.edges[e.ID] = e
	g.edgesMu.Unlock()

	fromShard.outEdges[e.From] = append(fromShard.outEdges[e.From], e)
	if e.Resolved {
		g.shards[toIdx].inEdges[e.To] = append(g.shards[toIdx].inEdges[e.To], e)
	}
	return nil
}

// RemoveEdge deletes an edge by id.
func (g *Graph) RemoveEdge(id ids.EdgeId) error {
	g.edgesMu.Lock()
	e, ok := g.edges[id]
	if !ok {
		g.edgesMu.Unlock()
		return coderr.New(coderr.KindUnknownId, "graph.RemoveEdge", fmt.Errorf("edge %s not found", id))
	}
	delete(g.edges, id)
	g.edgesMu.Unlock()

	fromShard := g.shardFor(e.From)
	fromShard.mu.Lock()
	fromShard.outEdges[e.From] = removeEdge(fromShard.outEdges[e.From], id)
	fromShard.mu.Unlock()

	if e.Resolved {
		toShard := g.shardFor(e.To)
		toShard.mu.Lock()
		toShard.inEdges[e.To] = removeEdge(toShard.inEdges[e.To], id)
		toShard.mu.Unlock()
	}
	return nil
}

func removeEdge(edges []*Edge, id ids.EdgeId) []*Edge {
	out := edges[:0]
	for _, e := range edges {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// GetEdgesFrom returns outbound edges of id.
func (g *Graph) GetEdgesFrom(id ids.NodeId) []*Edge {
	sh := g.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]*Edge(nil), sh.outEdges[id]...)
}

// GetEdgesTo returns inbound edges of id (resolved edges only).
func (g *Graph) GetEdgesTo(id ids.NodeId) []*Edge {
	sh := g.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]*Edge(nil), sh.inEdges[id]...)
}

// Neighbors returns the distinct resolved outbound targets of id.
func (g *Graph) Neighbors(id ids.NodeId) []ids.NodeId {
	edges := g.GetEdgesFrom(id)
	seen := make(map[ids.NodeId]bool, len(edges))
	var out []ids.NodeId
	for _, e := range edges {
		if !e.Resolved || seen[e.To] {
			continue
		}
		seen[e.To] = true
		out = append(out, e.To)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// NodeByName returns the node ids registered under a qualified symbol name.
func (g *Graph) NodeByName(name string) []ids.NodeId {
	g.nameMu.RLock()
	defer g.nameMu.RUnlock()
	return append([]ids.NodeId(nil), g.byName[name]...)
}

// NodeIDs returns every node id currently stored, for snapshot export.
func (g *Graph) NodeIDs() []ids.NodeId {
	var out []ids.NodeId
	for _, sh := range g.shards {
		sh.mu.RLock()
		for id := range sh.nodes {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	return out
}
