package integrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/vector"
)

// Integrator keeps a vector.Store synchronized with a graph.Graph: it
// embeds node content, skips nodes whose embedding-relevant content
// hasn't changed since the last index, and resolves vector search hits
// back into graph nodes.
type Integrator struct {
	g         *graph.Graph
	vectors   *vector.Store
	embedder  Embedder
	extractor SnippetExtractor

	sigMu sync.RWMutex
	sigs  map[ids.NodeId]uint64
}

// New wires a graph, vector store, and embedder into an Integrator.
func New(g *graph.Graph, vectors *vector.Store, embedder Embedder) *Integrator {
	return &Integrator{
		g:         g,
		vectors:   vectors,
		embedder:  embedder,
		extractor: DefaultSnippetExtractor(),
		sigs:      make(map[ids.NodeId]uint64),
	}
}

// WithExtractor overrides the default snippet extraction window.
func (it *Integrator) WithExtractor(e SnippetExtractor) *Integrator {
	it.extractor = e
	return it
}

// signature hashes the embedding-relevant fields of a node plus its
// extracted snippet text, so a content-only change (rename, file edit)
// invalidates the cache while an unrelated metadata update does not.
func (it *Integrator) signature(n *graph.CodeNode, snippet string) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s", n.ID.String(), n.Name, n.NodeType, n.Language, n.Location.FilePath, snippet)
	return h.Sum64()
}

// IndexNodes embeds and stores every node in nodes whose signature has
// changed since the last call, returning how many were (re)indexed.
func (it *Integrator) IndexNodes(ctx context.Context, nodes []*graph.CodeNode) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}

	type prepared struct {
		node    *graph.CodeNode
		snippet string
		sig     uint64
	}
	changed := make([]prepared, 0, len(nodes))

	it.sigMu.RLock()
	for _, n := range nodes {
		snippet := it.extractor.Extract(n)
		sig := it.signature(n, snippet)
		if prev, ok := it.sigs[n.ID]; ok && prev == sig {
			continue
		}
		changed = append(changed, prepared{node: n, snippet: snippet, sig: sig})
	}
	it.sigMu.RUnlock()

	if len(changed) == 0 {
		return 0, nil
	}

	texts := make([]string, len(changed))
	for i, c := range changed {
		texts[i] = nodeText(c.node, c.snippet)
	}
	embeddings, err := it.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, coderr.New(coderr.KindStorageIo, "integrator.IndexNodes", err)
	}
	if len(embeddings) != len(changed) {
		return 0, coderr.New(coderr.KindStorageIo, "integrator.IndexNodes", fmt.Errorf("embedding batch size mismatch: got %d, want %d", len(embeddings), len(changed)))
	}

	for i, c := range changed {
		if err := it.vectors.Add(c.node.ID, embeddings[i], map[string]string{"node_type": string(c.node.NodeType)}); err != nil {
			return i, err
		}
	}

	it.sigMu.Lock()
	for _, c := range changed {
		it.sigs[c.node.ID] = c.sig
	}
	it.sigMu.Unlock()

	return len(changed), nil
}

// SyncChanges indexes created/modified nodes and drops cached signatures
// and vectors for deleted ones, returning (indexed, removed) counts.
func (it *Integrator) SyncChanges(ctx context.Context, createdOrModified []*graph.CodeNode, deleted []ids.NodeId) (int, int, error) {
	added, err := it.IndexNodes(ctx, createdOrModified)
	if err != nil {
		return added, 0, err
	}

	it.sigMu.Lock()
	for _, id := range deleted {
		delete(it.sigs, id)
	}
	it.sigMu.Unlock()

	removed := 0
	for _, id := range deleted {
		if err := it.vectors.Remove(id); err != nil && coderr.KindOf(err) != coderr.KindUnknownId {
			return added, removed, err
		}
		removed++
	}
	return added, removed, nil
}

// SemanticSearchText embeds query and resolves the nearest graph nodes.
func (it *Integrator) SemanticSearchText(ctx context.Context, query string, limit int) ([]*graph.CodeNode, error) {
	qvec, err := it.embedder.Embed(ctx, composeTextForQuery(query))
	if err != nil {
		return nil, coderr.New(coderr.KindStorageIo, "integrator.SemanticSearchText", err)
	}
	return it.SemanticSearchEmbedding(qvec, limit)
}

// SemanticSearchEmbedding searches the vector index directly and resolves
// hits back into live graph nodes, deduping and stopping once limit nodes
// are found. Hits whose node was since removed from the graph are
// dropped rather than surfaced as broken results.
func (it *Integrator) SemanticSearchEmbedding(queryVec []float32, limit int) ([]*graph.CodeNode, error) {
	if len(queryVec) != it.embedder.Dimension() {
		return nil, coderr.New(coderr.KindDimensionMismatch, "integrator.SemanticSearchEmbedding",
			fmt.Errorf("query vector dim %d != embedder dim %d", len(queryVec), it.embedder.Dimension()))
	}

	overfetch := limit*3 + 8
	hits, err := it.vectors.Search(queryVec, overfetch)
	if err != nil {
		return nil, err
	}

	seen := make(map[ids.NodeId]bool, len(hits))
	out := make([]*graph.CodeNode, 0, limit)
	for _, h := range hits {
		if seen[h.NodeID] {
			continue
		}
		seen[h.NodeID] = true
		n, err := it.g.GetNode(h.NodeID)
		if err != nil {
			if coderr.KindOf(err) == coderr.KindUnknownId {
				continue
			}
			return nil, err
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
