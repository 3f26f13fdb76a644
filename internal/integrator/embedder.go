// Package integrator binds the property graph to the vector store:
// it turns CodeNodes into embeddings, keeps the vector index in sync with
// graph mutations via a content signature cache, and answers semantic
// search queries by resolving hits back into graph nodes.
package integrator

import (
	"context"
	"math"
	"runtime"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/pkg/fn"
)

// Embedder produces vector embeddings for code nodes and free-text
// queries. Implementations live in embedclient (gRPC) and ollama (HTTP);
// HashEmbedder below is the dependency-free fallback used in tests and
// when no external embedding service is configured.
type Embedder interface {
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// HashEmbedder is a deterministic, dependency-free embedder: it projects
// text into a fixed-dimension unit vector via a simple multiplicative
// hash, good enough for tests and offline environments but not meant for
// real semantic recall.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of dimension dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if len(text) > 4096 {
		text = text[:4096]
	}
	var hash uint32 = 5381
	for i := 0; i < len(text); i++ {
		hash = hash*33 + uint32(text[i])
	}
	state := hash
	v := make([]float32, h.dim)
	for i := range v {
		state = state*1103515245 + 12345
		v[i] = (float32(state)/float32(math.MaxUint32) - 0.5) * 2
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}

// EmbedBatch hashes each text independently, so unlike the HTTP/gRPC
// backends it has no request to serialize against; fn.ParMap spreads the
// per-text hashing across GOMAXPROCS workers instead of walking the batch
// one text at a time.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := fn.ParMap(texts, runtime.GOMAXPROCS(0), func(t string) []float32 {
		v, _ := h.Embed(ctx, t)
		return v
	})
	return out, nil
}

// nodeText composes the canonical embedding input for a node: language,
// node type, name, and body, the same ordering the fallback projection
// and the real backends both hash/embed.
func nodeText(n *graph.CodeNode, body string) string {
	lang := n.Language
	if lang == "" {
		lang = "unknown"
	}
	out := lang + " " + string(n.NodeType) + " " + n.Name + "\n"
	if body != "" {
		out += body
	}
	if len(out) > 256*1024 {
		out = out[:256*1024]
	}
	return out
}
