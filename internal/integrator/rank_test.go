package integrator

import (
	"context"
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
)

func TestRankOrdersBySemanticSimilarity(t *testing.T) {
	r := NewRanker(DefaultRankingConfig())
	query := []float32{1, 0, 0}
	close := &graph.CodeNode{ID: ids.NewNode(), Name: "Close", NodeType: graph.NodeFunction, Embedding: []float32{0.99, 0.1, 0}, UpdatedAt: time.Now()}
	far := &graph.CodeNode{ID: ids.NewNode(), Name: "Far", NodeType: graph.NodeFunction, Embedding: []float32{0, 0, 1}, UpdatedAt: time.Now()}

	ranked := r.Rank(context.Background(), []*graph.CodeNode{far, close}, "close", query)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Node.ID != close.ID {
		t.Fatalf("expected the semantically closer node to rank first, got %s", ranked[0].Node.Name)
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Fatalf("expected ranks 1,2 in order, got %d,%d", ranked[0].Rank, ranked[1].Rank)
	}
}

func TestTypeBoostAffectsScore(t *testing.T) {
	r := NewRanker(DefaultRankingConfig())
	fn := &graph.CodeNode{NodeType: graph.NodeFunction, Embedding: []float32{1, 0}}
	variable := &graph.CodeNode{NodeType: graph.NodeVariable, Embedding: []float32{1, 0}}

	b1 := r.scoreBreakdown(fn, "", []float32{1, 0})
	b2 := r.scoreBreakdown(variable, "", []float32{1, 0})
	if r.finalScore(b1) <= r.finalScore(b2) {
		t.Fatalf("expected function boost (%v) to outscore variable boost (%v)", b1.TypeBoost, b2.TypeBoost)
	}
}

func TestKeywordScoreCountsOverlap(t *testing.T) {
	r := NewRanker(DefaultRankingConfig())
	n := &graph.CodeNode{Name: "ParseRequest", Content: "parses an incoming http request body"}
	score := r.keywordScore(n, "parse request body")
	if score <= 0 {
		t.Fatalf("expected positive keyword score, got %v", score)
	}
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	if s := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Fatalf("expected 0 for orthogonal vectors, got %v", s)
	}
}
