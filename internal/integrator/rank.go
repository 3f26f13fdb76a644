package integrator

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/pkg/fn"
)

// RankingConfig weights the components that make up a RankedResult's
// final score.
type RankingConfig struct {
	SemanticWeight    float64
	KeywordWeight     float64
	RecencyWeight     float64
	PopularityWeight  float64
	TypeBoostFactors  map[graph.NodeType]float64
	EnableDiversity   bool
	MaxSimilarResults int
}

// DefaultRankingConfig mirrors the weighting used by the reference
// retrieval ranker: semantic similarity dominates, keyword overlap is a
// strong secondary signal, recency and popularity are light tie-breakers.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		SemanticWeight:   0.6,
		KeywordWeight:    0.3,
		RecencyWeight:    0.05,
		PopularityWeight: 0.05,
		TypeBoostFactors: map[graph.NodeType]float64{
			graph.NodeFunction:  1.2,
			graph.NodeStruct:    1.1,
			graph.NodeTrait:     1.1,
			graph.NodeInterface: 1.1,
			graph.NodeClass:     1.05,
			graph.NodeModule:    0.9,
			graph.NodeVariable:  0.8,
		},
		EnableDiversity:   true,
		MaxSimilarResults: 3,
	}
}

// ScoreBreakdown records how a RankedResult's final score was composed,
// for callers that want to explain a ranking rather than just consume it.
type ScoreBreakdown struct {
	SemanticScore    float64
	KeywordScore     float64
	RecencyScore     float64
	PopularityScore  float64
	TypeBoost        float64
	DiversityPenalty float64
}

// RankedResult pairs a candidate node with its computed score.
type RankedResult struct {
	Node      *graph.CodeNode
	Score     float64
	Breakdown ScoreBreakdown
	Rank      int
}

// Ranker re-scores semantic search candidates using semantic similarity,
// keyword overlap, recency, popularity, and per-type boosts, with an
// optional diversity pass that penalizes near-duplicate embeddings.
type Ranker struct {
	cfg RankingConfig

	mu         sync.RWMutex
	popularity map[string]float64 // by node name, e.g. from call-graph fan-in
}

// NewRanker builds a Ranker with cfg.
func NewRanker(cfg RankingConfig) *Ranker {
	return &Ranker{cfg: cfg, popularity: make(map[string]float64)}
}

// SetPopularity records an external popularity signal (e.g. normalized
// fan-in from graph analytics) for a node name.
func (r *Ranker) SetPopularity(name string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.popularity[name] = score
}

// Rank scores and sorts candidates against query/queryEmbedding, highest
// score first, assigning 1-based Rank fields in the returned order.
func (r *Ranker) Rank(ctx context.Context, candidates []*graph.CodeNode, query string, queryEmbedding []float32) []RankedResult {
	if len(candidates) == 0 {
		return nil
	}

	out := make([]RankedResult, len(candidates))
	for i, n := range candidates {
		b := r.scoreBreakdown(n, query, queryEmbedding)
		out[i] = RankedResult{Node: n, Breakdown: b, Score: r.finalScore(b)}
	}

	if r.cfg.EnableDiversity {
		r.applyDiversityPenalty(out)
		for i := range out {
			out[i].Score = r.finalScore(out[i].Breakdown)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (r *Ranker) finalScore(b ScoreBreakdown) float64 {
	base := b.SemanticScore*r.cfg.SemanticWeight +
		b.KeywordScore*r.cfg.KeywordWeight +
		b.RecencyScore*r.cfg.RecencyWeight +
		b.PopularityScore*r.cfg.PopularityWeight
	boosted := base * b.TypeBoost
	return boosted * (1 - b.DiversityPenalty)
}

func (r *Ranker) scoreBreakdown(n *graph.CodeNode, query string, queryEmbedding []float32) ScoreBreakdown {
	return ScoreBreakdown{
		SemanticScore:   r.semanticScore(n, queryEmbedding),
		KeywordScore:    r.keywordScore(n, query),
		RecencyScore:    r.recencyScore(n),
		PopularityScore: r.popularityScore(n),
		TypeBoost:       r.typeBoost(n),
	}
}

func (r *Ranker) semanticScore(n *graph.CodeNode, queryEmbedding []float32) float64 {
	if len(n.Embedding) == 0 || len(queryEmbedding) != len(n.Embedding) {
		return 0
	}
	return math.Max(cosineSimilarity(queryEmbedding, n.Embedding), 0)
}

func (r *Ranker) keywordScore(n *graph.CodeNode, query string) float64 {
	keywords := keywordsOf(query)
	if len(keywords) == 0 {
		return 0
	}
	text := strings.ToLower(n.Name + " " + n.Content)
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

func (r *Ranker) recencyScore(n *graph.CodeNode) float64 {
	if n.UpdatedAt.IsZero() {
		return 0
	}
	ageDays := time.Since(n.UpdatedAt).Hours() / 24
	const maxAge = 30.0
	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays > maxAge {
		ageDays = maxAge
	}
	return 1 - ageDays/maxAge
}

func (r *Ranker) popularityScore(n *graph.CodeNode) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.popularity[n.Name]
}

func (r *Ranker) typeBoost(n *graph.CodeNode) float64 {
	if b, ok := r.cfg.TypeBoostFactors[n.NodeType]; ok {
		return b
	}
	return 1.0
}

// applyDiversityPenalty down-weights results whose embedding is highly
// similar to an earlier, higher-scoring result, capping how many
// near-duplicates of any one result can dominate the top of the list.
func (r *Ranker) applyDiversityPenalty(results []RankedResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	kept := make([]*graph.CodeNode, 0, len(results))
	for i := range results {
		similar := 0
		for _, k := range kept {
			if cosineSimilarity(results[i].Node.Embedding, k.Embedding) > 0.95 {
				similar++
			}
		}
		if similar >= r.cfg.MaxSimilarResults {
			results[i].Breakdown.DiversityPenalty = 0.5
		}
		kept = append(kept, results[i].Node)
	}
}

func keywordsOf(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	return fn.FilterMap(fields, func(f string) (string, bool) {
		f = strings.Trim(f, ".,;:!?()[]{}\"'")
		return f, len(f) > 2
	})
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
