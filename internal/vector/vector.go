// Package vector implements the FAISS-style ANN vector store:
// fixed-dimension segments, optional IVF clustering and quantization,
// generation-swap compaction, and CAS-backed persistence.
package vector

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/wal"
)

// IndexKind selects the ANN index structure.
type IndexKind int

const (
	Flat IndexKind = iota
	IVF
)

// Metric selects the distance function; scores are normalized to [0,1]
// regardless of metric.
type Metric int

const (
	MetricL2 Metric = iota
	MetricInnerProduct
)

// Quantization layers an optional compression scheme over raw vectors.
type Quantization int

const (
	QuantNone Quantization = iota
	QuantPQ
	QuantSQ
)

// Config fixes a Store's dimension and index parameters at creation.
type Config struct {
	Dimension  int
	Kind       IndexKind
	Metric     Metric
	NList      int // IVF cluster count
	NProbe     int // IVF clusters searched per query
	TrainingThreshold int

	Quantization Quantization
	PQSubvectors int // m
	PQBits       int // nbits per subvector code
	SQBits       int
	SQSigned     bool
	KeepRaw      bool // retain raw vectors alongside quantized codes

	MaxSegmentBytes     int64
	SimilarityThreshold float64
	TombstoneRatio      float64 // compaction trigger
}

func (c Config) withDefaults() Config {
	if c.NProbe <= 0 {
		c.NProbe = 1
	}
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = 64 << 20
	}
	if c.TombstoneRatio <= 0 {
		c.TombstoneRatio = 0.3
	}
	return c
}

// Result is one ranked hit from Search.
type Result struct {
	NodeID ids.NodeId
	Score  float64
}

// Stats summarizes a Store's current state for observability.
type Stats struct {
	Generation    uint64
	NumSegments   int
	NumVectors    int
	NumTombstoned int
	IsTrained     bool
}

// generation is an immutable, atomically-swapped view of the segment
// list: readers pin one generation and see either the full pre-compaction
// or full post-compaction state, never a mix.
type generation struct {
	id       uint64
	sealed   []*Segment
	open     *Segment
	trained  bool
	training [][]float32 // buffered raw vectors awaiting IVF training
}

// Store is a single logical vector index backed by an ordered segment
// chain.
type Store struct {
	cfg Config

	mu      sync.Mutex // serializes mutation; reads go through current
	current atomic.Pointer[generation]
	nextGen atomic.Uint64
	nextSeg atomic.Uint64

	wal *wal.Log
}

// Option configures a Store.
type Option func(*Store)

// WithWAL wires write-ahead durability for batch mutations.
func WithWAL(l *wal.Log) Option { return func(s *Store) { s.wal = l } }

// New creates an empty Store for the given configuration.
func New(cfg Config, opts ...Option) *Store {
	cfg = cfg.withDefaults()
	s := &Store{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	segID := s.nextSeg.Add(1)
	s.current.Store(&generation{
		id:   s.nextGen.Add(1),
		open: newSegment(segID, cfg.Dimension),
	})
	return s
}

// Add validates and inserts a vector. If the index is IVF and not yet
// trained, vectors accumulate in a training buffer until
// TrainingThreshold is reached, at which point Train runs automatically.
func (s *Store) Add(nodeID ids.NodeId, vec []float32, metadata map[string]string) error {
	if len(vec) != s.cfg.Dimension {
		return coderr.New(coderr.KindDimensionMismatch, "vector.Add", fmt.Errorf("got %d dims, want %d", len(vec), s.cfg.Dimension))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.current.Load()

	if s.cfg.Kind == IVF && !gen.trained {
		next := cloneGeneration(gen)
		next.training = append(next.training, append([]float32(nil), vec...))
		next.open.addRaw(nodeID, vec, metadata)
		if len(next.training) >= s.cfg.TrainingThreshold {
			if err := s.trainLocked(next); err != nil {
				return err
			}
		}
		s.publish(next)
		return s.walAppend(nodeID, "add")
	}

	if gen.open.sizeBytes()+int64(len(vec))*4 > s.cfg.MaxSegmentBytes {
		s.rotateLocked(gen)
		gen = s.current.Load()
	}

	next := cloneGeneration(gen)
	next.open.addRaw(nodeID, vec, metadata)
	if s.cfg.Quantization != QuantNone && next.trained {
		next.open.encode(s.cfg)
	}
	s.publish(next)
	return s.walAppend(nodeID, "add")
}

func (s *Store) walAppend(nodeID ids.NodeId, op string) error {
	if s.wal == nil {
		return nil
	}
	payload := []byte(fmt.Sprintf(`{"node_id":%q,"op":%q}`, nodeID.String(), op))
	if _, err := s.wal.Append(ids.NilTransaction, wal.KindVectorUpsert, payload); err != nil {
		return err
	}
	return nil
}

func cloneGeneration(g *generation) *generation {
	ng := &generation{
		sealed:  append([]*Segment(nil), g.sealed...),
		open:    g.open.clone(),
		trained: g.trained,
		training: g.training,
	}
	return ng
}

func (s *Store) publish(next *generation) {
	next.id = s.nextGen.Add(1)
	s.current.Store(next)
}

func (s *Store) rotateLocked(gen *generation) {
	next := cloneGeneration(gen)
	next.open.IsSealed = true
	next.sealed = append(next.sealed, next.open)
	next.open = newSegment(s.nextSeg.Add(1), s.cfg.Dimension)
	s.publish(next)
}

// Train runs IVF clustering on the buffered training vectors. A no-op for
// Flat indexes or once already trained.
func (s *Store) Train() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.current.Load()
	if gen.trained || s.cfg.Kind != IVF {
		return nil
	}
	next := cloneGeneration(gen)
	if err := s.trainLocked(next); err != nil {
		return err
	}
	s.publish(next)
	return nil
}

func (s *Store) trainLocked(g *generation) error {
	if len(g.training) < s.cfg.TrainingThreshold {
		return coderr.New(coderr.KindNotTrained, "vector.Train", fmt.Errorf("have %d vectors, need %d", len(g.training), s.cfg.TrainingThreshold))
	}
	centroids := kMeansCentroids(g.training, s.cfg.NList)
	g.open.centroids = centroids
	g.trained = true
	g.training = nil
	return nil
}

// Get returns the raw vector for nodeID if present and not tombstoned.
func (s *Store) Get(nodeID ids.NodeId) ([]float32, bool) {
	gen := s.current.Load()
	if v, ok := gen.open.get(nodeID); ok {
		return v, true
	}
	for _, seg := range gen.sealed {
		if v, ok := seg.get(nodeID); ok {
			return v, true
		}
	}
	return nil, false
}

// Remove logically deletes nodeID (tombstoned; physically reclaimed at
// compaction).
func (s *Store) Remove(nodeID ids.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.current.Load()
	next := cloneGeneration(gen)
	found := next.open.tombstone(nodeID)
	for _, seg := range next.sealed {
		if seg.tombstone(nodeID) {
			found = true
		}
	}
	if !found {
		return coderr.New(coderr.KindUnknownId, "vector.Remove", fmt.Errorf("node %s not indexed", nodeID))
	}
	s.publish(next)
	return s.walAppend(nodeID, "remove")
}

// Clear discards all segments, returning the store to its initial state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(&generation{open: newSegment(s.nextSeg.Add(1), s.cfg.Dimension)})
}

// Stats reports the current generation's shape.
func (s *Store) Stats() Stats {
	gen := s.current.Load()
	st := Stats{Generation: gen.id, IsTrained: gen.trained || s.cfg.Kind == Flat}
	st.NumSegments = len(gen.sealed) + 1
	st.NumVectors += gen.open.liveCount()
	st.NumTombstoned += gen.open.tombstoneCount()
	for _, seg := range gen.sealed {
		st.NumVectors += seg.liveCount()
		st.NumTombstoned += seg.tombstoneCount()
	}
	return st
}

// Search returns up to k nearest neighbors to query across all live
// segments, merged and sorted by descending score, dropping results below
// SimilarityThreshold.
func (s *Store) Search(query []float32, k int) ([]Result, error) {
	if len(query) != s.cfg.Dimension {
		return nil, coderr.New(coderr.KindDimensionMismatch, "vector.Search", fmt.Errorf("got %d dims, want %d", len(query), s.cfg.Dimension))
	}
	gen := s.current.Load()
	if s.cfg.Kind == IVF && !gen.trained {
		return nil, coderr.New(coderr.KindNotTrained, "vector.Search", fmt.Errorf("index not trained"))
	}

	var all []Result
	segs := append([]*Segment{gen.open}, gen.sealed...)
	for _, seg := range segs {
		var probe []int
		if s.cfg.Kind == IVF {
			probe = nearestCentroids(seg.centroids, query, s.cfg.NProbe)
		}
		all = append(all, seg.search(query, s.cfg.Metric, probe)...)
	}

	filtered := all[:0]
	for _, r := range all {
		if r.Score >= s.cfg.SimilarityThreshold {
			filtered = append(filtered, r)
		}
	}
	sortResults(filtered)
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

func sortResults(r []Result) {
	for i := 1; i < len(r); i++ {
		j := i
		for j > 0 && r[j-1].Score < r[j].Score {
			r[j-1], r[j] = r[j], r[j-1]
			j--
		}
	}
}
