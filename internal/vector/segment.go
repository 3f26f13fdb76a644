package vector

import (
	"math"
	"sync"

	"github.com/codegraph-io/codegraph/internal/ids"
)

// Segment is an independently persistable slice of the index: a map of
// live vectors (raw or quantized) plus a tombstone set.
type Segment struct {
	ID        uint64
	Dimension int
	IsSealed  bool

	mu         sync.RWMutex
	raw        map[ids.NodeId][]float32
	codes      map[ids.NodeId][]byte
	metadata   map[ids.NodeId]map[string]string
	tombstones map[ids.NodeId]bool
	centroids  [][]float32
}

func newSegment(id uint64, dim int) *Segment {
	return &Segment{
		ID:         id,
		Dimension:  dim,
		raw:        make(map[ids.NodeId][]float32),
		codes:      make(map[ids.NodeId][]byte),
		metadata:   make(map[ids.NodeId]map[string]string),
		tombstones: make(map[ids.NodeId]bool),
	}
}

// clone returns a shallow copy suitable for copy-on-write generation
// swaps: the maps are new, the []float32 slices are shared since vectors
// are treated as immutable once added.
func (s *Segment) clone() *Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := &Segment{
		ID: s.ID, Dimension: s.Dimension, IsSealed: s.IsSealed,
		raw:        make(map[ids.NodeId][]float32, len(s.raw)),
		codes:      make(map[ids.NodeId][]byte, len(s.codes)),
		metadata:   make(map[ids.NodeId]map[string]string, len(s.metadata)),
		tombstones: make(map[ids.NodeId]bool, len(s.tombstones)),
		centroids:  s.centroids,
	}
	for k, v := range s.raw {
		cp.raw[k] = v
	}
	for k, v := range s.codes {
		cp.codes[k] = v
	}
	for k, v := range s.metadata {
		cp.metadata[k] = v
	}
	for k, v := range s.tombstones {
		cp.tombstones[k] = v
	}
	return cp
}

func (s *Segment) addRaw(id ids.NodeId, vec []float32, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[id] = vec
	if metadata != nil {
		s.metadata[id] = metadata
	}
	delete(s.tombstones, id)
}

// encode quantizes every currently-raw vector with the configured PQ or SQ
// encoder (neither uses the segment's centroids); if KeepRaw is false, the
// raw copy is dropped.
func (s *Segment) encode(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.raw {
		switch cfg.Quantization {
		case QuantPQ:
			s.codes[id] = encodePQ(v, cfg.PQSubvectors, cfg.PQBits)
		case QuantSQ:
			s.codes[id] = encodeSQ(v, cfg.SQBits, cfg.SQSigned)
		}
		if !cfg.KeepRaw {
			delete(s.raw, id)
		}
	}
}

func (s *Segment) get(id ids.NodeId) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tombstones[id] {
		return nil, false
	}
	v, ok := s.raw[id]
	return v, ok
}

func (s *Segment) tombstone(id ids.NodeId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.raw[id]; !ok {
		if _, ok := s.codes[id]; !ok {
			return false
		}
	}
	s.tombstones[id] = true
	return true
}

func (s *Segment) liveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for id := range s.raw {
		if !s.tombstones[id] {
			count++
		}
	}
	for id := range s.codes {
		if _, hasRaw := s.raw[id]; !hasRaw && !s.tombstones[id] {
			count++
		}
	}
	return count
}

func (s *Segment) tombstoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tombstones)
}

func (s *Segment) sizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, v := range s.raw {
		total += int64(len(v)) * 4
	}
	for _, c := range s.codes {
		total += int64(len(c))
	}
	return total
}

// search scores every live (non-tombstoned) vector in the segment against
// query. When probe is non-empty (IVF), only vectors whose nearest centroid
// is one of the probed clusters are considered; a real FAISS-style IVF
// would partition storage by cluster, but scanning with a cluster-derived
// candidate filter keeps this segment's storage layout uniform between
// Flat and IVF while still skipping unrelated clusters during scoring.
func (s *Segment) search(query []float32, metric Metric, probe []int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var allowed map[int]bool
	if len(probe) > 0 && len(s.centroids) > 0 {
		allowed = make(map[int]bool, len(probe))
		for _, c := range probe {
			allowed[c] = true
		}
	}
	var out []Result
	for id, v := range s.raw {
		if s.tombstones[id] {
			continue
		}
		if allowed != nil && !allowed[nearestCentroid(s.centroids, v)] {
			continue
		}
		out = append(out, Result{NodeID: id, Score: score(v, query, metric)})
	}
	return out
}

func score(a, b []float32, metric Metric) float64 {
	switch metric {
	case MetricInnerProduct:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		if dot < 0 {
			dot = 0
		}
		if dot > 1 {
			dot = 1
		}
		return dot
	default: // MetricL2
		var sumSq float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sumSq += d * d
		}
		return 1 / (1 + math.Sqrt(sumSq))
	}
}
