package vector

import (
	"encoding/json"

	"github.com/klauspost/compress/s2"

	"github.com/codegraph-io/codegraph/internal/cas"
	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// segmentRecord is the on-disk encoding of a Segment, s2-compressed before
// being handed to the content store: Embeddings is the "embeddings" column
// family, Metadata is the "metadata" column family.
type segmentRecord struct {
	ID         uint64
	Dimension  int
	Embeddings map[string][]float32
	Codes      map[string][]byte
	Metadata   map[string]map[string]string
	Tombstones map[string]bool
	Centroids  [][]float32
}

// Persister moves segments and periodic stats snapshots in and out of the
// content-addressed store, compressing segments with s2 (fast enough to run
// inline with an async write path); stats snapshots are stored as plain
// JSON.
type Persister struct {
	blobs *cas.Store
}

// NewPersister wraps a content store for segment persistence.
func NewPersister(blobs *cas.Store) *Persister {
	return &Persister{blobs: blobs}
}

// SaveSegment serializes and compresses seg, returning its content hash.
func (p *Persister) SaveSegment(seg *Segment) (cas.Hash, error) {
	seg.mu.RLock()
	rec := segmentRecord{
		ID: seg.ID, Dimension: seg.Dimension,
		Embeddings: make(map[string][]float32, len(seg.raw)),
		Codes:      make(map[string][]byte, len(seg.codes)),
		Metadata:   make(map[string]map[string]string, len(seg.metadata)),
		Tombstones: make(map[string]bool, len(seg.tombstones)),
		Centroids:  seg.centroids,
	}
	for id, v := range seg.raw {
		rec.Embeddings[id.String()] = v
	}
	for id, c := range seg.codes {
		rec.Codes[id.String()] = c
	}
	for id, m := range seg.metadata {
		rec.Metadata[id.String()] = m
	}
	for id := range seg.tombstones {
		rec.Tombstones[id.String()] = true
	}
	seg.mu.RUnlock()

	raw, err := json.Marshal(rec)
	if err != nil {
		return cas.Hash{}, coderr.New(coderr.KindInvalidArgument, "vector.SaveSegment", err)
	}
	compressed := s2.Encode(nil, raw)
	return p.blobs.Put(compressed)
}

// LoadSegment reverses SaveSegment, reconstructing a live Segment.
func (p *Persister) LoadSegment(h cas.Hash) (*Segment, error) {
	compressed, err := p.blobs.Get(h)
	if err != nil {
		return nil, err
	}
	if compressed == nil {
		return nil, coderr.New(coderr.KindUnknownId, "vector.LoadSegment", nil)
	}
	raw, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, coderr.New(coderr.KindCorrupted, "vector.LoadSegment", err)
	}
	var rec segmentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, coderr.New(coderr.KindCorrupted, "vector.LoadSegment", err)
	}

	seg := newSegment(rec.ID, rec.Dimension)
	seg.centroids = rec.Centroids
	for idStr, v := range rec.Embeddings {
		id, err := ids.ParseNode(idStr)
		if err != nil {
			continue
		}
		seg.raw[id] = v
	}
	for idStr, c := range rec.Codes {
		id, err := ids.ParseNode(idStr)
		if err != nil {
			continue
		}
		seg.codes[id] = c
	}
	for idStr, m := range rec.Metadata {
		id, err := ids.ParseNode(idStr)
		if err != nil {
			continue
		}
		seg.metadata[id] = m
	}
	for idStr := range rec.Tombstones {
		id, err := ids.ParseNode(idStr)
		if err != nil {
			continue
		}
		seg.tombstones[id] = true
	}
	return seg, nil
}

// SaveStats writes a periodic observability snapshot (the "stats" column
// family) to the content store.
func (p *Persister) SaveStats(st Stats) (cas.Hash, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return cas.Hash{}, coderr.New(coderr.KindInvalidArgument, "vector.SaveStats", err)
	}
	return p.blobs.Put(raw)
}
