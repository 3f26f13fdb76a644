package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/codegraph-io/codegraph/internal/cas"
	"github.com/codegraph-io/codegraph/internal/coderr"
)

// nodeSnapshot is a canonical, order-independent encoding of a CodeNode
// used to compute its content hash; embeddings are excluded since they are
// derived data the integrator recomputes, not authored content.
type nodeSnapshot struct {
	Name     string            `json:"name"`
	NodeType NodeType          `json:"node_type"`
	Language string            `json:"language"`
	Location Location          `json:"location"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// CanonicalContentBytes returns n's canonical, order-independent encoding:
// the same bytes ContentHashOf hashes and stores, exposed on its own so
// callers that only need to verify (not (re)persist) a node's expected
// content hash — internal/recovery's content-store integrity check — don't
// have to write through the CAS to compute it.
func CanonicalContentBytes(n *CodeNode) ([]byte, error) {
	enc, err := json.Marshal(nodeSnapshot{
		Name: n.Name, NodeType: n.NodeType, Language: n.Language,
		Location: n.Location, Content: n.Content, Metadata: n.Metadata,
	})
	if err != nil {
		return nil, coderr.New(coderr.KindInvalidArgument, "graph.CanonicalContentBytes", err)
	}
	return enc, nil
}

// ContentHashOf computes the content-addressed hash of a node and stores
// its canonical encoding in blobs so Snapshot() can be reconstructed from
// C1 alone during recovery.
func ContentHashOf(blobs *cas.Store, n *CodeNode) (string, error) {
	enc, err := CanonicalContentBytes(n)
	if err != nil {
		return "", err
	}
	h, err := blobs.Put(enc)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// graphSnapshot implements version.Snapshot over a live Graph's current
// state, used as the "ours"/"theirs" side of a three-way merge.
type graphSnapshot struct {
	blobs  *cas.Store
	hashes map[string]string // nodeID string -> content hash
}

// Snapshot computes content hashes for every node currently in g and
// returns a version.Snapshot-compatible view (internal/version never
// imports this package, so it is consumed through the interface it
// declares, not this concrete type).
func (g *Graph) Snapshot(blobs *cas.Store) (*graphSnapshot, error) {
	ids := g.NodeIDs()
	hashes := make(map[string]string, len(ids))
	for _, id := range ids {
		n, err := g.GetNode(id)
		if err != nil {
			continue
		}
		h, err := ContentHashOf(blobs, n)
		if err != nil {
			return nil, err
		}
		hashes[id.String()] = h
	}
	return &graphSnapshot{blobs: blobs, hashes: hashes}, nil
}

func (s *graphSnapshot) NodeIDs() []string {
	out := make([]string, 0, len(s.hashes))
	for id := range s.hashes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *graphSnapshot) ContentHash(nodeID string) (string, bool) {
	h, ok := s.hashes[nodeID]
	return h, ok
}

// WriteManifest hashes every node currently in g, stores the resulting
// nodeID->hash map as a single CAS blob, and returns its hash: a Version's
// RootHash, the thing version.Commit stores and a later ReadManifest
// resolves back into a version.Snapshot without needing a live Graph.
func (g *Graph) WriteManifest(blobs *cas.Store) (string, error) {
	snap, err := g.Snapshot(blobs)
	if err != nil {
		return "", err
	}
	enc, err := json.Marshal(snap.hashes)
	if err != nil {
		return "", coderr.New(coderr.KindInvalidArgument, "graph.WriteManifest", err)
	}
	h, err := blobs.Put(enc)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// ReadManifest resolves a Version's RootHash back into a version.Snapshot,
// for diffing two versions' content without materializing either as a live
// Graph. The nil RootHash (an empty version, e.g. main before any commit)
// resolves to an empty manifest rather than an error.
func ReadManifest(blobs *cas.Store, rootHash string) (*graphSnapshot, error) {
	if rootHash == "" {
		return &graphSnapshot{blobs: blobs, hashes: map[string]string{}}, nil
	}
	h, err := cas.ParseHash(rootHash)
	if err != nil {
		return nil, coderr.New(coderr.KindInvalidArgument, "graph.ReadManifest", err)
	}
	b, err := blobs.Get(h)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, coderr.New(coderr.KindUnknownId, "graph.ReadManifest", fmt.Errorf("manifest %s not found", rootHash))
	}
	var hashes map[string]string
	if err := json.Unmarshal(b, &hashes); err != nil {
		return nil, coderr.New(coderr.KindCorrupted, "graph.ReadManifest", err)
	}
	return &graphSnapshot{blobs: blobs, hashes: hashes}, nil
}
