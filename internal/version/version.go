// Package version implements the version/branch/tag DAG: immutable
// commits over the graph, named mutable refs, and three-way merge.
package version

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/wal"
)

// Version is an immutable commit: a content snapshot with zero or more
// parents (more than one parent marks a merge commit).
type Version struct {
	ID        ids.VersionId   `json:"version_id"`
	Parents   []ids.VersionId `json:"parents"`
	Message   string          `json:"message"`
	Author    string          `json:"author"`
	CreatedAt time.Time       `json:"created_at"`
	// RootHash addresses the CAS-stored manifest of node/edge content
	// hashes that make up this snapshot.
	RootHash string `json:"root_hash"`
}

// Ref is a named, mutable pointer at a Version (a branch or a tag).
type Ref struct {
	Name    string        `json:"name"`
	Target  ids.VersionId `json:"target"`
	Mutable bool          `json:"mutable"` // true for branches, false for tags
}

// Manager owns the DAG of Versions and the Refs pointing into it. All
// methods are safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	versions map[ids.VersionId]*Version
	refs     map[string]*Ref
	// reflog records every ref move, oldest first, git-reflog style.
	reflog []ReflogEntry

	// wal, if set, receives a KindVersionCreate record for every commit
	// and ref move so a Manager can be rebuilt with Restore after a
	// restart; nil means in-memory only (the default, and what every
	// existing caller still gets via NewManager).
	wal *wal.Log
}

// Option configures a Manager.
type Option func(*Manager)

// WithWAL makes every subsequent Commit/Branch/Tag durable, so a later
// Restore(w) can rebuild the same DAG and ref set.
func WithWAL(w *wal.Log) Option { return func(m *Manager) { m.wal = w } }

// ReflogEntry records one ref-target update.
type ReflogEntry struct {
	RefName string
	From    ids.VersionId
	To      ids.VersionId
	At      time.Time
}

// event is the KindVersionCreate payload shape: either a new Version
// (Ref == "") or a ref move (Ref != ""), so Restore can tell the two apart
// while replaying a single record stream.
type event struct {
	Version *Version      `json:"version,omitempty"`
	Ref     string        `json:"ref,omitempty"`
	From    ids.VersionId `json:"from"`
	To      ids.VersionId `json:"to"`
	Mutable bool          `json:"mutable,omitempty"`
	Deleted bool          `json:"deleted,omitempty"`
	At      time.Time     `json:"at,omitempty"`
}

func (m *Manager) appendEvent(e event) error {
	if m.wal == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return coderr.New(coderr.KindUnrecoverable, "version.appendEvent", err)
	}
	if _, err := m.wal.Append(ids.NilTransaction, wal.KindVersionCreate, payload); err != nil {
		return err
	}
	return m.wal.Flush()
}

// NewManager creates an empty Manager with a "main" branch at the nil
// version. Use Restore instead when rebuilding from a WAL a prior Manager
// wrote to via WithWAL.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		versions: make(map[ids.VersionId]*Version),
		refs:     make(map[string]*Ref),
	}
	for _, o := range opts {
		o(m)
	}
	m.refs["main"] = &Ref{Name: "main", Target: ids.NilVersion, Mutable: true}
	return m
}

// Commit records a new Version with the given parents and advances ref (if
// non-empty) to point at it.
func (m *Manager) Commit(parents []ids.VersionId, rootHash, message, author, ref string) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range parents {
		if p.IsNil() {
			continue
		}
		if _, ok := m.versions[p]; !ok {
			return nil, coderr.New(coderr.KindUnknownId, "version.Commit", fmt.Errorf("unknown parent %s", p))
		}
	}

	v := &Version{
		ID:        ids.NewVersion(),
		Parents:   append([]ids.VersionId(nil), parents...),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
		RootHash:  rootHash,
	}

	var r *Ref
	wasNewRef := false
	if ref != "" {
		var ok bool
		r, ok = m.refs[ref]
		if !ok {
			r = &Ref{Name: ref, Mutable: true}
			wasNewRef = true
		}
		if !r.Mutable {
			return nil, coderr.New(coderr.KindInvalidArgument, "version.Commit", fmt.Errorf("ref %q is immutable (tag)", ref))
		}
	}

	if err := m.appendEvent(event{Version: v}); err != nil {
		return nil, err
	}
	if r != nil {
		if err := m.appendEvent(event{Ref: ref, From: r.Target, To: v.ID, Mutable: true, At: v.CreatedAt}); err != nil {
			return nil, err
		}
	}

	m.versions[v.ID] = v
	if r != nil {
		if wasNewRef {
			m.refs[ref] = r
		}
		m.reflog = append(m.reflog, ReflogEntry{RefName: ref, From: r.Target, To: v.ID, At: v.CreatedAt})
		r.Target = v.ID
	}
	return v, nil
}

// Get returns the Version with the given id.
func (m *Manager) Get(id ids.VersionId) (*Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, coderr.New(coderr.KindUnknownId, "version.Get", fmt.Errorf("version %s not found", id))
	}
	return v, nil
}

// Branch creates a new mutable ref named name pointing at from.
func (m *Manager) Branch(name string, from ids.VersionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.refs[name]; exists {
		return coderr.New(coderr.KindInvalidArgument, "version.Branch", fmt.Errorf("ref %q already exists", name))
	}
	if !from.IsNil() {
		if _, ok := m.versions[from]; !ok {
			return coderr.New(coderr.KindUnknownId, "version.Branch", fmt.Errorf("unknown version %s", from))
		}
	}
	now := time.Now()
	if err := m.appendEvent(event{Ref: name, From: ids.NilVersion, To: from, Mutable: true, At: now}); err != nil {
		return err
	}
	m.refs[name] = &Ref{Name: name, Target: from, Mutable: true}
	m.reflog = append(m.reflog, ReflogEntry{RefName: name, From: ids.NilVersion, To: from, At: now})
	return nil
}

// DeleteBranch removes a mutable ref. Tags are immutable history markers
// and cannot be deleted through this path.
func (m *Manager) DeleteBranch(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refs[name]
	if !ok {
		return coderr.New(coderr.KindUnknownBranch, "version.DeleteBranch", fmt.Errorf("unknown ref %q", name))
	}
	if !r.Mutable {
		return coderr.New(coderr.KindInvalidArgument, "version.DeleteBranch", fmt.Errorf("ref %q is a tag, not a branch", name))
	}
	if err := m.appendEvent(event{Ref: name, From: r.Target, To: ids.NilVersion, Deleted: true, At: time.Now()}); err != nil {
		return err
	}
	delete(m.refs, name)
	return nil
}

// Tag creates an immutable ref named name pointing at target.
func (m *Manager) Tag(name string, target ids.VersionId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.refs[name]; exists {
		return coderr.New(coderr.KindInvalidArgument, "version.Tag", fmt.Errorf("ref %q already exists", name))
	}
	if _, ok := m.versions[target]; !ok {
		return coderr.New(coderr.KindUnknownId, "version.Tag", fmt.Errorf("unknown version %s", target))
	}
	if err := m.appendEvent(event{Ref: name, From: ids.NilVersion, To: target, Mutable: false, At: time.Now()}); err != nil {
		return err
	}
	m.refs[name] = &Ref{Name: name, Target: target, Mutable: false}
	return nil
}

// Restore rebuilds a Manager's version DAG and ref set from w by replaying
// every KindVersionCreate record in sequence order. The returned Manager is
// wired to w the same as one built with WithWAL, so subsequent
// Commit/Branch/Tag calls continue appending after the replayed tail.
func Restore(w *wal.Log) (*Manager, error) {
	m := NewManager(WithWAL(w))
	m.refs = make(map[string]*Ref) // no "main" yet; replay decides it

	err := w.IterFrom(0, func(r wal.Record) error {
		if r.Kind != wal.KindVersionCreate {
			return nil
		}
		var e event
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			return coderr.New(coderr.KindCorrupted, "version.Restore", err)
		}
		switch {
		case e.Version != nil:
			m.versions[e.Version.ID] = e.Version
		case e.Ref != "" && e.Deleted:
			delete(m.refs, e.Ref)
		case e.Ref != "":
			ref, ok := m.refs[e.Ref]
			if !ok {
				ref = &Ref{Name: e.Ref, Mutable: e.Mutable}
				m.refs[e.Ref] = ref
			}
			ref.Target = e.To
			ref.Mutable = e.Mutable
			m.reflog = append(m.reflog, ReflogEntry{RefName: e.Ref, From: e.From, To: e.To, At: e.At})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, ok := m.refs["main"]; !ok {
		m.refs["main"] = &Ref{Name: "main", Target: ids.NilVersion, Mutable: true}
	}
	return m, nil
}

// Resolve looks up a ref by name.
func (m *Manager) Resolve(name string) (ids.VersionId, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.refs[name]
	if !ok {
		return ids.NilVersion, coderr.New(coderr.KindUnknownBranch, "version.Resolve", fmt.Errorf("unknown ref %q", name))
	}
	return r.Target, nil
}

// History returns the reflog entries for ref, oldest first.
func (m *Manager) History(ref string) []ReflogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ReflogEntry
	for _, e := range m.reflog {
		if e.RefName == ref {
			out = append(out, e)
		}
	}
	return out
}

// Versions returns every commit the Manager knows about, order unspecified.
// Used by internal/recovery's snapshot-integrity check to walk the whole DAG
// without needing a dedicated read lock of its own.
func (m *Manager) Versions() []*Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Version, 0, len(m.versions))
	for _, v := range m.versions {
		out = append(out, v)
	}
	return out
}

// Refs returns every named ref (branch or tag), order unspecified.
func (m *Manager) Refs() []*Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Ref, 0, len(m.refs))
	for _, r := range m.refs {
		out = append(out, r)
	}
	return out
}

// Ancestors walks parent edges from start and returns the full ancestor set
// including start itself.
func (m *Manager) Ancestors(start ids.VersionId) (map[ids.VersionId]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ancestorsLocked(start)
}

func (m *Manager) ancestorsLocked(start ids.VersionId) (map[ids.VersionId]bool, error) {
	seen := make(map[ids.VersionId]bool)
	stack := []ids.VersionId{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id.IsNil() || seen[id] {
			continue
		}
		seen[id] = true
		v, ok := m.versions[id]
		if !ok {
			return nil, coderr.New(coderr.KindUnknownId, "version.ancestors", fmt.Errorf("unknown version %s", id))
		}
		stack = append(stack, v.Parents...)
	}
	return seen, nil
}

// LCA finds the lowest common ancestor of a and b by intersecting ancestor
// sets and picking the one with no other ancestor-of-both as its own
// descendant (i.e. the deepest common point in both histories).
func (m *Manager) LCA(a, b ids.VersionId) (ids.VersionId, error) {
	m.mu.RLock()
	aAnc, err := m.ancestorsLocked(a)
	if err != nil {
		m.mu.RUnlock()
		return ids.NilVersion, err
	}
	bAnc, err := m.ancestorsLocked(b)
	m.mu.RUnlock()
	if err != nil {
		return ids.NilVersion, err
	}

	var common []ids.VersionId
	for id := range aAnc {
		if bAnc[id] {
			common = append(common, id)
		}
	}
	if len(common) == 0 {
		return ids.NilVersion, nil
	}

	// Among the common ancestors, the LCA is the one that is an ancestor
	// of every other common ancestor's descendant path — equivalently,
	// the one not present in the ancestor set of any other common node.
	best := common[0]
	for _, c := range common[1:] {
		anc, err := m.Ancestors(c)
		if err != nil {
			return ids.NilVersion, err
		}
		if anc[best] {
			best = c
		}
	}
	return best, nil
}

// TopoSort returns the given version ids in an order where every parent
// precedes its children. Input ids must all be resolvable; a cycle among
// them is reported as KindInvariantViolated (corrupt history).
func (m *Manager) TopoSort(ids_ []ids.VersionId) ([]ids.VersionId, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inSet := make(map[ids.VersionId]bool, len(ids_))
	for _, id := range ids_ {
		inSet[id] = true
	}
	visited := make(map[ids.VersionId]bool)
	onPath := make(map[ids.VersionId]bool)
	var order []ids.VersionId

	var visit func(id ids.VersionId) error
	visit = func(id ids.VersionId) error {
		if onPath[id] {
			return coderr.New(coderr.KindInvariantViolated, "version.TopoSort", fmt.Errorf("corrupt history: cycle through version %s", id))
		}
		if visited[id] || !inSet[id] {
			return nil
		}
		visited[id] = true
		onPath[id] = true
		defer delete(onPath, id)
		v, ok := m.versions[id]
		if !ok {
			return coderr.New(coderr.KindUnknownId, "version.TopoSort", fmt.Errorf("unknown version %s", id))
		}
		for _, p := range v.Parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		order = append(order, id)
		return nil
	}

	sorted := append([]ids.VersionId(nil), ids_...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	for _, id := range sorted {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
