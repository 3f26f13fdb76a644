package version

import (
	"github.com/codegraph-io/codegraph/internal/coderr"
)

// Snapshot exposes just enough of a Version's content to compute a
// three-way merge: the set of node ids present and the content hash each
// maps to. The graph package supplies the concrete implementation so this
// package stays ignorant of node/edge types.
type Snapshot interface {
	NodeIDs() []string
	ContentHash(nodeID string) (hash string, present bool)
}

// MergeResult is the outcome of a clean three-way merge: the set of node
// ids and the content hash each should take in the merged version.
type MergeResult struct {
	Resolved map[string]string // nodeID -> content hash
}

// ThreeWayMerge merges source into target using base as the common
// ancestor snapshot. It returns a *coderr.Error with KindMergeConflict (a
// result, not a fault) when any node conflicts.
func ThreeWayMerge(base, target, source Snapshot) (*MergeResult, error) {
	seen := make(map[string]bool)
	for _, id := range base.NodeIDs() {
		seen[id] = true
	}
	for _, id := range target.NodeIDs() {
		seen[id] = true
	}
	for _, id := range source.NodeIDs() {
		seen[id] = true
	}

	result := &MergeResult{Resolved: make(map[string]string, len(seen))}
	var conflicts []coderr.MergeConflictEntry

	for id := range seen {
		baseHash, inBase := base.ContentHash(id)
		oursHash, inOurs := target.ContentHash(id)
		theirsHash, inTheirs := source.ContentHash(id)

		switch {
		case inOurs && inTheirs && oursHash == theirsHash:
			result.Resolved[id] = oursHash

		case inOurs && !inTheirs && inBase && theirsHash == "" && baseHash == oursHash:
			// Unchanged on our side, deleted on theirs: take the deletion.
			continue

		case !inOurs && inTheirs && inBase && baseHash == theirsHash:
			// Deleted on our side, unchanged on theirs: keep the deletion.
			continue

		case inOurs && !inBase && !inTheirs:
			result.Resolved[id] = oursHash // added only by us

		case !inOurs && !inBase && inTheirs:
			result.Resolved[id] = theirsHash // added only by them

		case inOurs && inBase && !inTheirs && baseHash != oursHash:
			conflicts = append(conflicts, coderr.MergeConflictEntry{
				NodeID: id, Kind: coderr.DeletedByThem, Ours: oursHash, Theirs: "",
			})

		case !inOurs && inBase && inTheirs && baseHash != theirsHash:
			conflicts = append(conflicts, coderr.MergeConflictEntry{
				NodeID: id, Kind: coderr.DeletedByUs, Ours: "", Theirs: theirsHash,
			})

		case inOurs && inTheirs && !inBase && oursHash != theirsHash:
			conflicts = append(conflicts, coderr.MergeConflictEntry{
				NodeID: id, Kind: coderr.AddedByBoth, Ours: oursHash, Theirs: theirsHash,
			})

		case inOurs && inTheirs && inBase && oursHash != theirsHash && oursHash != baseHash && theirsHash != baseHash:
			conflicts = append(conflicts, coderr.MergeConflictEntry{
				NodeID: id, Kind: coderr.ContentMismatch, Ours: oursHash, Theirs: theirsHash,
			})

		case inOurs && inTheirs && oursHash == baseHash:
			result.Resolved[id] = theirsHash // only theirs changed

		case inOurs && inTheirs && theirsHash == baseHash:
			result.Resolved[id] = oursHash // only ours changed

		case !inOurs && !inTheirs:
			// absent on both sides, nothing to resolve

		default:
			result.Resolved[id] = oursHash
		}
	}

	if len(conflicts) > 0 {
		return nil, coderr.NewMergeConflict("version.ThreeWayMerge", conflicts)
	}
	return result, nil
}
