package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/version"
)

// coderrDetailConflicts extracts the conflict list a KindMergeConflict
// error carries in its Detail, the "result, not fault" shape
// version.ThreeWayMerge returns.
func coderrDetailConflicts(err error) ([]coderr.MergeConflictEntry, bool) {
	e, ok := err.(*coderr.Error)
	if !ok || e.Kind != coderr.KindMergeConflict {
		return nil, false
	}
	conflicts, ok := e.Detail.([]coderr.MergeConflictEntry)
	return conflicts, ok
}

func runBranch(ctx context.Context, st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph branch <create|list|get|delete|merge> [flags]")
		return exitUserErr
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		return branchCreate(st, rest, out, stderr)
	case "list":
		return branchList(st, rest, out, stderr)
	case "get":
		return branchGet(st, rest, out, stderr)
	case "delete":
		return branchDelete(st, rest, out, stderr)
	case "merge":
		return branchMerge(st, rest, out, stderr)
	default:
		fmt.Fprintf(stderr, "unknown branch subcommand %q\n", sub)
		return exitUserErr
	}
}

func refRecord(r *version.Ref) record {
	return rec(r,
		field{"name", r.Name},
		field{"target", r.Target.String()},
		field{"mutable", fmt.Sprint(r.Mutable)},
	)
}

func branchCreate(st *store, args []string, out *printer, stderr *os.File) int {
	fs := flag.NewFlagSet("branch create", flag.ContinueOnError)
	name := fs.String("name", "", "branch name")
	from := fs.String("from", "", "source version id")
	author := fs.String("author", "", "author (not persisted on the ref)")
	description := fs.String("description", "", "description (not persisted on the ref)")
	if err := fs.Parse(args); err != nil {
		return exitUserErr
	}
	if *name == "" || *from == "" {
		fmt.Fprintln(stderr, "branch create requires --name and --from")
		return exitUserErr
	}

	fromID, err := ids.ParseVersion(*from)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUserErr
	}

	if err := st.versions.Branch(*name, fromID); err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	return finish(out.One(rec(map[string]string{"name": *name, "from": fromID.String(), "author": *author, "description": *description},
		field{"name", *name},
		field{"from", fromID.String()},
		field{"author", *author},
	)), stderr)
}

func branchList(st *store, args []string, out *printer, stderr *os.File) int {
	refs := st.versions.Refs()
	var branches []*version.Ref
	for _, r := range refs {
		if r.Mutable {
			branches = append(branches, r)
		}
	}

	items := make([]record, len(branches))
	for i, r := range branches {
		items[i] = refRecord(r)
	}
	return finish(out.Many(items, branches), stderr)
}

func branchGet(st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph branch get <name>")
		return exitUserErr
	}
	target, err := st.versions.Resolve(args[0])
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	r := &version.Ref{Name: args[0], Target: target, Mutable: true}
	return finish(out.One(refRecord(r)), stderr)
}

func branchDelete(st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph branch delete <name>")
		return exitUserErr
	}
	if err := st.versions.DeleteBranch(args[0]); err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	return finish(out.One(rec(map[string]string{"name": args[0], "deleted": "true"},
		field{"name", args[0]},
		field{"deleted", "true"},
	)), stderr)
}

// mergeResultView is the CLI's merge-result schema: {source, target,
// success, conflicts: [{node_id, kind}], merged_version_id?}.
type mergeResultView struct {
	Source           string             `json:"source"`
	Target           string             `json:"target"`
	Success          bool               `json:"success"`
	Conflicts        []mergeConflictView `json:"conflicts,omitempty"`
	MergedVersionID  string             `json:"merged_version_id,omitempty"`
}

type mergeConflictView struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
}

func branchMerge(st *store, args []string, out *printer, stderr *os.File) int {
	fs := flag.NewFlagSet("branch merge", flag.ContinueOnError)
	source := fs.String("source", "", "source branch or version id")
	target := fs.String("target", "", "target branch or version id")
	author := fs.String("author", "", "author")
	message := fs.String("message", "", "merge commit message")
	if err := fs.Parse(args); err != nil {
		return exitUserErr
	}
	if *source == "" || *target == "" || *author == "" {
		fmt.Fprintln(stderr, "branch merge requires --source, --target and --author")
		return exitUserErr
	}

	sourceID, err := resolveRefOrVersion(st, *source)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	targetID, err := resolveRefOrVersion(st, *target)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	sourceV, err := st.versions.Get(sourceID)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	targetV, err := st.versions.Get(targetID)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	lcaID, err := st.versions.LCA(sourceID, targetID)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	var baseRootHash string
	if !lcaID.IsNil() {
		lcaV, err := st.versions.Get(lcaID)
		if err != nil {
			fmt.Fprintln(stderr, describeErr(err))
			return classifyExit(err)
		}
		baseRootHash = lcaV.RootHash
	}

	baseSnap, err := graph.ReadManifest(st.blobs, baseRootHash)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	oursSnap, err := graph.ReadManifest(st.blobs, targetV.RootHash)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	theirsSnap, err := graph.ReadManifest(st.blobs, sourceV.RootHash)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	result, mergeErr := version.ThreeWayMerge(baseSnap, oursSnap, theirsSnap)
	view := mergeResultView{Source: sourceID.String(), Target: targetID.String()}

	if mergeErr != nil {
		conflicts, ok := coderrDetailConflicts(mergeErr)
		if !ok {
			fmt.Fprintln(stderr, describeErr(mergeErr))
			return classifyExit(mergeErr)
		}
		for _, c := range conflicts {
			view.Conflicts = append(view.Conflicts, mergeConflictView{NodeID: c.NodeID, Kind: string(c.Kind)})
		}
		finish(out.One(rec(view, mergeViewFields(view)...)), stderr)
		return exitConflict
	}

	enc, err := json.Marshal(result.Resolved)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInternal
	}
	h, err := st.blobs.Put(enc)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	merged, err := st.versions.Commit([]ids.VersionId{targetID, sourceID}, h.String(), *message, *author, *target)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	view.Success = true
	view.MergedVersionID = merged.ID.String()
	return finish(out.One(rec(view, mergeViewFields(view)...)), stderr)
}

func mergeViewFields(v mergeResultView) []field {
	return []field{
		{"source", v.Source},
		{"target", v.Target},
		{"success", fmt.Sprint(v.Success)},
		{"conflicts", fmt.Sprint(len(v.Conflicts))},
		{"merged_version_id", v.MergedVersionID},
	}
}

// resolveRefOrVersion accepts either a branch/tag name or a raw version id
// string, matching the CLI contract's --source/--target, which may name
// either.
func resolveRefOrVersion(st *store, s string) (ids.VersionId, error) {
	if id, err := ids.ParseVersion(s); err == nil {
		return id, nil
	}
	return st.versions.Resolve(s)
}
