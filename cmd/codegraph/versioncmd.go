package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/version"
)

func runVersion(ctx context.Context, st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph version <create|list|get|tag|compare> [flags]")
		return exitUserErr
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "create":
		return versionCreate(st, rest, out, stderr)
	case "list":
		return versionList(st, rest, out, stderr)
	case "get":
		return versionGet(st, rest, out, stderr)
	case "tag":
		return versionTag(st, rest, out, stderr)
	case "compare":
		return versionCompare(st, rest, out, stderr)
	default:
		fmt.Fprintf(stderr, "unknown version subcommand %q\n", sub)
		return exitUserErr
	}
}

func versionRecord(v *version.Version) record {
	parents := make([]string, len(v.Parents))
	for i, p := range v.Parents {
		parents[i] = p.String()
	}
	return rec(v,
		field{"version_id", v.ID.String()},
		field{"parents", strings.Join(parents, ",")},
		field{"message", v.Message},
		field{"author", v.Author},
		field{"created_at", v.CreatedAt.Format("2006-01-02T15:04:05Z07:00")},
		field{"root_hash", v.RootHash},
	)
}

func versionCreate(st *store, args []string, out *printer, stderr *os.File) int {
	fs := flag.NewFlagSet("version create", flag.ContinueOnError)
	name := fs.String("name", "", "version name")
	description := fs.String("description", "", "version description")
	author := fs.String("author", "", "author")
	parentsFlag := fs.String("parents", "", "comma-separated parent version ids")
	if err := fs.Parse(args); err != nil {
		return exitUserErr
	}
	if *name == "" || *author == "" {
		fmt.Fprintln(stderr, "version create requires --name and --author")
		return exitUserErr
	}

	var parents []ids.VersionId
	if *parentsFlag != "" {
		for _, s := range strings.Split(*parentsFlag, ",") {
			id, err := ids.ParseVersion(strings.TrimSpace(s))
			if err != nil {
				fmt.Fprintln(stderr, err)
				return exitUserErr
			}
			parents = append(parents, id)
		}
	}

	message := *name
	if *description != "" {
		message = *name + " - " + *description
	}

	// version create records a DAG node over the committed keyspace; it
	// does not attach new graph content (the CLI has no write-staging
	// path at all, see ledger.go), so it always commits the empty
	// manifest rather than asking the caller for content it has no way
	// to supply in one shot.
	rootHash, err := graph.New().WriteManifest(st.blobs)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	v, err := st.versions.Commit(parents, rootHash, message, *author, "")
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	return finish(out.One(versionRecord(v)), stderr)
}

func versionList(st *store, args []string, out *printer, stderr *os.File) int {
	fs := flag.NewFlagSet("version list", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum number of versions to list")
	if err := fs.Parse(args); err != nil {
		return exitUserErr
	}

	vs := st.versions.Versions()
	sort.Slice(vs, func(i, j int) bool { return vs[i].CreatedAt.After(vs[j].CreatedAt) })
	if *limit > 0 && len(vs) > *limit {
		vs = vs[:*limit]
	}

	items := make([]record, len(vs))
	for i, v := range vs {
		items[i] = versionRecord(v)
	}
	return finish(out.Many(items, vs), stderr)
}

func versionGet(st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph version get <id>")
		return exitUserErr
	}
	id, err := ids.ParseVersion(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUserErr
	}
	v, err := st.versions.Get(id)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	return finish(out.One(versionRecord(v)), stderr)
}

func versionTag(st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph version tag <id> --tag <name> [--author] [--message]")
		return exitUserErr
	}
	targetArg := args[0]
	fs := flag.NewFlagSet("version tag", flag.ContinueOnError)
	tagName := fs.String("tag", "", "tag name")
	// author/message are accepted for parity with the CLI contract but
	// version.Ref has no fields to persist them against a tag; surfaced
	// back in the confirmation record only.
	author := fs.String("author", "", "author (not persisted on the tag)")
	message := fs.String("message", "", "message (not persisted on the tag)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUserErr
	}
	if *tagName == "" {
		fmt.Fprintln(stderr, "version tag requires --tag")
		return exitUserErr
	}

	target, err := ids.ParseVersion(targetArg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUserErr
	}

	if err := st.versions.Tag(*tagName, target); err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	return finish(out.One(rec(map[string]string{"tag": *tagName, "target": target.String()},
		field{"tag", *tagName},
		field{"target", target.String()},
		field{"author", *author},
		field{"message", *message},
	)), stderr)
}

type manifestDiffEntry struct {
	NodeID string `json:"node_id"`
	Change string `json:"change"` // added | removed | changed
}

func versionCompare(st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: codegraph version compare <from> <to>")
		return exitUserErr
	}
	fromID, err := ids.ParseVersion(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUserErr
	}
	toID, err := ids.ParseVersion(args[1])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUserErr
	}

	from, err := st.versions.Get(fromID)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	to, err := st.versions.Get(toID)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	fromSnap, err := graph.ReadManifest(st.blobs, from.RootHash)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}
	toSnap, err := graph.ReadManifest(st.blobs, to.RootHash)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	seen := make(map[string]bool)
	for _, id := range fromSnap.NodeIDs() {
		seen[id] = true
	}
	for _, id := range toSnap.NodeIDs() {
		seen[id] = true
	}
	ids_ := make([]string, 0, len(seen))
	for id := range seen {
		ids_ = append(ids_, id)
	}
	sort.Strings(ids_)

	var diff []manifestDiffEntry
	for _, id := range ids_ {
		fromHash, inFrom := fromSnap.ContentHash(id)
		toHash, inTo := toSnap.ContentHash(id)
		switch {
		case !inFrom && inTo:
			diff = append(diff, manifestDiffEntry{NodeID: id, Change: "added"})
		case inFrom && !inTo:
			diff = append(diff, manifestDiffEntry{NodeID: id, Change: "removed"})
		case inFrom && inTo && fromHash != toHash:
			diff = append(diff, manifestDiffEntry{NodeID: id, Change: "changed"})
		}
	}

	items := make([]record, len(diff))
	for i, d := range diff {
		items[i] = rec(d, field{"node_id", d.NodeID}, field{"change", d.Change})
	}
	result := struct {
		From  string              `json:"from"`
		To    string              `json:"to"`
		Diffs []manifestDiffEntry `json:"diffs"`
	}{From: fromID.String(), To: toID.String(), Diffs: diff}

	return finish(out.Many(items, result), stderr)
}
