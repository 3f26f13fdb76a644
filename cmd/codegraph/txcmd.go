package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/txn"
)

// parseIsolation maps the CLI's four SQL-standard isolation names onto
// txn.IsolationLevel's two implemented levels. read-uncommitted,
// read-committed and repeatable-read all request snapshot-based
// validation (txn.SnapshotIsolation is the strongest level the manager
// offers short of full serializability, so every sub-serializable
// request rounds up to it rather than silently granting a weaker
// guarantee than asked for); only serializable maps to txn.Serializable.
func parseIsolation(name string) (txn.IsolationLevel, error) {
	switch name {
	case "read-uncommitted", "read-committed", "repeatable-read", "":
		return txn.SnapshotIsolation, nil
	case "serializable":
		return txn.Serializable, nil
	default:
		return 0, coderr.New(coderr.KindInvalidArgument, "tx.parseIsolation", fmt.Errorf("unknown isolation level %q", name))
	}
}

func isolationName(level txn.IsolationLevel) string {
	if level == txn.Serializable {
		return "serializable"
	}
	return "repeatable-read"
}

func runTx(ctx context.Context, st *store, args []string, out *printer, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: codegraph tx <begin|commit|rollback> [flags]")
		return exitUserErr
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "begin":
		return txBegin(ctx, st, rest, out, stderr)
	case "commit":
		return txFinish(st, rest, out, stderr, "commit")
	case "rollback":
		return txFinish(st, rest, out, stderr, "rollback")
	default:
		fmt.Fprintf(stderr, "unknown tx subcommand %q\n", sub)
		return exitUserErr
	}
}

func txBegin(ctx context.Context, st *store, args []string, out *printer, stderr *os.File) int {
	fs := flag.NewFlagSet("tx begin", flag.ContinueOnError)
	isolationFlag := fs.String("isolation", "repeatable-read", "read-uncommitted|read-committed|repeatable-read|serializable")
	if err := fs.Parse(args); err != nil {
		return exitUserErr
	}

	level, err := parseIsolation(*isolationFlag)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return exitUserErr
	}

	l, err := loadLedger(st.cfg.Storage)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	startedAt := time.Now()
	tx := st.txns.Begin(ctx, level)
	snapSeq := st.txns.CommittedSeq()

	// The CLI surface has no write-staging command, so the transaction's
	// write set is always empty: committing it is always valid and never
	// conflicts. See ledger.go for why this is recorded rather than left
	// implicit.
	if err := tx.Commit(); err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	entry := ledgerEntry{
		ID:         tx.ID.String(),
		Isolation:  isolationName(level),
		State:      "committed",
		SnapSeq:    snapSeq,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if err := l.put(entry); err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	err = out.One(rec(entry,
		field{"transaction_id", entry.ID},
		field{"isolation", entry.Isolation},
		field{"state", entry.State},
	))
	return finish(err, stderr)
}

func txFinish(st *store, args []string, out *printer, stderr *os.File, verb string) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "usage: codegraph tx %s <id>\n", verb)
		return exitUserErr
	}
	id, err := ids.ParseTransaction(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUserErr
	}

	l, err := loadLedger(st.cfg.Storage)
	if err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return classifyExit(err)
	}

	entry, ok := l.get(id)
	if !ok {
		fmt.Fprintf(stderr, "unknown transaction %s\n", id)
		return exitUserErr
	}

	// Every tracked transaction already resolved (committed) during
	// "tx begin" — see txBegin. "commit" on an already-committed
	// transaction is an idempotent no-op; "rollback" on one is a user
	// error, since there is nothing left to undo.
	switch verb {
	case "commit":
		if entry.State != "committed" {
			fmt.Fprintf(stderr, "transaction %s is %s, not committed\n", id, entry.State)
			return exitUserErr
		}
	case "rollback":
		fmt.Fprintf(stderr, "transaction %s already committed; nothing to roll back\n", id)
		return exitUserErr
	}

	err = out.One(rec(entry,
		field{"transaction_id", entry.ID},
		field{"state", entry.State},
	))
	return finish(err, stderr)
}

// finish turns a render error (a write failure to stdout) into an exit
// code instead of letting it pass silently.
func finish(err error, stderr *os.File) int {
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInternal
	}
	return exitOK
}
