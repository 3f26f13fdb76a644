package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ops"
	"github.com/codegraph-io/codegraph/internal/recovery"
)

// runServe starts the resident ops HTTP surface (health, metrics, and an
// on-demand integrity-check trigger) and a background integrity scanner
// over the store this process already opened, blocking until ctx is
// cancelled. Unlike tx/version/branch, this subcommand doesn't exit
// after one action; it runs alongside the transactional CLI against the
// same storage directory.
func runServe(ctx context.Context, st *store, args []string, stderr *os.File) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":7080", "ops HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return exitUserErr
	}

	checker := recovery.NewChecker(st.blobs, st.log, st.versions, st.txns, graph.New(), recovery.DefaultConfig(), recovery.WithLogger(st.logger))
	checker.Start(ctx)
	defer checker.Stop()

	reg := ops.NewRegistry()
	srv := ops.NewServer(*addr, checker, reg, st.logger)

	st.logger.Info("ops surface listening", "addr", *addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintln(stderr, describeErr(err))
		return exitInternal
	}
	return exitOK
}
