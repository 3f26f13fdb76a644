package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/codegraph-io/codegraph/internal/cas"
	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/txn"
	"github.com/codegraph-io/codegraph/internal/version"
	"github.com/codegraph-io/codegraph/internal/wal"
	"github.com/codegraph-io/codegraph/internal/workerpool"
)

// store bundles the subsystems one codegraph invocation needs: the
// content store, the shared WAL both the transaction and version
// managers replay on restart, and the two managers themselves. Each CLI
// invocation opens, replays, does its one thing, and closes — there is
// no resident daemon, per cmd/codegraph's scope.
type store struct {
	cfg    Config
	logger *slog.Logger

	blobs    *cas.Store
	log      *wal.Log
	txns     *txn.Manager
	versions *version.Manager
	pool     *workerpool.Pool

	cancelTxns context.CancelFunc
}

func openStore(cfg Config, logger *slog.Logger) (*store, error) {
	blobs, err := cas.Open(filepath.Join(cfg.Storage, "cas"), cas.WithCacheBytes(cfg.CacheBytes), cas.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	l, err := wal.Open(filepath.Join(cfg.Storage, "wal"), wal.WithSyncPolicy(parseSyncPolicy(cfg.WALSync)), wal.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	versions, err := version.Restore(l)
	if err != nil {
		return nil, err
	}

	txnCtx, cancel := context.WithCancel(context.Background())
	txns, err := txn.Restore(txnCtx, l)
	if err != nil {
		cancel()
		return nil, err
	}

	poolCfg := workerpool.DefaultConfig()
	if cfg.MaxWorkers > 0 {
		poolCfg.Workers = cfg.MaxWorkers
		poolCfg.QueueCapacity = cfg.MaxWorkers * 4
	}

	return &store{
		cfg:        cfg,
		logger:     logger,
		blobs:      blobs,
		log:        l,
		txns:       txns,
		versions:   versions,
		pool:       workerpool.New(poolCfg),
		cancelTxns: cancel,
	}, nil
}

func (s *store) Close() {
	s.pool.Close()
	s.txns.Close()
	s.cancelTxns()
	s.log.Close()
}

// parseSyncPolicy maps CODEGRAPH_WAL_SYNC's "each|interval=ms|n=N" grammar
// onto wal.SyncPolicy; the per-N-records batching the env var's "n=N" form
// implies isn't a distinct policy wal.Log exposes, so it degrades to
// SyncInterval, same as "interval=ms".
func parseSyncPolicy(spec string) wal.SyncPolicy {
	switch {
	case spec == "each":
		return wal.SyncAlways
	case strings.HasPrefix(spec, "interval="), strings.HasPrefix(spec, "n="):
		return wal.SyncInterval
	default:
		return wal.SyncInterval
	}
}

// classifyExit maps a *coderr.Error's Kind to the CLI's exit code
// contract. Non-coderr errors (flag parsing, missing arguments) are
// treated as user error by the caller before this is even consulted.
func classifyExit(err error) int {
	if err == nil {
		return exitOK
	}
	switch coderr.KindOf(err) {
	case coderr.KindMergeConflict:
		return exitConflict
	case coderr.KindInvalidArgument, coderr.KindUnknownId, coderr.KindUnknownBranch, coderr.KindDimensionMismatch:
		return exitUserErr
	case coderr.KindCancelled:
		return exitCancel
	case "":
		return exitUserErr
	default:
		return exitInternal
	}
}

// describeErr renders a single-line error category plus cause, per the
// CLI's user-visible error format.
func describeErr(err error) string {
	if e, ok := err.(*coderr.Error); ok {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return err.Error()
}
