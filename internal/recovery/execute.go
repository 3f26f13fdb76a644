package recovery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/codegraph-io/codegraph/internal/cas"
	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/wal"
)

// Applier replays the domain-level effect of one WAL record during
// transaction recovery. internal/recovery owns the scan and the decision
// to replay; it doesn't know how to interpret an arbitrary record's
// payload bytes, since that mapping belongs to whatever component wrote
// them (internal/txn today). A deployment that wants ReplayTransaction to
// do more than count records registers one via WithApplier.
type Applier interface {
	Apply(seq uint64, payload []byte) error
}

// WithApplier wires a domain-specific WAL replay hook used by
// ExecuteRecoveryPlan's ReplayTransaction action.
func WithApplier(a Applier) Option {
	return func(c *Checker) { c.applier = a }
}

const recoveryActionTimeout = 5 * time.Minute

// ExecuteRecoveryPlan runs every action in plan in order, stopping at the
// first failure (later actions may assume earlier ones succeeded, same as
// a migration script). Only one recovery may run at a time.
func (c *Checker) ExecuteRecoveryPlan(ctx context.Context, plan Plan) error {
	c.mu.Lock()
	if c.recoveryInProgress {
		c.mu.Unlock()
		return coderr.New(coderr.KindUnrecoverable, "recovery.ExecuteRecoveryPlan", fmt.Errorf("a recovery is already in progress"))
	}
	c.recoveryInProgress = true
	c.mu.Unlock()

	ctx, span := otel.Tracer("internal/recovery").Start(ctx, "Checker.ExecuteRecoveryPlan")
	defer span.End()

	c.logger.Info("recovery: executing plan", "actions", len(plan.Actions), "risk", plan.Risk)
	err := c.executeActions(ctx, plan.Actions)

	c.mu.Lock()
	c.recoveryInProgress = false
	if err != nil {
		c.failedRecoveryAttempts++
		span.RecordError(err)
	} else {
		c.failedRecoveryAttempts = 0
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("recovery: plan execution failed", "error", err)
	} else {
		c.logger.Info("recovery: plan execution completed")
	}
	return err
}

func (c *Checker) executeActions(ctx context.Context, actions []Action) error {
	for i, action := range actions {
		actionCtx, cancel := context.WithTimeout(ctx, recoveryActionTimeout)
		err := c.executeOne(actionCtx, action)
		cancel()
		if err != nil {
			return fmt.Errorf("action %d/%d (%s): %w", i+1, len(actions), action.Kind, err)
		}
	}
	return nil
}

func (c *Checker) executeOne(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionReplayTransaction:
		return c.replayTransaction(ctx, action.TransactionID)
	case ActionRebuildSnapshot:
		return c.rebuildSnapshot(action.VersionID)
	case ActionRepairContent:
		return c.repairContent(action.ContentHash, action.ReferencedBy, action.Strategy)
	case ActionRemoveOrphan:
		return c.quarantine(action.VersionID, "orphaned snapshot, no referencing ref after a rebuilt DAG")
	case ActionRecomputeChecksum:
		return c.recomputeChecksum(action.ContentHash)
	default:
		return coderr.New(coderr.KindInvalidArgument, "recovery.executeOne", fmt.Errorf("unknown action kind %q", action.Kind))
	}
}

// replayTransaction re-walks the WAL from the start looking for txnID's
// records and hands each to the registered Applier, if any. Without one
// registered this still validates the records are readable (a corrupted
// or truncated WAL surfaces here as an error) but performs no domain
// replay — see Applier's doc comment for why that boundary exists.
func (c *Checker) replayTransaction(ctx context.Context, txnID string) error {
	if c.wal == nil {
		return nil
	}
	want, err := ids.ParseTransaction(txnID)
	if err != nil {
		return coderr.New(coderr.KindInvalidArgument, "recovery.replayTransaction", err)
	}

	var replayed int
	err = c.wal.IterFrom(0, func(r wal.Record) error {
		if r.Txn != want {
			return nil
		}
		if c.applier != nil {
			if err := c.applier.Apply(r.Seq, r.Payload); err != nil {
				return err
			}
		}
		replayed++
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("recovery: replayed transaction", "transaction_id", txnID, "records", replayed)
	return nil
}

// rebuildSnapshot recomputes and re-persists every live node's canonical
// content bytes, the same derivation Graph.Snapshot performs, so a version
// whose manifest referenced content this pass repaired can be recomputed
// from the live graph rather than treated as permanently lost.
func (c *Checker) rebuildSnapshot(versionID string) error {
	if c.g == nil || c.blobs == nil {
		return nil
	}
	_, err := c.g.Snapshot(c.blobs)
	if err != nil {
		return err
	}
	c.logger.Info("recovery: rebuilt snapshot manifest from live graph", "version_id", versionID)
	return nil
}

// repairContent tries to restore a missing content blob. The only source
// this process has for a node's authored content is the live graph itself
// (no external source-file re-read or backup-restore is attempted inline,
// those are RestoreFromBackup's job); if none of the referencing nodes are
// still resident, the hash is quarantined instead of silently dropped.
func (c *Checker) repairContent(hash string, referencedBy []string, strategy RepairStrategy) error {
	if strategy == RepairMarkCorrupted || c.g == nil {
		return c.quarantine(hash, "missing content, no live node to recompute it from")
	}

	for _, nodeIDStr := range referencedBy {
		id, err := ids.ParseNode(nodeIDStr)
		if err != nil {
			continue
		}
		n, err := c.g.GetNode(id)
		if err != nil {
			continue
		}
		enc, err := graph.CanonicalContentBytes(n)
		if err != nil {
			continue
		}
		got, err := c.blobs.Put(enc)
		if err != nil {
			return err
		}
		if got.String() == hash {
			c.logger.Info("recovery: repaired content from live graph", "content_hash", hash)
			return nil
		}
	}
	return c.quarantine(hash, "missing content, referencing nodes no longer hash to the expected value")
}

// recomputeChecksum re-derives a blob's hash by reading it back through
// cas.Store.Get, which rehashes on read; a mismatch here means the blob is
// genuinely corrupted on disk, not just stale bookkeeping, so it's
// quarantined rather than "fixed" in place.
func (c *Checker) recomputeChecksum(hash string) error {
	h, err := cas.ParseHash(hash)
	if err != nil {
		return coderr.New(coderr.KindInvalidArgument, "recovery.recomputeChecksum", err)
	}
	if _, err := c.blobs.Get(h); err != nil {
		return c.quarantine(hash, "checksum mismatch confirmed on recompute")
	}
	return nil
}

func (c *Checker) quarantine(key, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quarantined[key] = reason
	c.logger.Warn("recovery: quarantined", "key", key, "reason", reason)
	return nil
}
