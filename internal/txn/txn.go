// Package txn implements the MVCC transaction manager: snapshot
// isolation over an arbitrary keyed content map, a pessimistic per-key lock
// table for writers, deadlock detection over the wait-for graph, and
// write-ahead durability on commit.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
	"github.com/codegraph-io/codegraph/internal/wal"
)

// IsolationLevel controls how aggressively a transaction's write set is
// checked against concurrent commits.
type IsolationLevel int

const (
	// SnapshotIsolation aborts only on write-write conflicts (two txns
	// writing the same key where one committed after the other's snapshot).
	SnapshotIsolation IsolationLevel = iota
	// Serializable additionally aborts when a committed txn wrote a key
	// this txn only read, preventing write skew.
	Serializable
)

type txState uint32

const (
	stateActive txState = iota
	stateCommitted
	stateAborted
)

// entry is one key's current value in a snapshot: the content hash (or ""
// for a tombstone) and the txn that last wrote it.
type entry struct {
	hash   string
	writer ids.TransactionId
}

// snapshot is an immutable view of the keyspace as of a given commit seq.
type snapshot struct {
	seq  uint64
	data map[string]entry
}

func (s *snapshot) clone() map[string]entry {
	cp := make(map[string]entry, len(s.data))
	for k, v := range s.data {
		cp[k] = v
	}
	return cp
}

// Manager owns the committed snapshot chain, the active transaction table,
// and the per-key lock table. Safe for concurrent use.
type Manager struct {
	commitMu sync.Mutex
	current  atomic.Pointer[snapshot]
	nextSeq  atomic.Uint64

	activeMu sync.RWMutex
	active   map[ids.TransactionId]*txnMeta

	locks *lockTable
	wal   *wal.Log

	deadlockInterval time.Duration
	lockTimeout      time.Duration

	stop context.CancelFunc
	done chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithWAL wires a write-ahead log; commits become durable before they
// return. Without it, commits are in-memory only (useful for tests).
func WithWAL(l *wal.Log) Option { return func(m *Manager) { m.wal = l } }

// WithDeadlockCheckInterval sets the periodic wait-for-graph scan interval.
func WithDeadlockCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.deadlockInterval = d }
}

// WithLockTimeout bounds how long Write blocks waiting for a contended key
// before returning KindLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// NewManager creates a Manager with an empty keyspace and starts the
// background deadlock detector. Callers must call Close.
func NewManager(ctx context.Context, opts ...Option) *Manager {
	m := &Manager{
		active:           make(map[ids.TransactionId]*txnMeta),
		deadlockInterval: 50 * time.Millisecond,
		lockTimeout:      5 * time.Second,
		done:             make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.locks = newLockTable()
	m.current.Store(&snapshot{seq: 0, data: make(map[string]entry)})

	detCtx, stop := context.WithCancel(ctx)
	m.stop = stop
	go m.runDeadlockDetector(detCtx)

	return m
}

// Close stops the background deadlock detector and waits for it to exit.
func (m *Manager) Close() {
	m.stop()
	<-m.done
}

// Txn is a single-goroutine-owned transaction handle, mirroring
// database/sql's Tx: not safe for concurrent use by multiple goroutines.
type Txn struct {
	ID        ids.TransactionId
	isolation IsolationLevel
	snap      *snapshot
	writes    map[string]string // key -> hash; "" marks a delete
	reads     map[string]bool

	state  atomic.Uint32
	ctx    context.Context
	cancel context.CancelFunc
	mgr    *Manager

	heldLocks []string
}

// Begin starts a new transaction with the given isolation level, taking a
// lock-free snapshot of the committed keyspace.
func (m *Manager) Begin(ctx context.Context, level IsolationLevel) *Txn {
	txCtx, cancel := context.WithCancel(ctx)
	tx := &Txn{
		ID:        ids.NewTransaction(),
		isolation: level,
		snap:      m.current.Load(),
		writes:    make(map[string]string),
		reads:     make(map[string]bool),
		ctx:       txCtx,
		cancel:    cancel,
		mgr:       m,
	}

	m.activeMu.Lock()
	m.active[tx.ID] = &txnMeta{id: tx.ID, snapSeq: tx.snap.seq, startedAt: time.Now(), cancel: cancel}
	m.activeMu.Unlock()

	return tx
}

// ActiveTxnInfo is a point-in-time snapshot of one in-flight transaction,
// used by internal/recovery's consistency check (no locking or cancellation
// capability leaks through it).
type ActiveTxnInfo struct {
	ID        ids.TransactionId
	SnapSeq   uint64
	StartedAt time.Time
}

// ActiveTransactions lists every transaction currently between Begin and
// Commit/Abort.
func (m *Manager) ActiveTransactions() []ActiveTxnInfo {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	out := make([]ActiveTxnInfo, 0, len(m.active))
	for _, meta := range m.active {
		out = append(out, ActiveTxnInfo{ID: meta.id, SnapSeq: meta.snapSeq, StartedAt: meta.startedAt})
	}
	return out
}

// CommittedSeq returns the sequence number of the most recently published
// snapshot, the high-water mark active transactions are validated against.
func (m *Manager) CommittedSeq() uint64 {
	return m.current.Load().seq
}

// Restore rebuilds a Manager's committed keyspace from w by replaying every
// KindCommit record in sequence order, per the crash-recovery contract:
// restart replays from the log and no dangling prepare (a KindBegin with no
// matching KindCommit/KindAbort) ever becomes visible, since only committed
// write-sets were ever appended in the first place. The returned Manager is
// wired to w the same as one built with WithWAL, so subsequent commits
// continue appending after the replayed tail.
func Restore(ctx context.Context, w *wal.Log, opts ...Option) (*Manager, error) {
	m := NewManager(ctx, append(opts, WithWAL(w))...)

	data := make(map[string]entry)
	var lastSeq uint64
	err := w.IterFrom(0, func(r wal.Record) error {
		if r.Kind != wal.KindCommit {
			return nil
		}
		var writes map[string]string
		if err := json.Unmarshal(r.Payload, &writes); err != nil {
			return coderr.New(coderr.KindCorrupted, "txn.Restore", err)
		}
		for k, h := range writes {
			data[k] = entry{hash: h, writer: ids.NilTransaction}
		}
		lastSeq = r.Seq
		return nil
	})
	if err != nil {
		m.Close()
		return nil, err
	}

	m.current.Store(&snapshot{seq: lastSeq, data: data})
	m.nextSeq.Store(lastSeq)
	return m, nil
}

// Read returns the content hash visible to tx for key, preferring the
// transaction's own uncommitted writes (read-your-own-writes).
func (tx *Txn) Read(key string) (hash string, ok bool) {
	if h, written := tx.writes[key]; written {
		tx.reads[key] = true
		return h, h != ""
	}
	if e, present := tx.snap.data[key]; present {
		tx.reads[key] = true
		return e.hash, e.hash != ""
	}
	return "", false
}

// Write acquires an exclusive lock on key (blocking, subject to
// WithLockTimeout and deadlock abort) and stages hash as key's new value.
func (tx *Txn) Write(key, hash string) error {
	if txState(tx.state.Load()) != stateActive {
		return coderr.New(coderr.KindInvalidArgument, "txn.Write", fmt.Errorf("transaction %s is not active", tx.ID))
	}
	if err := tx.mgr.locks.acquire(tx.ctx, tx.mgr, tx.ID, key, tx.mgr.lockTimeout); err != nil {
		return err
	}
	tx.heldLocks = append(tx.heldLocks, key)
	tx.writes[key] = hash
	return nil
}

// Delete stages key for removal, visible as absent to subsequent Reads on
// this txn and, after commit, to new snapshots.
func (tx *Txn) Delete(key string) error {
	return tx.Write(key, "")
}

// Commit validates the write set against the latest committed snapshot,
// appends a WAL record (if wired), and publishes a new snapshot. Returns a
// KindConflictAbort error if validation fails; the caller should retry the
// whole transaction.
func (tx *Txn) Commit() error {
	if !tx.state.CompareAndSwap(uint32(stateActive), uint32(stateCommitted)) {
		return coderr.New(coderr.KindInvalidArgument, "txn.Commit", fmt.Errorf("transaction %s already finished", tx.ID))
	}
	defer tx.finish()

	if err := tx.ctx.Err(); err != nil {
		tx.state.Store(uint32(stateAborted))
		return coderr.New(coderr.KindCancelled, "txn.Commit", err)
	}

	m := tx.mgr
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	current := m.current.Load()
	if err := tx.validate(current); err != nil {
		tx.state.Store(uint32(stateAborted))
		return err
	}

	newData := current.clone()
	for k, h := range tx.writes {
		newData[k] = entry{hash: h, writer: tx.ID}
	}

	seq := m.nextSeq.Add(1)
	if m.wal != nil {
		payload, _ := json.Marshal(tx.writes)
		if _, err := m.wal.Append(tx.ID, wal.KindCommit, payload); err != nil {
			tx.state.Store(uint32(stateAborted))
			return err
		}
		if err := m.wal.Flush(); err != nil {
			tx.state.Store(uint32(stateAborted))
			return err
		}
	}

	assert.Always(seq > current.seq, "txn: a committed snapshot's sequence strictly advances the prior one", map[string]any{
		"prior_seq": current.seq, "new_seq": seq,
	})
	m.current.Store(&snapshot{seq: seq, data: newData})
	return nil
}

// validate checks for conflicts against current, the committed state as of
// the commit attempt (current.seq may be ahead of tx.snap.seq if other
// transactions committed concurrently).
func (tx *Txn) validate(current *snapshot) error {
	if current.seq == tx.snap.seq {
		return nil // nothing committed since our snapshot
	}
	var conflicts []coderr.MergeConflictEntry
	for k := range tx.writes {
		if e, ok := current.data[k]; ok && e.writer != tx.ID {
			if baseE, inSnap := tx.snap.data[k]; !inSnap || baseE.writer != e.writer {
				conflicts = append(conflicts, coderr.MergeConflictEntry{NodeID: k, Kind: coderr.ContentMismatch})
			}
		}
	}
	if tx.isolation == Serializable {
		for k := range tx.reads {
			if _, wrote := tx.writes[k]; wrote {
				continue
			}
			if e, ok := current.data[k]; ok && e.writer != tx.ID {
				if baseE, inSnap := tx.snap.data[k]; !inSnap || baseE.writer != e.writer {
					conflicts = append(conflicts, coderr.MergeConflictEntry{NodeID: k, Kind: coderr.ContentMismatch})
				}
			}
		}
	}
	if len(conflicts) > 0 {
		keys := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			keys = append(keys, c.NodeID)
		}
		return coderr.New(coderr.KindConflictAbort, "txn.Commit", fmt.Errorf("write-write conflict on keys %v", keys))
	}
	return nil
}

// Abort discards the transaction's staged writes without publishing them.
// Safe to call more than once, including after Commit.
func (tx *Txn) Abort() {
	if !tx.state.CompareAndSwap(uint32(stateActive), uint32(stateAborted)) {
		return
	}
	tx.finish()
}

func (tx *Txn) finish() {
	tx.cancel()
	for _, k := range tx.heldLocks {
		tx.mgr.locks.release(tx.ID, k)
	}
	tx.mgr.activeMu.Lock()
	delete(tx.mgr.active, tx.ID)
	tx.mgr.activeMu.Unlock()
}

// Checkpoint asks the wired WAL (if any) to drop segments older than the
// manager's last committed sequence, bounding replay time after a crash.
func (m *Manager) Checkpoint() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.TruncateBefore(m.nextSeq.Load())
}
