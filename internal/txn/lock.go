package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// txnMeta is the minimal state the deadlock detector needs per active
// transaction: who it is waiting on, and how to cancel it if chosen as
// the victim. Kept separate from Txn itself so the lock table never holds
// a reference to the full transaction.
type txnMeta struct {
	id        ids.TransactionId
	snapSeq   uint64
	startedAt time.Time

	mu      sync.Mutex
	waitFor ids.TransactionId // zero value (NilTransaction) = waiting on no one
	cancel  context.CancelFunc
}

// lockTable is a map of key -> holding transaction, used for pessimistic
// write locking independent of MVCC snapshot validation. Waiters poll
// rather than queue, so there is no FIFO order among them.
type lockTable struct {
	mu      sync.Mutex
	holders map[string]ids.TransactionId
}

func newLockTable() *lockTable {
	return &lockTable{holders: make(map[string]ids.TransactionId)}
}

const lockPollInterval = 2 * time.Millisecond

// acquire blocks until key is free or held by txID already (re-entrant),
// the context is cancelled (including by the deadlock detector), or
// timeout elapses.
func (lt *lockTable) acquire(ctx context.Context, m *Manager, txID ids.TransactionId, key string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		lt.mu.Lock()
		holder, held := lt.holders[key]
		if !held || holder == txID {
			lt.holders[key] = txID
			lt.mu.Unlock()
			m.setWaitFor(txID, ids.NilTransaction)
			return nil
		}
		lt.mu.Unlock()

		m.setWaitFor(txID, holder)

		select {
		case <-ctx.Done():
			m.setWaitFor(txID, ids.NilTransaction)
			return coderr.New(coderr.KindCancelled, "txn.Write", ctx.Err())
		case <-ticker.C:
			if time.Now().After(deadline) {
				m.setWaitFor(txID, ids.NilTransaction)
				return coderr.New(coderr.KindLockTimeout, "txn.Write", fmt.Errorf("timed out waiting for key %q held by %s", key, holder))
			}
		}
	}
}

func (lt *lockTable) release(txID ids.TransactionId, key string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.holders[key] == txID {
		delete(lt.holders, key)
	}
}

func (m *Manager) setWaitFor(txID, waitingOn ids.TransactionId) {
	m.activeMu.RLock()
	meta, ok := m.active[txID]
	m.activeMu.RUnlock()
	if !ok {
		return
	}
	meta.mu.Lock()
	meta.waitFor = waitingOn
	meta.mu.Unlock()
}

// runDeadlockDetector periodically scans the wait-for graph built from
// active transactions' waitFor pointers; a DFS cycle is broken by
// cancelling the youngest transaction in it (largest snapSeq), matching
// the MVCC store's own youngest-victim strategy.
func (m *Manager) runDeadlockDetector(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.deadlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.detectAndBreakDeadlock()
		}
	}
}

func (m *Manager) detectAndBreakDeadlock() {
	m.activeMu.RLock()
	graph := make(map[ids.TransactionId]ids.TransactionId, len(m.active))
	metas := make(map[ids.TransactionId]*txnMeta, len(m.active))
	for id, meta := range m.active {
		meta.mu.Lock()
		if meta.waitFor != ids.NilTransaction {
			graph[id] = meta.waitFor
		}
		metas[id] = meta
		meta.mu.Unlock()
	}
	m.activeMu.RUnlock()

	visited := make(map[ids.TransactionId]bool)
	inStack := make(map[ids.TransactionId]bool)

	// dfs returns the members of the first cycle reachable from id. The
	// transactions that only lead into the cycle are left out, so the
	// victim breakCycle picks is always part of the cycle.
	var loopAt ids.TransactionId
	closed := false
	var dfs func(id ids.TransactionId) []ids.TransactionId
	dfs = func(id ids.TransactionId) []ids.TransactionId {
		if inStack[id] {
			loopAt = id
			return []ids.TransactionId{}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		inStack[id] = true
		if next, ok := graph[id]; ok {
			if cycle := dfs(next); cycle != nil {
				if !closed {
					cycle = append(cycle, id)
					closed = id == loopAt
				}
				return cycle
			}
		}
		inStack[id] = false
		return nil
	}

	for id := range graph {
		if visited[id] {
			continue
		}
		cycle := dfs(id)
		if cycle == nil {
			continue
		}
		m.breakCycle(cycle, metas)
		return // one cycle broken per scan is enough; next tick re-scans
	}
}

func (m *Manager) breakCycle(cycle []ids.TransactionId, metas map[ids.TransactionId]*txnMeta) {
	var victim ids.TransactionId
	var victimSeq uint64
	for _, id := range cycle {
		meta, ok := metas[id]
		if !ok {
			continue
		}
		if victim == ids.NilTransaction || meta.snapSeq > victimSeq {
			victim = id
			victimSeq = meta.snapSeq
		}
	}
	if meta, ok := metas[victim]; ok {
		meta.mu.Lock()
		cancel := meta.cancel
		meta.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}
