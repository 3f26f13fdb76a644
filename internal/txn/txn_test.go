package txn

import (
	"context"
	"testing"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/wal"
)

func TestReadYourOwnWrites(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	tx := m.Begin(context.Background(), SnapshotIsolation)
	if err := tx.Write("n1", "hashA"); err != nil {
		t.Fatal(err)
	}
	h, ok := tx.Read("n1")
	if !ok || h != "hashA" {
		t.Fatalf("expected to read own write, got %q %v", h, ok)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestCommitPublishesSnapshot(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	tx1 := m.Begin(context.Background(), SnapshotIsolation)
	if err := tx1.Write("n1", "hashA"); err != nil {
		t.Fatal(err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2 := m.Begin(context.Background(), SnapshotIsolation)
	h, ok := tx2.Read("n1")
	if !ok || h != "hashA" {
		t.Fatalf("expected new txn to see committed write, got %q %v", h, ok)
	}
	tx2.Abort()
}

func TestConflictAbortOnConcurrentWrite(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	base := m.Begin(context.Background(), SnapshotIsolation)
	if err := base.Write("n1", "base"); err != nil {
		t.Fatal(err)
	}
	if err := base.Commit(); err != nil {
		t.Fatal(err)
	}

	tx1 := m.Begin(context.Background(), SnapshotIsolation)
	tx2 := m.Begin(context.Background(), SnapshotIsolation)

	if err := tx1.Write("n1", "from-tx1"); err != nil {
		t.Fatal(err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatal(err)
	}

	// tx1 released its lock on n1 at commit, so tx2 can acquire it; the
	// conflict must then be caught by commit-time snapshot validation.
	if err := tx2.Write("n1", "from-tx2"); err != nil {
		t.Fatal(err)
	}
	err := tx2.Commit()
	if coderr.KindOf(err) != coderr.KindConflictAbort {
		t.Fatalf("expected KindConflictAbort, got %v", err)
	}
}

func TestLockTimeout(t *testing.T) {
	m := NewManager(context.Background(), WithLockTimeout(20*time.Millisecond))
	defer m.Close()

	tx1 := m.Begin(context.Background(), SnapshotIsolation)
	if err := tx1.Write("n1", "v1"); err != nil {
		t.Fatal(err)
	}

	tx2 := m.Begin(context.Background(), SnapshotIsolation)
	err := tx2.Write("n1", "v2")
	if coderr.KindOf(err) != coderr.KindLockTimeout {
		t.Fatalf("expected KindLockTimeout, got %v", err)
	}
	tx1.Abort()
	tx2.Abort()
}

func TestDeadlockDetectorBreaksCycle(t *testing.T) {
	m := NewManager(context.Background(), WithDeadlockCheckInterval(5*time.Millisecond), WithLockTimeout(2*time.Second))
	defer m.Close()

	tx1 := m.Begin(context.Background(), SnapshotIsolation)
	tx2 := m.Begin(context.Background(), SnapshotIsolation)

	if err := tx1.Write("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Write("b", "1"); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- tx1.Write("b", "2") }()
	go func() { errCh <- tx2.Write("a", "2") }()

	var gotCancelled bool
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil && coderr.KindOf(err) == coderr.KindCancelled {
				gotCancelled = true
			}
		case <-time.After(3 * time.Second):
			t.Fatal("deadlock was never broken")
		}
	}
	if !gotCancelled {
		t.Fatal("expected the deadlock detector to cancel one of the two transactions")
	}
}

func TestAbortDiscardsWrites(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	tx1 := m.Begin(context.Background(), SnapshotIsolation)
	if err := tx1.Write("n1", "v1"); err != nil {
		t.Fatal(err)
	}
	tx1.Abort()

	tx2 := m.Begin(context.Background(), SnapshotIsolation)
	_, ok := tx2.Read("n1")
	if ok {
		t.Fatal("aborted write should not be visible")
	}
}

func TestRestoreReplaysCommittedKeyspace(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(dir, wal.WithSyncPolicy(wal.SyncAlways))
	if err != nil {
		t.Fatal(err)
	}

	m := NewManager(context.Background(), WithWAL(l))
	tx := m.Begin(context.Background(), SnapshotIsolation)
	if err := tx.Write("n1", "hashA"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	m.Close()
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	l2, err := wal.Open(dir, wal.WithSyncPolicy(wal.SyncAlways))
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()

	restored, err := Restore(context.Background(), l2)
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()

	tx2 := restored.Begin(context.Background(), SnapshotIsolation)
	h, ok := tx2.Read("n1")
	if !ok || h != "hashA" {
		t.Fatalf("expected restored keyspace to have n1=hashA, got %q %v", h, ok)
	}
}
