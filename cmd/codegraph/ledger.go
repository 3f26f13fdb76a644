package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// ledgerEntry records one transaction's outcome across CLI invocations.
// The CLI has no "stage a write" command, so a "tx begin" invocation has
// nothing to leave pending: it begins and commits an empty write set in
// the same process, and this ledger is what lets a later "tx commit <id>"
// or "tx rollback <id>" report on that already-resolved outcome honestly
// instead of pretending to resume a transaction no process still holds.
type ledgerEntry struct {
	ID         string    `json:"transaction_id"`
	Isolation  string    `json:"isolation"`
	State      string    `json:"state"` // committed | rolled_back
	SnapSeq    uint64    `json:"snapshot_seq"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type ledger struct {
	path    string
	entries map[string]ledgerEntry
}

func ledgerPath(storageRoot string) string {
	return filepath.Join(storageRoot, "txn", "ledger.json")
}

func loadLedger(storageRoot string) (*ledger, error) {
	path := ledgerPath(storageRoot)
	l := &ledger{path: path, entries: make(map[string]ledgerEntry)}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, coderr.New(coderr.KindStorageIo, "ledger.load", err)
	}
	if len(b) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(b, &l.entries); err != nil {
		return nil, coderr.New(coderr.KindCorrupted, "ledger.load", err)
	}
	return l, nil
}

// save writes the whole ledger back via a temp-file-then-rename, the same
// atomicity pattern internal/cas uses for blob writes: a reader never
// observes a half-written ledger file.
func (l *ledger) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return coderr.New(coderr.KindStorageIo, "ledger.save", err)
	}
	enc, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return coderr.New(coderr.KindInvalidArgument, "ledger.save", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), "ledger-*.tmp")
	if err != nil {
		return coderr.New(coderr.KindStorageIo, "ledger.save", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(enc); err != nil {
		tmp.Close()
		return coderr.New(coderr.KindStorageIo, "ledger.save", err)
	}
	if err := tmp.Close(); err != nil {
		return coderr.New(coderr.KindStorageIo, "ledger.save", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return coderr.New(coderr.KindStorageIo, "ledger.save", err)
	}
	return nil
}

func (l *ledger) put(e ledgerEntry) error {
	l.entries[e.ID] = e
	return l.save()
}

func (l *ledger) get(id ids.TransactionId) (ledgerEntry, bool) {
	e, ok := l.entries[id.String()]
	return e, ok
}
