package cas

import (
	"bytes"
	"os"
	"testing"

	"github.com/codegraph-io/codegraph/internal/coderr"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("package main\n\nfunc main() {}\n")
	h, err := s.Put(want)
	if err != nil {
		t.Fatal(err)
	}
	if h != Sum(want) {
		t.Fatal("Put returned wrong hash")
	}
	if !s.Has(h) {
		t.Fatal("Has should report true after Put")
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(Sum([]byte("never stored")))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("Get on missing hash should return nil, nil")
	}
}

func TestPutIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := []byte("same bytes twice")
	h1, err := s.Put(b)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Put(b)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("Put should be stable across repeated writes")
	}
}

func TestGetCorruptedOnDiskTamper(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, err := s.Put([]byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with the stored blob directly on disk.
	path := s.pathFor(h)
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = s.Get(h)
	if coderr.KindOf(err) != coderr.KindCorrupted {
		t.Fatalf("expected KindCorrupted, got %v", err)
	}
}

func TestIterVisitsAllStoredHashes(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := map[Hash]bool{}
	for _, b := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		h, err := s.Put(b)
		if err != nil {
			t.Fatal(err)
		}
		want[h] = true
	}
	got := map[Hash]bool{}
	if err := s.Iter("", func(h Hash) bool {
		got[h] = true
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("Iter visited %d hashes, want %d", len(got), len(want))
	}
	for h := range want {
		if !got[h] {
			t.Fatalf("Iter missed hash %s", h)
		}
	}
}

func TestCacheReadThrough(t *testing.T) {
	s, err := Open(t.TempDir(), WithCacheBytes(1<<20))
	if err != nil {
		t.Fatal(err)
	}
	b := []byte("cached content")
	h, err := s.Put(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, b) {
		t.Fatal("cached read returned wrong bytes")
	}
}
