// Package cas implements the immutable content-addressable store:
// hash -> bytes, sharded on disk, with atomic writes and wait-free reads.
package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/antithesishq/antithesis-sdk-go/assert"

	"github.com/codegraph-io/codegraph/internal/coderr"
)

// HashSize is the digest length in bytes of a 32-byte cryptographic digest
// (SHA-256); crypto/sha256 is the stdlib's cryptographic hash and no pack
// dependency offers a drop-in replacement suited to content addressing, so
// this one concern stays on the standard library (see DESIGN.md).
const HashSize = 32

// Hash is a content digest, used as the CAS key.
type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Sum computes the content hash of b.
func Sum(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashSize {
		return Hash{}, fmt.Errorf("cas: invalid hash %q", s)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// Store is an immutable, content-addressed byte store rooted at a
// directory, sharded by the first byte of the hash (db/cas/<hh>/<hashhex>).
type Store struct {
	root   string
	logger *slog.Logger

	cacheMu    sync.RWMutex
	cache      map[Hash][]byte
	cacheBytes int64
	cacheCap   int64 // 0 disables caching
}

// Option configures a Store.
type Option func(*Store)

// WithCacheBytes enables a bounded read-through cache, sized by
// CODEGRAPH_CACHE_BYTES in the deployed configuration.
func WithCacheBytes(n int64) Option {
	return func(s *Store) { s.cacheCap = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates/opens a Store rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, coderr.New(coderr.KindStorageIo, "cas.Open", err)
	}
	s := &Store{
		root:   dir,
		logger: slog.Default(),
		cache:  make(map[Hash][]byte),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) pathFor(h Hash) string {
	hex := h.String()
	return filepath.Join(s.root, hex[:2], hex)
}

// Has reports whether a blob for h exists.
func (s *Store) Has(h Hash) bool {
	if s.cacheCap > 0 {
		s.cacheMu.RLock()
		_, ok := s.cache[h]
		s.cacheMu.RUnlock()
		if ok {
			return true
		}
	}
	_, err := os.Stat(s.pathFor(h))
	return err == nil
}

// Put stores b and returns its content hash. Idempotent: writing the same
// bytes under the same hash twice is a no-op on the second call.
func (s *Store) Put(b []byte) (Hash, error) {
	h := Sum(b)
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, h.String()[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return h, coderr.New(coderr.KindStorageIo, "cas.Put", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return h, coderr.New(coderr.KindStorageIo, "cas.Put", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return h, coderr.New(coderr.KindStorageIo, "cas.Put", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return h, coderr.New(coderr.KindStorageIo, "cas.Put", err)
	}
	if err := tmp.Close(); err != nil {
		return h, coderr.New(coderr.KindStorageIo, "cas.Put", err)
	}

	dst := s.pathFor(h)
	if err := os.Rename(tmpName, dst); err != nil {
		return h, coderr.New(coderr.KindStorageIo, "cas.Put", err)
	}

	s.cachePut(h, b)
	return h, nil
}

// Get returns the bytes for h, or nil if absent. It rehashes on read and
// returns Corrupted if the stored bytes no longer match the key.
func (s *Store) Get(h Hash) ([]byte, error) {
	if s.cacheCap > 0 {
		s.cacheMu.RLock()
		if b, ok := s.cache[h]; ok {
			cp := make([]byte, len(b))
			copy(cp, b)
			s.cacheMu.RUnlock()
			return cp, nil
		}
		s.cacheMu.RUnlock()
	}

	f, err := os.Open(s.pathFor(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coderr.New(coderr.KindStorageIo, "cas.Get", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, coderr.New(coderr.KindStorageIo, "cas.Get", err)
	}
	rehash := Sum(b)
	assert.Always(rehash == h, "cas: content read back from disk rehashes to its storage key", map[string]any{
		"want": h.String(), "got": rehash.String(),
	})
	if rehash != h {
		return nil, coderr.New(coderr.KindCorrupted, "cas.Get", fmt.Errorf("rehash mismatch for %s", h)).
			WithDetail(h.String())
	}

	s.cachePut(h, b)
	return b, nil
}

func (s *Store) cachePut(h Hash, b []byte) {
	if s.cacheCap <= 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if _, ok := s.cache[h]; ok {
		return
	}
	if s.cacheBytes+int64(len(b)) > s.cacheCap {
		// Simple eviction: drop arbitrary entries until there's room.
		// The cache is a read-through accelerator, not a correctness
		// boundary, so map iteration order is an acceptable eviction policy.
		for k, v := range s.cache {
			if s.cacheBytes+int64(len(b)) <= s.cacheCap {
				break
			}
			delete(s.cache, k)
			s.cacheBytes -= int64(len(v))
		}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.cache[h] = cp
	s.cacheBytes += int64(len(b))
}

// Iter calls fn for every stored hash whose hex encoding starts with
// prefix ("" matches everything). Iteration stops early if fn returns false.
func (s *Store) Iter(prefix string, fn func(Hash) bool) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return coderr.New(coderr.KindStorageIo, "cas.Iter", err)
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardEntries, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return coderr.New(coderr.KindStorageIo, "cas.Iter", err)
		}
		for _, e := range shardEntries {
			name := e.Name()
			if len(name) != HashSize*2 || !bytes.HasPrefix([]byte(name), []byte(prefix)) {
				continue
			}
			h, err := ParseHash(name)
			if err != nil {
				continue
			}
			if !fn(h) {
				return nil
			}
		}
	}
	return nil
}
