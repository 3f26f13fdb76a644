// Package wal implements the write-ahead log: the single durability
// boundary all mutating operations pass through before a caller is told a
// write survived a crash.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/antithesishq/antithesis-sdk-go/assert"
	"github.com/minio/highwayhash"

	"github.com/codegraph-io/codegraph/internal/coderr"
	"github.com/codegraph-io/codegraph/internal/ids"
)

// Kind identifies what a Record carries.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindPut          // CAS blob write
	KindEdge         // edge add/remove
	KindNodeSet      // node property/content change
	KindVectorUpsert
	KindVectorDelete
	KindVersionCreate
	KindCommit
	KindAbort
	KindCheckpoint
)

// SegmentBytes is the rollover threshold for a single log segment.
const SegmentBytes = 64 << 20 // 64 MiB

// hashKey is a fixed all-zero key for highwayhash, acceptable here because
// the WAL's payload_hash defends against torn writes and bit rot, not
// against an adversary who controls log contents.
var hashKey = make([]byte, 32)

// Record is one WAL frame after decoding.
type Record struct {
	Seq     uint64
	Txn     ids.TransactionId
	Kind    Kind
	Payload []byte
}

// frame wire format: len:u32 | seq:u64 | txn:16B | kind:u8 | payload | crc:u32(highwayhash64 truncated)
const frameHeaderSize = 4 + 8 + 16 + 1
const frameTrailerSize = 4

// SyncPolicy controls how aggressively Append forces data to stable storage.
type SyncPolicy int

const (
	// SyncAlways fsyncs after every Append. Strongest durability, slowest.
	SyncAlways SyncPolicy = iota
	// SyncInterval leaves fsyncs to an explicit Flush, segment rollover and
	// Close; Append itself never fsyncs under it, and no timer flushes on
	// a fixed interval.
	SyncInterval
	// SyncNone never fsyncs; only an explicit Flush call does. Used in
	// tests and bulk-load paths that accept a bounded replay window.
	SyncNone
)

// Log is an append-only, segmented write-ahead log.
type Log struct {
	mu     sync.Mutex
	dir    string
	policy SyncPolicy
	logger *slog.Logger

	seq        uint64
	segIdx     int
	segFile    *os.File
	segWriter  *bufio.Writer
	segBytes   int64
	dirtyBytes int
}

// Option configures a Log.
type Option func(*Log)

// WithSyncPolicy sets the fsync strategy.
func WithSyncPolicy(p SyncPolicy) Option { return func(l *Log) { l.policy = p } }

// WithLogger sets a structured logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Log) { l.logger = lg } }

// Open opens (creating if absent) a WAL rooted at dir, replaying existing
// segments is the caller's responsibility via IterFrom(0, ...) before
// resuming writes.
func Open(dir string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, coderr.New(coderr.KindStorageIo, "wal.Open", err)
	}
	l := &Log{dir: dir, policy: SyncInterval, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}

	last, lastSeq, err := latestSegment(dir)
	if err != nil {
		return nil, err
	}
	l.segIdx = last
	l.seq = lastSeq

	if err := l.openSegmentForAppend(l.segIdx); err != nil {
		return nil, err
	}
	return l, nil
}

func segmentPath(dir string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("%08d.wal", idx))
}

func latestSegment(dir string) (idx int, lastSeq uint64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, coderr.New(coderr.KindStorageIo, "wal.latestSegment", err)
	}
	var idxs []int
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wal" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%08d.wal", &n); err == nil {
			idxs = append(idxs, n)
		}
	}
	if len(idxs) == 0 {
		return 0, 0, nil
	}
	sort.Ints(idxs)
	top := idxs[len(idxs)-1]

	var lastRecSeq uint64
	l := &Log{dir: dir}
	_ = l.iterSegment(top, func(r Record) error {
		lastRecSeq = r.Seq
		return nil
	})
	return top, lastRecSeq, nil
}

func (l *Log) openSegmentForAppend(idx int) error {
	f, err := os.OpenFile(segmentPath(l.dir, idx), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return coderr.New(coderr.KindStorageIo, "wal.openSegmentForAppend", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return coderr.New(coderr.KindStorageIo, "wal.openSegmentForAppend", err)
	}
	l.segFile = f
	l.segWriter = bufio.NewWriter(f)
	l.segBytes = info.Size()
	return nil
}

// Append writes a record and returns the sequence number assigned to it.
// Durability depends on the Log's SyncPolicy; callers needing a hard
// guarantee should follow with Flush.
func (l *Log) Append(txn ids.TransactionId, kind Kind, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	seq := l.seq

	frame := encodeFrame(seq, txn, kind, payload)

	if l.segBytes+int64(len(frame)) > SegmentBytes {
		if err := l.rollSegmentLocked(); err != nil {
			return 0, err
		}
	}

	n, err := l.segWriter.Write(frame)
	if err != nil {
		return 0, coderr.New(coderr.KindStorageIo, "wal.Append", err)
	}
	assert.Always(n == len(frame), "wal: Append writes the whole frame or fails, never a partial frame", map[string]any{
		"seq": seq, "frame_len": len(frame), "written": n,
	})
	l.segBytes += int64(n)
	l.dirtyBytes += n

	if l.policy == SyncAlways {
		if err := l.flushLocked(); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func (l *Log) rollSegmentLocked() error {
	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.segFile.Close(); err != nil {
		return coderr.New(coderr.KindStorageIo, "wal.rollSegmentLocked", err)
	}
	l.segIdx++
	return l.openSegmentForAppend(l.segIdx)
}

// Flush forces buffered records to stable storage.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	if l.dirtyBytes == 0 {
		return nil
	}
	if err := l.segWriter.Flush(); err != nil {
		return coderr.New(coderr.KindStorageIo, "wal.flushLocked", err)
	}
	if err := l.segFile.Sync(); err != nil {
		return coderr.New(coderr.KindStorageIo, "wal.flushLocked", err)
	}
	l.dirtyBytes = 0
	return nil
}

// Close flushes and releases the active segment file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.segFile.Close()
}

func encodeFrame(seq uint64, txn ids.TransactionId, kind Kind, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload)+frameTrailerSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(frameHeaderSize-4+len(payload)))
	binary.BigEndian.PutUint64(buf[4:12], seq)
	copy(buf[12:28], txn.Bytes())
	buf[28] = byte(kind)
	copy(buf[29:29+len(payload)], payload)

	sum := highwayhash.Sum64(buf[4:29+len(payload)], hashKey)
	binary.BigEndian.PutUint32(buf[29+len(payload):], uint32(sum))
	return buf
}

// IterFrom replays every record with Seq >= from, in order, across all
// segments. fn returning an error stops iteration and is propagated.
func (l *Log) IterFrom(from uint64, fn func(Record) error) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return coderr.New(coderr.KindStorageIo, "wal.IterFrom", err)
	}
	var idxs []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%08d.wal", &n); err == nil {
			idxs = append(idxs, n)
		}
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		stop := false
		err := l.iterSegment(idx, func(r Record) error {
			if r.Seq < from {
				return nil
			}
			if err := fn(r); err != nil {
				stop = true
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// iterSegment reads one segment file frame by frame, stopping silently at
// the first truncated/malformed trailing frame (an incomplete write from a
// crash mid-Append rather than corruption of a previously-committed frame).
func (l *Log) iterSegment(idx int, fn func(Record) error) error {
	f, err := os.Open(segmentPath(l.dir, idx))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return coderr.New(coderr.KindStorageIo, "wal.iterSegment", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil // EOF or short read: end of usable log
		}
		bodyLen := binary.BigEndian.Uint32(lenBuf[:])
		rest := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil // truncated trailing frame
		}

		full := append(lenBuf[:], rest...)
		payloadLen := int(bodyLen) - (frameHeaderSize - 4) - frameTrailerSize
		if payloadLen < 0 {
			return nil
		}

		gotSum := binary.BigEndian.Uint32(full[len(full)-frameTrailerSize:])
		wantSum := uint32(highwayhash.Sum64(full[4:len(full)-frameTrailerSize], hashKey))
		if gotSum != wantSum {
			return nil // trailing torn write; treat as end of log, not a hard error
		}

		seq := binary.BigEndian.Uint64(full[4:12])
		var txnBytes [16]byte
		copy(txnBytes[:], full[12:28])
		rec := Record{
			Seq:     seq,
			Txn:     ids.TransactionId(txnBytes),
			Kind:    Kind(full[28]),
			Payload: full[29 : 29+payloadLen],
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// TruncateBefore removes whole segments that contain no record with
// Seq >= keepFrom, reclaiming space after a checkpoint. The active segment
// is never removed.
func (l *Log) TruncateBefore(keepFrom uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return coderr.New(coderr.KindStorageIo, "wal.TruncateBefore", err)
	}
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%08d.wal", &n); err != nil || n == l.segIdx {
			continue
		}
		maxSeq := uint64(0)
		_ = l.iterSegment(n, func(r Record) error {
			if r.Seq > maxSeq {
				maxSeq = r.Seq
			}
			return nil
		})
		if maxSeq != 0 && maxSeq < keepFrom {
			if err := os.Remove(segmentPath(l.dir, n)); err != nil && !os.IsNotExist(err) {
				return coderr.New(coderr.KindStorageIo, "wal.TruncateBefore", err)
			}
		}
	}
	return nil
}
