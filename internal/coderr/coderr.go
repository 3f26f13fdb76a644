// Package coderr implements the error taxonomy of the core: a closed set
// of Kinds plus a wrapper that carries structured detail (conflict lists,
// quarantine ids) without losing the underlying cause.
package coderr

import (
	"errors"
	"fmt"
)

// Kind is a taxonomy bucket, not a type per error site. Callers switch on
// Kind to decide retry/propagation policy, not on error identity.
type Kind string

const (
	// Input
	KindInvalidArgument   Kind = "invalid_argument"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindUnknownId         Kind = "unknown_id"
	KindUnknownBranch     Kind = "unknown_branch"

	// Concurrency
	KindConflictAbort Kind = "conflict_abort"
	KindLockTimeout   Kind = "lock_timeout"
	KindCancelled     Kind = "cancelled"

	// State
	KindInvariantViolated Kind = "invariant_violated"
	KindNotTrained        Kind = "not_trained"
	KindBackpressureFull  Kind = "backpressure_full"

	// Storage
	KindStorageIo Kind = "storage_io"
	KindWalFull   Kind = "wal_full"
	KindCorrupted Kind = "corrupted"

	// Merge
	KindMergeConflict Kind = "merge_conflict"

	// Recovery
	KindUnrecoverable Kind = "unrecoverable"
)

// Retriable reports whether errors of this kind are safe for a caller to
// retry unchanged.
func (k Kind) Retriable() bool {
	switch k {
	case KindConflictAbort, KindLockTimeout, KindBackpressureFull, KindCancelled:
		return true
	default:
		return false
	}
}

// Error is the core's error type. Detail holds kind-specific structured
// data: a []MergeConflictEntry for KindMergeConflict, a quarantine id
// string for KindUnrecoverable, a content/segment hash for KindCorrupted.
type Error struct {
	Kind   Kind
	Op     string // "cas.Put", "wal.Append", "txn.Commit", ...
	Cause  error
	Detail any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match err against another *Error with the same Kind.
// Kind itself does not implement error, so a bare Kind is compared via
// KindOf instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds an *Error.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithDetail attaches structured detail and returns the receiver for chaining.
func (e *Error) WithDetail(d any) *Error {
	e.Detail = d
	return e
}

// KindOf extracts the Kind from err, or "" if err is not a *Error (or
// wraps one).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retriable reports whether err should be retried unchanged by the caller.
func Retriable(err error) bool {
	return KindOf(err).Retriable()
}

// MergeConflictEntry describes one node touched incompatibly by both
// sides of a three-way merge.
type MergeConflictEntry struct {
	NodeID string
	Kind   MergeConflictKind
	Ours   string // content hash on target, empty if n/a
	Theirs string // content hash on source, empty if n/a
}

// MergeConflictKind classifies why a node could not be merged automatically.
type MergeConflictKind string

const (
	ContentMismatch MergeConflictKind = "content_mismatch"
	DeletedByUs     MergeConflictKind = "deleted_by_us"
	DeletedByThem   MergeConflictKind = "deleted_by_them"
	AddedByBoth     MergeConflictKind = "added_by_both"
)

// NewMergeConflict builds a KindMergeConflict error carrying the conflict
// list: a result, not a fault. It still implements error so it composes
// with standard Go error handling, but callers are expected to
// type-switch/inspect Detail rather than treat it as failure.
func NewMergeConflict(op string, entries []MergeConflictEntry) *Error {
	return &Error{Kind: KindMergeConflict, Op: op, Detail: entries}
}
