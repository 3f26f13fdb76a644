// Package ids defines the opaque 128-bit identifiers shared across the
// graph, version, transaction, and vector layers.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeId identifies a CodeNode, stable across processes.
type NodeId uuid.UUID

// EdgeId identifies an Edge.
type EdgeId uuid.UUID

// VersionId identifies a Version.
type VersionId uuid.UUID

// SnapshotId identifies a Snapshot.
type SnapshotId uuid.UUID

// TransactionId identifies a Transaction.
type TransactionId uuid.UUID

// NewNode mints a new random NodeId.
func NewNode() NodeId { return NodeId(uuid.New()) }

// NewEdge mints a new random EdgeId.
func NewEdge() EdgeId { return EdgeId(uuid.New()) }

// NewVersion mints a new random VersionId.
func NewVersion() VersionId { return VersionId(uuid.New()) }

// NewSnapshot mints a new random SnapshotId.
func NewSnapshot() SnapshotId { return SnapshotId(uuid.New()) }

// NewTransaction mints a new random TransactionId.
func NewTransaction() TransactionId { return TransactionId(uuid.New()) }

// Nil identifiers, used as zero values / sentinels (e.g. "no parent").
var (
	NilNode        = NodeId{}
	NilEdge        = EdgeId{}
	NilVersion     = VersionId{}
	NilSnapshot    = SnapshotId{}
	NilTransaction = TransactionId{}
)

func (id NodeId) String() string        { return uuid.UUID(id).String() }
func (id EdgeId) String() string        { return uuid.UUID(id).String() }
func (id VersionId) String() string     { return uuid.UUID(id).String() }
func (id SnapshotId) String() string    { return uuid.UUID(id).String() }
func (id TransactionId) String() string { return uuid.UUID(id).String() }

func (id NodeId) IsNil() bool    { return id == NilNode }
func (id EdgeId) IsNil() bool    { return id == NilEdge }
func (id VersionId) IsNil() bool { return id == NilVersion }

// ParseNode parses a string-form NodeId.
func ParseNode(s string) (NodeId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("ids: parse node id %q: %w", s, err)
	}
	return NodeId(u), nil
}

// ParseVersion parses a string-form VersionId.
func ParseVersion(s string) (VersionId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return VersionId{}, fmt.Errorf("ids: parse version id %q: %w", s, err)
	}
	return VersionId(u), nil
}

// ParseTransaction parses a string-form TransactionId.
func ParseTransaction(s string) (TransactionId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TransactionId{}, fmt.Errorf("ids: parse transaction id %q: %w", s, err)
	}
	return TransactionId(u), nil
}

// Bytes returns the raw 16-byte encoding, used as map/index keys in the
// CAS-backed side store.

func (id NodeId) Bytes() []byte {
	u := uuid.UUID(id)
	return u[:]
}

func (id VersionId) Bytes() []byte {
	u := uuid.UUID(id)
	return u[:]
}

// MarshalText and UnmarshalText render ids as their canonical UUID string
// form in JSON (CLI output, WAL event payloads) rather than as a raw
// 16-element byte array.
func (id NodeId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *NodeId) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("ids: parse node id %q: %w", b, err)
	}
	*id = NodeId(u)
	return nil
}

func (id EdgeId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *EdgeId) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("ids: parse edge id %q: %w", b, err)
	}
	*id = EdgeId(u)
	return nil
}

func (id VersionId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *VersionId) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("ids: parse version id %q: %w", b, err)
	}
	*id = VersionId(u)
	return nil
}

func (id SnapshotId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *SnapshotId) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("ids: parse snapshot id %q: %w", b, err)
	}
	*id = SnapshotId(u)
	return nil
}

func (id TransactionId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *TransactionId) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("ids: parse transaction id %q: %w", b, err)
	}
	*id = TransactionId(u)
	return nil
}
