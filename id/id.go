// Package id defines TypeID-based identifiers for Courier entities.
//
// Generated jobs, workers, leases and dead-letter entries share a single
// ID struct whose prefix names the entity. IDs are K-sortable (UUIDv7) and
// render as "prefix_suffix". Tenant-supplied job IDs are plain strings and
// never pass through this package.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
	PrefixLease  Prefix = "lease"
	PrefixDLQ    Prefix = "dlq"
)

// ID is a prefix-qualified TypeID. The zero value is Nil and renders as "".
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the zero ID.
var Nil ID

// Aliases document what an ID names at API boundaries.
type (
	JobID    = ID
	WorkerID = ID
	// LeaseID fences a single claim of a job.
	LeaseID = ID
	DLQID   = ID
)

var errEmpty = errors.New("empty string")

// New mints an ID under prefix. An invalid prefix is a programming error
// and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: bad prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID    { return New(PrefixJob) }
func NewWorkerID() ID { return New(PrefixWorker) }
func NewDLQID() ID    { return New(PrefixDLQ) }

// NewLeaseID mints a fresh fencing token; no two claims share one.
func NewLeaseID() ID { return New(PrefixLease) }

// Parse decodes "prefix_suffix" with any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: %w", s, errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix decodes s and requires its prefix to be want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return v, nil
}

func ParseJobID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixJob) }
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }
func ParseLeaseID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixLease) }
func ParseDLQID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixDLQ) }

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// MarshalText renders Nil as empty text.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText accepts empty text as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	return i.decode(string(data))
}

// Value stores Nil as SQL NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan reads NULL, text or bytes columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.decode(v)
	case []byte:
		return i.decode(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}

func (i *ID) decode(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
