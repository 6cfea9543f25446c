package model

import "fmt"

// EntryKind tags a VersionedEntry as a stored value or an absence marker
type EntryKind int

const (
	// EntryAbsent marks a key that has no value at the read boundary (never
	// written, or deleted)
	EntryAbsent EntryKind = iota
	// EntryPresent marks a stored value
	EntryPresent
)

// VersionedEntry is what a read returns: a value (or its absence) plus the
// version metadata a transaction needs to reason about staleness.
type VersionedEntry struct {
	Key   string
	Kind  EntryKind
	Value []byte

	// CreationVersion is the version that wrote the value. Nil when it has
	// been garbage collected and not yet backfilled.
	CreationVersion *Version
	// MostRecent is true when no newer version of the key exists
	MostRecent bool
	// MaxTxVersion is the boundary the reading transaction was held to
	MaxTxVersion *Version
	// MaxValidVersion is the version of the write that replaced the value.
	// The value is current only for snapshots strictly older than it. Nil
	// means "valid up to now".
	MaxValidVersion *Version
	// UnsafeToRead is set when a newer version exists below the boundary but
	// could not be selected
	UnsafeToRead bool
}

// NewPresentEntry wraps a stored value
func NewPresentEntry(key string, value []byte, creation *Version) *VersionedEntry {
	return &VersionedEntry{
		Key:             key,
		Kind:            EntryPresent,
		Value:           value,
		CreationVersion: creation,
	}
}

// NewAbsentEntry creates an absence marker. creation is the version of the
// delete that produced it, nil if the key never existed.
func NewAbsentEntry(key string, creation *Version) *VersionedEntry {
	return &VersionedEntry{
		Key:             key,
		Kind:            EntryAbsent,
		CreationVersion: creation,
	}
}

// IsAbsent reports whether the entry carries no value
func (e *VersionedEntry) IsAbsent() bool {
	return e == nil || e.Kind == EntryAbsent
}

// Clone returns a shallow copy safe to mutate metadata on
func (e *VersionedEntry) Clone() *VersionedEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func (e *VersionedEntry) String() string {
	kind := "present"
	if e.IsAbsent() {
		kind = "absent"
	}
	return fmt.Sprintf("VersionedEntry{key=%s, %s, created=%s, mostRecent=%t, maxTx=%s, maxValid=%s}",
		e.Key, kind, e.CreationVersion, e.MostRecent, e.MaxTxVersion, e.MaxValidVersion)
}

// StoredVersion is one link of a key's version chain inside a container
type StoredVersion struct {
	Kind    EntryKind
	Value   []byte
	Version *Version
}
