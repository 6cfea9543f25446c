package service

import (
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/model"
)

// ReadKind distinguishes the invocation paths a read can arrive through
type ReadKind int

const (
	// ReadSingleKey is a non-transactional read issued on this node
	ReadSingleKey ReadKind = iota
	// ReadTransactional is a read issued by a local transaction
	ReadTransactional
	// ReadRemotePrepare is a read performed while preparing a remote
	// transaction
	ReadRemotePrepare
	// ReadRemoteGet is a versioned get sent by another node
	ReadRemoteGet
)

func (k ReadKind) String() string {
	switch k {
	case ReadTransactional:
		return "transactional"
	case ReadRemotePrepare:
		return "remote_prepare"
	case ReadRemoteGet:
		return "remote_get"
	default:
		return "single_key"
	}
}

// ReadContext carries the per-transaction read state through the entry
// factory and the remote read protocol
type ReadContext struct {
	kind ReadKind
	txID model.GlobalTransactionID
	// servedHere is fixed for remote gets: the requester already read from
	// this node
	servedHere bool

	mu          sync.Mutex
	txVersion   *model.Version
	readFrom    []string
	readFromSet map[string]bool
	keysRead    map[string]*model.VersionedEntry
	snapshots   *SnapshotRegistry
	pinned      bool
}

func newReadContext(kind ReadKind, txID model.GlobalTransactionID, txVersion *model.Version) *ReadContext {
	return &ReadContext{
		kind:        kind,
		txID:        txID,
		txVersion:   txVersion,
		readFromSet: make(map[string]bool),
		keysRead:    make(map[string]*model.VersionedEntry),
	}
}

// NewSingleKeyReadContext creates the context of a non-transactional read
func NewSingleKeyReadContext() *ReadContext {
	return newReadContext(ReadSingleKey, "", nil)
}

// NewTxReadContext creates the context of a local transaction whose version
// was assigned when it began
func NewTxReadContext(txID model.GlobalTransactionID, txVersion *model.Version) *ReadContext {
	return newReadContext(ReadTransactional, txID, txVersion)
}

// NewRemotePrepareContext creates the context used while preparing a remote
// transaction
func NewRemotePrepareContext(txID model.GlobalTransactionID) *ReadContext {
	return newReadContext(ReadRemotePrepare, txID, nil)
}

// NewRemoteGetContext creates the context of a versioned get received from
// another node. readFrom lists the nodes the requester already read from.
func NewRemoteGetContext(txID model.GlobalTransactionID, txVersion *model.Version, readFrom []string, servedHere bool) *ReadContext {
	rc := newReadContext(ReadRemoteGet, txID, txVersion)
	for _, node := range readFrom {
		rc.addReadFromLocked(node)
	}
	rc.servedHere = servedHere
	return rc
}

// Kind returns the invocation path
func (rc *ReadContext) Kind() ReadKind {
	return rc.kind
}

// TxID returns the transaction id, empty outside a transaction
func (rc *ReadContext) TxID() model.GlobalTransactionID {
	return rc.txID
}

// IsOriginLocal reports whether the read was issued on this node
func (rc *ReadContext) IsOriginLocal() bool {
	return rc.kind == ReadSingleKey || rc.kind == ReadTransactional
}

// IsInTxScope reports whether the read is bound to a transaction snapshot
func (rc *ReadContext) IsInTxScope() bool {
	return rc.kind == ReadTransactional || (rc.kind == ReadRemoteGet && rc.txID != "")
}

// TransactionVersion returns the transaction's current version
func (rc *ReadContext) TransactionVersion() *model.Version {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.txVersion
}

// SetTransactionVersion replaces the transaction's version
func (rc *ReadContext) SetTransactionVersion(v *model.Version) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.txVersion = v
	rc.pinLocked()
}

// Pin registers the context's snapshot with registry until Release. A context
// without a version yet is pinned when its first version is set.
func (rc *ReadContext) Pin(registry *SnapshotRegistry) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.snapshots != nil {
		return
	}
	rc.snapshots = registry
	rc.pinLocked()
}

func (rc *ReadContext) pinLocked() {
	if rc.snapshots == nil || rc.pinned || rc.txVersion == nil {
		return
	}
	rc.snapshots.pin(rc, rc.txVersion)
	rc.pinned = true
}

// Release lets the garbage collector reclaim the versions the context was
// reading. The context must not be read through afterwards.
func (rc *ReadContext) Release() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.snapshots != nil && rc.pinned {
		rc.snapshots.release(rc)
	}
	rc.pinned = false
	rc.snapshots = nil
}

// AlreadyReadFrom lists the nodes the transaction read from, in first-read
// order
func (rc *ReadContext) AlreadyReadFrom() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.readFrom...)
}

// HasReadFrom reports whether node already served a read
func (rc *ReadContext) HasReadFrom(node string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.readFromSet[node]
}

// HasAlreadyReadOnThisNode reports whether localNode served an earlier read
// of the transaction
func (rc *ReadContext) HasAlreadyReadOnThisNode(localNode string) bool {
	if rc.kind == ReadRemoteGet {
		return rc.servedHere
	}
	return rc.HasReadFrom(localNode)
}

// AddReadFrom records that node served a read
func (rc *ReadContext) AddReadFrom(node string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.addReadFromLocked(node)
}

func (rc *ReadContext) addReadFromLocked(node string) {
	if rc.readFromSet[node] {
		return
	}
	rc.readFromSet[node] = true
	rc.readFrom = append(rc.readFrom, node)
}

// AddKeyReadInCommand records the entry returned for key
func (rc *ReadContext) AddKeyReadInCommand(key string, entry *model.VersionedEntry) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.keysRead[key] = entry
}

// KeyRead returns the entry recorded for key
func (rc *ReadContext) KeyRead(key string) (*model.VersionedEntry, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.keysRead[key]
	return e, ok
}

// KeysRead returns every key read so far, for write-skew validation
func (rc *ReadContext) KeysRead() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	keys := make([]string, 0, len(rc.keysRead))
	for k := range rc.keysRead {
		keys = append(keys, k)
	}
	return keys
}
