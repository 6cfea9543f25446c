package service

import (
	"context"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// OwnershipLookup resolves the ordered owners of a key
type OwnershipLookup interface {
	Locate(key string) []string
	// TopologyID changes whenever the owner mapping changes
	TopologyID() uint64
}

// VersionedReader reads a key at a version boundary
type VersionedReader interface {
	Get(key string, boundary *model.Version) *model.VersionedEntry
}

// SnapshotEntryFactory picks the version boundary of every read served by
// this node and fetches the entry at that boundary
type SnapshotEntryFactory struct {
	localNode   string
	ownership   OwnershipLookup
	store       VersionedReader
	commitLog   *CommitLogService
	generator   *VersionGenerator
	waitTimeout time.Duration
	snapshots   *SnapshotRegistry
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewSnapshotEntryFactory creates an entry factory. waitTimeout bounds the
// wait for a transaction's causal past on its first read. The snapshots of
// transactional reads are registered with the commit log so garbage
// collection leaves them readable.
func NewSnapshotEntryFactory(ownership OwnershipLookup, store VersionedReader, commitLog *CommitLogService, generator *VersionGenerator, waitTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *SnapshotEntryFactory {
	f := &SnapshotEntryFactory{
		localNode:   generator.NodeID(),
		ownership:   ownership,
		store:       store,
		commitLog:   commitLog,
		generator:   generator,
		waitTimeout: waitTimeout,
		snapshots:   NewSnapshotRegistry(),
		metrics:     m,
		logger:      logger,
	}
	commitLog.TrackLiveSnapshots(f.snapshots)
	return f
}

// Snapshots returns the registry of snapshots pinned by open read contexts
func (f *SnapshotEntryFactory) Snapshots() *SnapshotRegistry {
	return f.snapshots
}

// IsLocalOwner reports whether this node owns key
func (f *SnapshotEntryFactory) IsLocalOwner(key string) bool {
	for _, owner := range f.ownership.Locate(key) {
		if owner == f.localNode {
			return true
		}
	}
	return false
}

// Read returns the entry of key visible to rc. A nil entry with a nil error
// means the key is not owned here and must be fetched remotely.
func (f *SnapshotEntryFactory) Read(ctx context.Context, rc *ReadContext, key string) (*model.VersionedEntry, error) {
	if rc.IsOriginLocal() && !f.IsLocalOwner(key) {
		return nil, nil
	}
	if rc.IsInTxScope() {
		rc.Pin(f.snapshots)
	}

	versionToRead := f.versionToRead(rc)
	alreadyHere := rc.HasAlreadyReadOnThisNode(f.localNode)

	if rc.IsInTxScope() && !alreadyHere {
		if err := f.commitLog.WaitForVersion(ctx, rc.TransactionVersion(), f.waitTimeout); err != nil {
			f.logger.Warn("Reading without full causal past",
				zap.String("tx_id", rc.TxID().String()),
				zap.String("key", key),
				zap.Error(err))
		}
	}

	var maxVersion *model.Version
	if alreadyHere {
		maxVersion = versionToRead
	} else {
		maxVersion = f.commitLog.GetAvailableVersionLessThan(versionToRead)
	}

	mostRecent := f.commitLog.GetCurrentVersion()
	entry := f.store.Get(key, maxVersion)
	entry.MaxTxVersion = maxVersion

	if rc.Kind() == ReadRemoteGet {
		if entry.MaxValidVersion == nil {
			entry.MaxValidVersion = mostRecent
		} else {
			entry.MaxValidVersion = f.commitLog.GetEntry(entry.MaxValidVersion)
		}
		if entry.CreationVersion == nil {
			entry.CreationVersion = f.commitLog.GetOldestVersion()
		} else {
			entry.CreationVersion = f.commitLog.GetEntry(entry.CreationVersion)
		}
	}

	rc.AddKeyReadInCommand(key, entry)

	if rc.Kind() == ReadTransactional {
		rc.AddReadFrom(f.localNode)
		if err := f.advanceTxVersion(rc, maxVersion); err != nil {
			return nil, err
		}
	}

	f.metrics.ReadsTotal.WithLabelValues(rc.Kind().String()).Inc()

	if ce := f.logger.Check(zap.DebugLevel, "Read entry"); ce != nil {
		ce.Write(
			zap.String("key", key),
			zap.String("kind", rc.Kind().String()),
			zap.Stringer("max_version", maxVersion),
			zap.Stringer("entry", entry))
	}
	return entry, nil
}

// versionToRead is the boundary a read must not exceed; nil reads the most
// recent committed data
func (f *SnapshotEntryFactory) versionToRead(rc *ReadContext) *model.Version {
	switch rc.Kind() {
	case ReadSingleKey, ReadRemotePrepare:
		return nil
	}
	return f.generator.CalculateMaxVersionToRead(rc.TransactionVersion(), rc.AlreadyReadFrom())
}

// advanceTxVersion folds the boundary used by a read into the transaction
// version so later reads keep the same snapshot
func (f *SnapshotEntryFactory) advanceTxVersion(rc *ReadContext, boundary *model.Version) error {
	if boundary == nil {
		return nil
	}
	merged, err := f.generator.Merge(rc.TransactionVersion(), boundary)
	if err != nil {
		return errors.MustRevalidate("transaction version is incomparable with read boundary").
			WithDetail("tx_id", rc.TxID().String())
	}
	rc.SetTransactionVersion(merged)
	return nil
}
