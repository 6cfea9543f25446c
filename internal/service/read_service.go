package service

import (
	"context"

	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// ReadService routes reads to the local snapshot factory when this node owns
// the key and to the owners otherwise
type ReadService struct {
	factory *SnapshotEntryFactory
	remote  *RemoteReader
	logger  *zap.Logger
}

// NewReadService creates a read service
func NewReadService(factory *SnapshotEntryFactory, remote *RemoteReader, logger *zap.Logger) *ReadService {
	return &ReadService{factory: factory, remote: remote, logger: logger}
}

// BeginTransaction opens the read context of a local transaction. Its
// snapshot stays readable until EndTransaction.
func (s *ReadService) BeginTransaction(txID model.GlobalTransactionID, txVersion *model.Version) *ReadContext {
	rc := NewTxReadContext(txID, txVersion)
	rc.Pin(s.factory.Snapshots())
	return rc
}

// EndTransaction releases the snapshot of a context opened by BeginTransaction
func (s *ReadService) EndTransaction(rc *ReadContext) {
	rc.Release()
}

// Get returns the entry of key visible to rc. A nil entry with a nil error
// means no owner had a value for key.
func (s *ReadService) Get(ctx context.Context, rc *ReadContext, key string) (*model.VersionedEntry, error) {
	entry, err := s.factory.Read(ctx, rc, key)
	if err != nil || entry != nil {
		return entry, err
	}

	s.logger.Debug("Key not owned locally, reading remotely",
		zap.String("key", key),
		zap.String("tx_id", rc.TxID().String()))
	return s.remote.Retrieve(ctx, rc, key)
}

// ReadLatest reads the most recent committed value of key outside any
// transaction
func (s *ReadService) ReadLatest(ctx context.Context, key string) (*model.VersionedEntry, error) {
	return s.Get(ctx, NewSingleKeyReadContext(), key)
}
