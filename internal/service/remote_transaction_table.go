package service

import (
	"fmt"
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// RemoteTransactionTable registers the remote transactions in flight on this
// node and remembers recently finished ids so late duplicates are rejected
type RemoteTransactionTable struct {
	logger *zap.Logger

	mu       sync.Mutex
	txs      map[model.GlobalTransactionID]*RemoteTransaction
	finished *lru.Cache
}

// NewRemoteTransactionTable creates a table remembering up to
// finishedCacheSize finished transaction ids
func NewRemoteTransactionTable(finishedCacheSize int, logger *zap.Logger) (*RemoteTransactionTable, error) {
	finished, err := lru.New(finishedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create finished transaction cache: %w", err)
	}
	return &RemoteTransactionTable{
		logger:   logger,
		txs:      make(map[model.GlobalTransactionID]*RemoteTransaction),
		finished: finished,
	}, nil
}

// GetOrCreate returns the record of a transaction, creating it on first
// contact. Finished or invalidated transactions are rejected.
func (t *RemoteTransactionTable) GetOrCreate(id model.GlobalTransactionID, viewID int64) (*RemoteTransaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rtx, ok := t.txs[id]; ok {
		if !rtx.IsValid() {
			return nil, errors.InvalidTransaction(id.String())
		}
		return rtx, nil
	}
	if t.finished.Contains(id) {
		return nil, errors.InvalidTransaction(id.String())
	}

	rtx := NewRemoteTransaction(id, viewID)
	t.txs[id] = rtx
	return rtx, nil
}

// Get returns a registered transaction
func (t *RemoteTransactionTable) Get(id model.GlobalTransactionID) (*RemoteTransaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rtx, ok := t.txs[id]
	return rtx, ok
}

// Remove unregisters a finished transaction
func (t *RemoteTransactionTable) Remove(id model.GlobalTransactionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.txs, id)
	t.finished.Add(id, struct{}{})
}

// Invalidate destroys a transaction record so duplicates are rejected. It
// reports whether the transaction was registered.
func (t *RemoteTransactionTable) Invalidate(id model.GlobalTransactionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rtx, ok := t.txs[id]
	if ok {
		rtx.Invalidate()
		delete(t.txs, id)
	}
	t.finished.Add(id, struct{}{})

	t.logger.Debug("Invalidated remote transaction",
		zap.String("tx_id", id.String()),
		zap.Bool("registered", ok))
	return ok
}

// Len returns the number of transactions in flight
func (t *RemoteTransactionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.txs)
}

// PinnedVersions implements LiveSnapshotSource. Remote transactions pin their
// versions through the read contexts of their gets, so only views are held.
func (t *RemoteTransactionTable) PinnedVersions() []*model.Version {
	return nil
}

// OldestPinnedView implements LiveSnapshotSource: the oldest view a live
// remote transaction was first seen in
func (t *RemoteTransactionTable) OldestPinnedView() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest int64
	found := false
	for _, rtx := range t.txs {
		if !found || rtx.ViewID() < oldest {
			oldest = rtx.ViewID()
			found = true
		}
	}
	return oldest, found
}
