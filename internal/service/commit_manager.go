package service

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/emirpasic/gods/trees/redblacktree"
	"go.uber.org/zap"
)

// CommittedTransactionsListener is told how many transactions each drained
// batch made visible
type CommittedTransactionsListener interface {
	NotifyCommittedTransactions(count int)
}

// TransactionEntry is a prepared transaction waiting in the commit queue
type TransactionEntry struct {
	tx              *model.Transaction
	localSeq        int64
	snapshotCounter int64
	provisional     *model.Version
	done            chan struct{}

	mu            sync.Mutex
	final         *model.Version
	readyToCommit bool
	status        model.TransactionStatus
}

func newTransactionEntry(tx *model.Transaction) *TransactionEntry {
	return &TransactionEntry{
		tx:     tx,
		done:   make(chan struct{}),
		status: model.StatusPreparing,
	}
}

// ID returns the transaction id
func (e *TransactionEntry) ID() model.GlobalTransactionID {
	return e.tx.ID
}

// Transaction returns the queued transaction
func (e *TransactionEntry) Transaction() *model.Transaction {
	return e.tx
}

// LocalSeq is the node-local prepare sequence that orders the queue
func (e *TransactionEntry) LocalSeq() int64 {
	return e.localSeq
}

// SnapshotCounter is this node's committed counter when the entry was prepared
func (e *TransactionEntry) SnapshotCounter() int64 {
	return e.snapshotCounter
}

// ProvisionalVersion is the version assigned at prepare time
func (e *TransactionEntry) ProvisionalVersion() *model.Version {
	return e.provisional
}

// CommitVersion is the final version, nil until committed
func (e *TransactionEntry) CommitVersion() *model.Version {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}

// IsReadyToCommit reports whether a final version has been assigned
func (e *TransactionEntry) IsReadyToCommit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyToCommit
}

// Status returns the lifecycle status
func (e *TransactionEntry) Status() model.TransactionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// WaitCommitted blocks until the entry is committed or rolled back. A
// rollback yields an invalid transaction error.
func (e *TransactionEntry) WaitCommitted(ctx context.Context) error {
	select {
	case <-e.done:
	case <-ctx.Done():
		return errors.WaitTimeout("commit of "+e.tx.ID.String(), ctx.Err())
	}
	if e.Status() != model.StatusCommitted {
		return errors.InvalidTransaction(e.tx.ID.String())
	}
	return nil
}

func (e *TransactionEntry) finish(status model.TransactionStatus) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	close(e.done)
}

// queueKey orders entries by local prepare sequence
type queueKey struct {
	localSeq int64
	txID     model.GlobalTransactionID
}

func queueKeyComparator(a, b interface{}) int {
	ka := a.(queueKey)
	kb := b.(queueKey)
	switch {
	case ka.localSeq < kb.localSeq:
		return -1
	case ka.localSeq > kb.localSeq:
		return 1
	case ka.txID < kb.txID:
		return -1
	case ka.txID > kb.txID:
		return 1
	}
	return 0
}

// CommitManager is the per-node commit queue. Prepared transactions wait in
// local prepare order; only a contiguous prefix of committed entries is ever
// drained, so writes become visible in queue order.
type CommitManager struct {
	commitLog *CommitLogService
	generator *VersionGenerator
	listener  CommittedTransactionsListener
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	queue   *redblacktree.Tree
	byID    map[model.GlobalTransactionID]*TransactionEntry
	readyCh chan struct{}
}

// NewCommitManager creates an empty commit queue. listener may be nil.
func NewCommitManager(commitLog *CommitLogService, generator *VersionGenerator, listener CommittedTransactionsListener, m *metrics.Metrics, logger *zap.Logger) *CommitManager {
	return &CommitManager{
		commitLog: commitLog,
		generator: generator,
		listener:  listener,
		metrics:   m,
		logger:    logger,
		queue:     redblacktree.NewWith(queueKeyComparator),
		byID:      make(map[model.GlobalTransactionID]*TransactionEntry),
		readyCh:   make(chan struct{}, 1),
	}
}

// SetListener installs the committed-transactions listener
func (m *CommitManager) SetListener(listener CommittedTransactionsListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
}

// Prepare assigns a provisional version strictly greater than the current
// committed version and inserts the transaction into the queue
func (m *CommitManager) Prepare(tx *model.Transaction) (*TransactionEntry, error) {
	if tx == nil || tx.ID == "" {
		return nil, errors.InvalidArgument("transaction id is required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[tx.ID]; exists {
		return nil, errors.InvalidArgument("transaction already prepared", nil).
			WithDetail("tx_id", tx.ID.String())
	}

	current := m.commitLog.GetCurrentVersion()
	provisional, err := m.generator.NewProvisionalVersion(current)
	if err != nil {
		return nil, err
	}

	entry := newTransactionEntry(tx)
	entry.snapshotCounter = m.generator.ThisNodeValue(current)
	entry.localSeq = m.generator.ThisNodeValue(provisional)
	entry.provisional = provisional
	entry.status = model.StatusPrepared
	tx.Version = provisional

	m.queue.Put(queueKey{localSeq: entry.localSeq, txID: tx.ID}, entry)
	m.byID[tx.ID] = entry

	m.metrics.CommitQueuePreparesTotal.Inc()
	m.metrics.CommitQueueDepth.Set(float64(m.queue.Size()))

	m.logger.Debug("Prepared transaction",
		zap.String("tx_id", tx.ID.String()),
		zap.Int64("local_seq", entry.localSeq),
		zap.Stringer("provisional", provisional))

	return entry, nil
}

// PrepareReadOnly stamps a read-only transaction with the current committed
// version. Nothing is queued.
func (m *CommitManager) PrepareReadOnly(tx *model.Transaction) {
	tx.Version = m.commitLog.GetCurrentVersion()
}

// Commit records the final version of a prepared transaction. A commit for a
// transaction this node never queued only advances the commit log. The
// returned entry is nil in that case.
func (m *CommitManager) Commit(txID model.GlobalTransactionID, final *model.Version) (*TransactionEntry, error) {
	if final == nil {
		return nil, errors.InvalidArgument("commit version is required", nil)
	}

	// the final version must rebase onto the current view or it could never
	// be published
	if _, err := m.generator.Compare(final, m.commitLog.GetCurrentVersion()); err != nil {
		return nil, errors.OrderingViolation("commit version cannot be placed in a known view").
			WithDetail("tx_id", txID.String()).
			WithDetail("requested", final.String())
	}

	m.mu.Lock()
	m.generator.ObserveCommitVersion(final)
	entry, ok := m.byID[txID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("Commit for transaction not in queue",
			zap.String("tx_id", txID.String()),
			zap.Stringer("version", final))
		return nil, m.commitLog.UpdateMostRecentVersion(final)
	}
	defer m.mu.Unlock()

	entry.mu.Lock()
	if entry.readyToCommit {
		previous := entry.final
		entry.mu.Unlock()
		if cmp, err := m.generator.Compare(previous, final); err == nil && cmp == model.Equal {
			return entry, nil
		}
		return nil, errors.OrderingViolation("transaction already committed with a different version").
			WithDetail("tx_id", txID.String()).
			WithDetail("committed", previous.String()).
			WithDetail("requested", final.String())
	}
	entry.final = final
	entry.readyToCommit = true
	entry.mu.Unlock()
	entry.tx.Version = final

	m.metrics.CommitQueueCommitsTotal.Inc()
	m.signalIfHeadReadyLocked()
	return entry, nil
}

// Rollback removes a transaction from the queue. It reports whether the
// transaction was queued.
func (m *CommitManager) Rollback(txID model.GlobalTransactionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[txID]
	if !ok {
		return false
	}
	if entry.IsReadyToCommit() {
		m.logger.Warn("Ignoring rollback of committed transaction", zap.String("tx_id", txID.String()))
		return false
	}

	m.queue.Remove(queueKey{localSeq: entry.localSeq, txID: txID})
	delete(m.byID, txID)
	entry.finish(model.StatusRolledBack)

	m.metrics.CommitQueueRollbacksTotal.Inc()
	m.metrics.CommitQueueDepth.Set(float64(m.queue.Size()))

	// removing a blocking head may unblock the entries behind it
	m.signalIfHeadReadyLocked()
	return true
}

// DrainReady removes and returns the longest prefix of the queue whose
// entries all have a final version, in queue order. Entries stay resolvable
// by id until NotifyCommitted.
func (m *CommitManager) DrainReady() []*TransactionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []*TransactionEntry
	it := m.queue.Iterator()
	for it.Next() {
		entry := it.Value().(*TransactionEntry)
		if !entry.IsReadyToCommit() {
			break
		}
		batch = append(batch, entry)
	}

	for _, entry := range batch {
		m.queue.Remove(queueKey{localSeq: entry.localSeq, txID: entry.tx.ID})
	}
	if len(batch) > 0 {
		m.metrics.CommitQueueBatchSize.Observe(float64(len(batch)))
		m.metrics.CommitQueueDepth.Set(float64(m.queue.Size()))
	}
	return batch
}

// NotifyCommitted publishes a drained batch: the commit log is advanced, the
// garbage collector is told, and then each entry is marked committed
func (m *CommitManager) NotifyCommitted(batch []*TransactionEntry) error {
	if len(batch) == 0 {
		return nil
	}

	versions := make([]*model.Version, 0, len(batch))
	for _, entry := range batch {
		final := entry.CommitVersion()
		if final == nil {
			return errors.OrderingViolation("drained transaction has no commit version").
				WithDetail("tx_id", entry.ID().String())
		}
		versions = append(versions, final)
	}

	if err := m.commitLog.InsertNewCommittedVersions(versions); err != nil {
		m.abandon(batch)
		return err
	}

	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()
	if listener != nil {
		listener.NotifyCommittedTransactions(len(batch))
	}

	m.mu.Lock()
	for _, entry := range batch {
		delete(m.byID, entry.tx.ID)
	}
	m.signalIfHeadReadyLocked()
	m.mu.Unlock()

	for _, entry := range batch {
		entry.finish(model.StatusCommitted)
	}
	return nil
}

// abandon releases the waiters of a batch that could not be published. The
// entries are reported rolled back.
func (m *CommitManager) abandon(batch []*TransactionEntry) {
	m.mu.Lock()
	for _, entry := range batch {
		delete(m.byID, entry.tx.ID)
	}
	m.signalIfHeadReadyLocked()
	m.mu.Unlock()

	for _, entry := range batch {
		entry.finish(model.StatusRolledBack)
	}
	m.metrics.CommitQueueRollbacksTotal.Add(float64(len(batch)))
	m.logger.Error("Abandoned unpublishable batch", zap.Int("batch_size", len(batch)))
}

// PinnedVersions implements LiveSnapshotSource. Queued entries only hold
// their views.
func (m *CommitManager) PinnedVersions() []*model.Version {
	return nil
}

// OldestPinnedView implements LiveSnapshotSource: the oldest view a queued
// transaction was prepared in
func (m *CommitManager) OldestPinnedView() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest int64
	found := false
	for _, entry := range m.byID {
		if view := entry.provisional.ViewID(); !found || view < oldest {
			oldest = view
			found = true
		}
	}
	return oldest, found
}

// Entry returns the queued entry of a transaction
func (m *CommitManager) Entry(txID model.GlobalTransactionID) (*TransactionEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[txID]
	return entry, ok
}

// Len returns the number of entries still queued
func (m *CommitManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Size()
}

// Ready fires whenever the head of the queue may be drainable
func (m *CommitManager) Ready() <-chan struct{} {
	return m.readyCh
}

func (m *CommitManager) signalIfHeadReadyLocked() {
	left := m.queue.Left()
	if left == nil {
		return
	}
	if !left.Value.(*TransactionEntry).IsReadyToCommit() {
		return
	}
	select {
	case m.readyCh <- struct{}{}:
	default:
	}
}
