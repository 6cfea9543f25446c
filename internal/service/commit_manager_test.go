package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/devrev/pairdb/gmu-node/internal/storage/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCommittedListener mocks the garbage collector hook
type MockCommittedListener struct {
	mock.Mock
}

func (m *MockCommittedListener) NotifyCommittedTransactions(count int) {
	m.Called(count)
}

func newTestManager(t *testing.T, node *testNode) *service.CommitManager {
	t.Helper()
	return service.NewCommitManager(node.commitLog, node.generator, nil, node.metrics, node.logger)
}

func writeTx(id string, key, value string) *model.Transaction {
	return model.NewTransaction(model.GlobalTransactionID(id), []model.WriteOperation{{Key: key, Value: []byte(value)}})
}

func TestCommitManager_Prepare(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	require.NoError(t, node.commitLog.InsertNewCommittedVersions([]*model.Version{ver(4, 1, 2)}))

	entry, err := mgr.Prepare(writeTx("t1", "k", "v"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.LocalSeq())
	assert.Equal(t, int64(4), entry.SnapshotCounter())
	assert.Equal(t, []int64{5, 1, 2}, entry.ProvisionalVersion().Counters())
	assert.Equal(t, model.StatusPrepared, entry.Status())
	assert.Equal(t, entry.ProvisionalVersion(), entry.Transaction().Version)

	_, err = mgr.Prepare(writeTx("t1", "k", "v"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidArgument))
}

func TestCommitManager_LocalSeqUnique(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	var wg sync.WaitGroup
	seqs := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := mgr.Prepare(writeTx(string(model.NewGlobalTransactionID("node-a")), "k", "v"))
			if err == nil {
				seqs <- entry.LocalSeq()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate local sequence %d", s)
		seen[s] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 50, mgr.Len())
}

func TestCommitManager_DrainWaitsForContiguousPrefix(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)
	require.NoError(t, node.commitLog.InsertNewCommittedVersions([]*model.Version{ver(4, 0, 0)}))

	t1, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)
	t2, err := mgr.Prepare(writeTx("t2", "b", "2"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), t1.LocalSeq())
	assert.Equal(t, int64(6), t2.LocalSeq())

	_, err = mgr.Commit("t2", ver(6, 3, 0))
	require.NoError(t, err)
	assert.Empty(t, mgr.DrainReady())

	_, err = mgr.Commit("t1", ver(5, 2, 0))
	require.NoError(t, err)

	batch := mgr.DrainReady()
	require.Len(t, batch, 2)
	assert.Equal(t, model.GlobalTransactionID("t1"), batch[0].ID())
	assert.Equal(t, model.GlobalTransactionID("t2"), batch[1].ID())
	assert.Equal(t, 0, mgr.Len())
}

func TestCommitManager_RollbackUnblocksQueue(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	t1, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)
	_, err = mgr.Prepare(writeTx("t2", "b", "2"))
	require.NoError(t, err)

	_, err = mgr.Commit("t2", ver(2, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, mgr.DrainReady())

	assert.True(t, mgr.Rollback("t1"))
	assert.False(t, mgr.Rollback("t1"))
	assert.Equal(t, model.StatusRolledBack, t1.Status())

	batch := mgr.DrainReady()
	require.Len(t, batch, 1)
	assert.Equal(t, model.GlobalTransactionID("t2"), batch[0].ID())

	err = t1.WaitCommitted(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransaction))
}

func TestCommitManager_CommitUnknownAdvancesLog(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	entry, err := mgr.Commit("remote-only", ver(0, 3, 1))
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, []int64{0, 3, 1}, node.commitLog.GetCurrentVersion().Counters())
}

func TestCommitManager_DuplicateCommit(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	_, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)

	_, err = mgr.Commit("t1", ver(1, 1, 0))
	require.NoError(t, err)
	_, err = mgr.Commit("t1", ver(1, 1, 0))
	require.NoError(t, err)

	_, err = mgr.Commit("t1", ver(1, 2, 0))
	assert.True(t, errors.HasCode(err, errors.ErrCodeOrderingViolation))
}

func TestCommitManager_CommitBumpsLocalCounter(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	_, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)
	_, err = mgr.Commit("t1", ver(9, 0, 0))
	require.NoError(t, err)

	t2, err := mgr.Prepare(writeTx("t2", "a", "2"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), t2.LocalSeq())
}

func TestCommitManager_NotifyCommitted(t *testing.T) {
	node := newTestNode(t, "node-a")
	listener := new(MockCommittedListener)
	listener.On("NotifyCommittedTransactions", 2).Return()
	mgr := service.NewCommitManager(node.commitLog, node.generator, listener, node.metrics, node.logger)

	t1, _ := mgr.Prepare(writeTx("t1", "a", "1"))
	t2, _ := mgr.Prepare(writeTx("t2", "b", "2"))
	_, err := mgr.Commit("t1", ver(1, 0, 0))
	require.NoError(t, err)
	_, err = mgr.Commit("t2", ver(2, 0, 4))
	require.NoError(t, err)

	batch := mgr.DrainReady()
	require.Len(t, batch, 2)

	// drained but not yet published
	assert.Equal(t, model.StatusPrepared, t1.Status())

	require.NoError(t, mgr.NotifyCommitted(batch))
	assert.Equal(t, model.StatusCommitted, t1.Status())
	assert.Equal(t, model.StatusCommitted, t2.Status())
	assert.NoError(t, t2.WaitCommitted(context.Background()))
	assert.Equal(t, []int64{2, 0, 4}, node.commitLog.GetCurrentVersion().Counters())

	_, ok := mgr.Entry("t1")
	assert.False(t, ok)
	listener.AssertExpectations(t)
}

func TestCommitManager_PrepareReadOnly(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)
	require.NoError(t, node.commitLog.InsertNewCommittedVersions([]*model.Version{ver(2, 2, 2)}))

	tx := model.NewTransaction("ro", nil)
	mgr.PrepareReadOnly(tx)
	assert.Equal(t, []int64{2, 2, 2}, tx.Version.Counters())
	assert.Equal(t, 0, mgr.Len())
}

func TestCommitApplier_AppliesInQueueOrder(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)
	store := container.NewMultiVersionContainer(node.generator)
	applier := service.NewCommitApplier(mgr, store, node.generator, 5*time.Millisecond, node.logger)
	applier.Start()
	defer applier.Stop()

	t1, err := mgr.Prepare(writeTx("t1", "k", "first"))
	require.NoError(t, err)
	t2, err := mgr.Prepare(model.NewTransaction("t2", []model.WriteOperation{
		{Key: "k", Value: []byte("second")},
		{Key: "gone", Delete: true},
	}))
	require.NoError(t, err)

	_, err = mgr.Commit("t2", ver(2, 0, 0))
	require.NoError(t, err)
	_, err = mgr.Commit("t1", ver(1, 0, 0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, t1.WaitCommitted(ctx))
	require.NoError(t, t2.WaitCommitted(ctx))

	latest := store.Get("k", nil)
	assert.Equal(t, "second", string(latest.Value))
	assert.Equal(t, 1, latest.CreationVersion.SubVersion())
	assert.Equal(t, "first", string(store.Get("k", ver(1, 0, 0)).Value))
	assert.True(t, store.Get("gone", nil).IsAbsent())
	assert.Equal(t, []int64{2, 0, 0}, node.commitLog.GetCurrentVersion().Counters())
}

func TestCommitManager_CommitRejectsUnplaceableVersion(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	t1, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)

	_, err = mgr.Commit("t1", model.NewVersion(99, []int64{1, 0, 0}))
	assert.True(t, errors.HasCode(err, errors.ErrCodeOrderingViolation))
	assert.False(t, t1.IsReadyToCommit())
	assert.Empty(t, mgr.DrainReady())

	_, err = mgr.Commit("remote-only", model.NewVersion(99, []int64{0, 3, 0}))
	assert.True(t, errors.HasCode(err, errors.ErrCodeOrderingViolation))
	assert.Equal(t, []int64{0, 0, 0}, node.commitLog.GetCurrentVersion().Counters())

	// the transaction can still commit with a placeable version
	_, err = mgr.Commit("t1", ver(1, 0, 0))
	require.NoError(t, err)
	require.Len(t, mgr.DrainReady(), 1)
}

func TestCommitManager_UnpublishableBatchReleasesWaiters(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	t1, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)
	_, err = mgr.Commit("t1", ver(1, 0, 0))
	require.NoError(t, err)

	// the view the commit version belongs to disappears before publishing
	view := node.generator.UpdateView([]string{"node-a", "node-b", "node-c", "node-d"})
	require.NoError(t, node.commitLog.OnViewChange(view))
	require.Equal(t, 1, node.generator.RetireViewsBefore(view.ViewID()))

	batch := mgr.DrainReady()
	require.Len(t, batch, 1)
	assert.Error(t, mgr.NotifyCommitted(batch))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = t1.WaitCommitted(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransaction))
	assert.Equal(t, model.StatusRolledBack, t1.Status())

	_, ok := mgr.Entry("t1")
	assert.False(t, ok)
}

func TestCommitManager_OldestPinnedView(t *testing.T) {
	node := newTestNode(t, "node-a")
	mgr := newTestManager(t, node)

	_, ok := mgr.OldestPinnedView()
	assert.False(t, ok)
	assert.Nil(t, mgr.PinnedVersions())

	_, err := mgr.Prepare(writeTx("t1", "a", "1"))
	require.NoError(t, err)
	view, ok := mgr.OldestPinnedView()
	require.True(t, ok)
	assert.Equal(t, int64(1), view)

	assert.True(t, mgr.Rollback("t1"))
	_, ok = mgr.OldestPinnedView()
	assert.False(t, ok)
}
