package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driverFixture struct {
	node    *testNode
	manager *service.CommitManager
	table   *service.RemoteTransactionTable
	driver  *service.TransactionDriver
}

func newDriverFixture(t *testing.T) *driverFixture {
	t.Helper()
	node := newTestNode(t, "node-b")
	manager := newTestManager(t, node)
	table, err := service.NewRemoteTransactionTable(128, node.logger)
	require.NoError(t, err)
	driver := service.NewTransactionDriver(table, manager, time.Second, node.metrics, node.logger)
	return &driverFixture{node: node, manager: manager, table: table, driver: driver}
}

var driverWrites = []model.WriteOperation{{Key: "k", Value: []byte("v")}}

func TestTransactionDriver_PrepareThenCommit(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()

	result, err := f.driver.HandlePrepare(ctx, "tx-1", 1, driverWrites)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomePrepared, result.Outcome)
	assert.Equal(t, []int64{0, 1, 0}, result.Version.Counters())

	outcome, err := f.driver.HandleCommit(ctx, "tx-1", 1, ver(2, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCommitted, outcome)

	entry, ok := f.manager.Entry("tx-1")
	require.True(t, ok)
	assert.True(t, entry.IsReadyToCommit())
	assert.Equal(t, 0, f.table.Len())

	// a late duplicate is ignored
	outcome, err = f.driver.HandleCommit(ctx, "tx-1", 1, ver(2, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, outcome)
}

func TestTransactionDriver_CommitBeforePrepare(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()

	outcome, err := f.driver.HandleCommit(ctx, "tx-1", 1, ver(3, 4, 0))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeDeferred, outcome)

	result, err := f.driver.HandlePrepare(ctx, "tx-1", 1, driverWrites)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCommitted, result.Outcome)

	entry, ok := f.manager.Entry("tx-1")
	require.True(t, ok)
	assert.Equal(t, []int64{3, 4, 0}, entry.CommitVersion().Counters())
	assert.Equal(t, 0, f.table.Len())
}

func TestTransactionDriver_RollbackOrderIndependent(t *testing.T) {
	ctx := context.Background()

	// rollback then prepare
	a := newDriverFixture(t)
	outcome, err := a.driver.HandleRollback(ctx, "tx-1", 1)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeDeferred, outcome)
	result, err := a.driver.HandlePrepare(ctx, "tx-1", 1, driverWrites)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeRolledBack, result.Outcome)

	// prepare then rollback
	b := newDriverFixture(t)
	result, err = b.driver.HandlePrepare(ctx, "tx-1", 1, driverWrites)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomePrepared, result.Outcome)
	outcome, err = b.driver.HandleRollback(ctx, "tx-1", 1)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeRolledBack, outcome)

	for _, f := range []*driverFixture{a, b} {
		assert.Equal(t, 0, f.manager.Len())
		assert.Equal(t, 0, f.table.Len())
		_, queued := f.manager.Entry("tx-1")
		assert.False(t, queued)
		assert.Equal(t, []int64{0, 0, 0}, f.node.commitLog.GetCurrentVersion().Counters())

		result, err := f.driver.HandlePrepare(ctx, "tx-1", 1, driverWrites)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeIgnored, result.Outcome)
	}
}

func TestTransactionDriver_Abort(t *testing.T) {
	f := newDriverFixture(t)
	ctx := context.Background()

	_, err := f.driver.HandlePrepare(ctx, "tx-1", 1, driverWrites)
	require.NoError(t, err)

	f.driver.Abort("tx-1")
	assert.Equal(t, 0, f.manager.Len())

	outcome, err := f.driver.HandleCommit(ctx, "tx-1", 1, ver(1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeIgnored, outcome)
}
