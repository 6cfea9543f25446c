package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type unknownCommand struct{}

func (unknownCommand) CommandName() string { return "unknown" }

func TestCommandHandler_TransactionOverTransport(t *testing.T) {
	ownership := &staticOwnership{fallback: []string{"node-b"}}
	node := newReadNode(t, "node-b", ownership, time.Second)
	manager := newTestManager(t, node.testNode)
	table, err := service.NewRemoteTransactionTable(64, node.logger)
	require.NoError(t, err)
	driver := service.NewTransactionDriver(table, manager, time.Second, node.metrics, node.logger)
	applier := service.NewCommitApplier(manager, node.store, node.generator, time.Hour, node.logger)

	handler := service.NewCommandHandler(service.NewRemoteGetHandler(node.factory, node.generator, node.logger), driver, node.logger)
	tr := transport.NewInProcessTransport(nil, zap.NewNop())
	tr.Register("node-b", handler)

	ctx := context.Background()
	all := transport.Options{Mode: transport.ResponseModeWaitForAll, Timeout: time.Second}
	targets := []string{"node-b"}

	responses, err := tr.Send(ctx, targets, &transport.PrepareCommand{
		TxID:   "tx-1",
		Origin: "node-a",
		ViewID: 1,
		Writes: []model.WriteOperation{{Key: "k", Value: []byte("v")}},
	}, all)
	require.NoError(t, err)
	prepared := responses["node-b"]
	assert.Equal(t, transport.StatusSuccess, prepared.Status)
	assert.Equal(t, "PREPARED", prepared.Outcome)
	assert.Equal(t, []int64{0, 1, 0}, prepared.Version.Counters())

	responses, err = tr.Send(ctx, targets, &transport.CommitCommand{TxID: "tx-1", ViewID: 1, Version: ver(2, 1, 0)}, all)
	require.NoError(t, err)
	assert.Equal(t, "COMMITTED", responses["node-b"].Outcome)

	assert.Equal(t, 1, applier.ApplyReady())
	assert.Equal(t, []int64{2, 1, 0}, node.commitLog.GetCurrentVersion().Counters())

	responses, err = tr.Send(ctx, targets, &transport.ClusteredGetCommand{Key: "k", Origin: "node-a"}, transport.Options{Timeout: time.Second})
	require.NoError(t, err)
	got := responses["node-b"]
	require.Equal(t, transport.StatusSuccess, got.Status)
	assert.Equal(t, "v", string(got.Entry.Value))

	// a rollback for the finished transaction is ignored
	responses, err = tr.Send(ctx, targets, &transport.RollbackCommand{TxID: "tx-1", ViewID: 1}, all)
	require.NoError(t, err)
	assert.Equal(t, "IGNORED", responses["node-b"].Outcome)
}

func TestCommandHandler_UnsupportedCommand(t *testing.T) {
	node := newReadNode(t, "node-b", &staticOwnership{}, time.Second)
	table, err := service.NewRemoteTransactionTable(8, node.logger)
	require.NoError(t, err)
	driver := service.NewTransactionDriver(table, newTestManager(t, node.testNode), time.Second, node.metrics, node.logger)
	handler := service.NewCommandHandler(service.NewRemoteGetHandler(node.factory, node.generator, node.logger), driver, node.logger)

	resp := handler.Handle(context.Background(), unknownCommand{})
	assert.Equal(t, transport.StatusException, resp.Status)
	assert.Error(t, resp.Err)
}
