package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadService_RoutesByOwnership(t *testing.T) {
	ownership := &staticOwnership{owners: map[string][]string{
		"local": {"node-a"},
		"far":   {"node-b"},
	}}
	local := newReadNode(t, "node-a", ownership, time.Second)
	owner := newReadNode(t, "node-b", ownership, time.Second)

	tr := transport.NewInProcessTransport(nil, zap.NewNop())
	tr.Register("node-b", service.NewRemoteGetHandler(owner.factory, owner.generator, owner.logger))
	reader := service.NewRemoteReader(&service.RemoteReadConfig{Timeout: time.Second, MaxRetries: 1},
		ownership, tr, local.generator, local.commitLog, nil, local.metrics, local.logger)
	reads := service.NewReadService(local.factory, reader, local.logger)

	local.commit(t, "local", "here", ver(1, 0, 0))
	owner.commit(t, "far", "there", ver(0, 1, 0))

	ctx := context.Background()
	rc := service.NewTxReadContext("tx-1", ver(1, 1, 0))

	entry, err := reads.Get(ctx, rc, "local")
	require.NoError(t, err)
	assert.Equal(t, "here", string(entry.Value))

	entry, err = reads.Get(ctx, rc, "far")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "there", string(entry.Value))
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, rc.AlreadyReadFrom())

	missing, err := reads.Get(ctx, service.NewSingleKeyReadContext(), "nobody")
	assert.Error(t, err)
	assert.Nil(t, missing)
}
