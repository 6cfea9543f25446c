package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/devrev/pairdb/gmu-node/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type remoteFixture struct {
	reader    *service.RemoteReader
	local     *readNode
	owner     *readNode
	nearCache *service.NearCacheService
	transport *transport.InProcessTransport
}

func newRemoteFixture(t *testing.T, ownership *staticOwnership, maxRetries int) *remoteFixture {
	t.Helper()
	local := newReadNode(t, "node-a", ownership, time.Second)
	owner := newReadNode(t, "node-b", ownership, time.Second)

	tr := transport.NewInProcessTransport(nil, zap.NewNop())
	tr.Register("node-b", service.NewRemoteGetHandler(owner.factory, owner.generator, owner.logger))

	nearCache := newTestNearCache(t, local.testNode, 1<<20)
	reader := service.NewRemoteReader(&service.RemoteReadConfig{
		Timeout:    time.Second,
		MaxRetries: maxRetries,
	}, ownership, tr, local.generator, local.commitLog, nearCache, local.metrics, local.logger)

	return &remoteFixture{reader: reader, local: local, owner: owner, nearCache: nearCache, transport: tr}
}

func TestRemoteReader_ReadsFromOwnerAndCaches(t *testing.T) {
	f := newRemoteFixture(t, &staticOwnership{fallback: []string{"node-b"}}, 1)
	ctx := context.Background()
	f.owner.commit(t, "k", "remote", ver(0, 2, 0))

	rc := service.NewTxReadContext("tx-1", ver(0, 2, 0))
	entry, err := f.reader.Retrieve(ctx, rc, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "remote", string(entry.Value))
	assert.Equal(t, []string{"node-b"}, rc.AlreadyReadFrom())
	assert.Equal(t, []int64{0, 2, 0}, entry.CreationVersion.Counters())
	assert.Equal(t, []int64{0, 2, 0}, entry.MaxValidVersion.Counters())

	// the owner disappears; the near-cache still serves the snapshot
	f.transport.Unregister("node-b")
	again, err := f.reader.Retrieve(ctx, rc, "k")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "remote", string(again.Value))
	assert.Equal(t, int64(1), f.nearCache.Stats().Hits)
}

func TestRemoteReader_SendsReadFromMask(t *testing.T) {
	f := newRemoteFixture(t, &staticOwnership{fallback: []string{"node-b"}}, 1)
	ctx := context.Background()
	f.owner.commit(t, "k", "v1", ver(0, 1, 0))
	f.owner.commit(t, "k", "v2", ver(0, 2, 0))

	// the transaction already read from node-b at (0,1,0)
	rc := service.NewTxReadContext("tx-1", ver(0, 1, 0))
	rc.AddReadFrom("node-b")

	entry, err := f.reader.Retrieve(ctx, rc, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(entry.Value))
	assert.Equal(t, []int64{0, 1, 0}, entry.MaxTxVersion.Counters())
}

func TestRemoteReader_SingleKeyRead(t *testing.T) {
	f := newRemoteFixture(t, &staticOwnership{fallback: []string{"node-b"}}, 1)
	f.owner.commit(t, "k", "v1", ver(0, 1, 0))
	f.owner.commit(t, "k", "v2", ver(0, 2, 0))

	entry, err := f.reader.Retrieve(context.Background(), service.NewSingleKeyReadContext(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(entry.Value))
}

func TestRemoteReader_ExhaustedWithStableTopology(t *testing.T) {
	// node-b believes it does not own the key and answers unsuccessfully
	ownership := &staticOwnership{fallback: []string{"node-b"}}
	f := newRemoteFixture(t, ownership, 3)
	ownerView := &staticOwnership{fallback: []string{"node-c"}}
	f.transport.Register("node-b", service.NewRemoteGetHandler(
		newReadNode(t, "node-b", ownerView, time.Second).factory, f.owner.generator, f.owner.logger))

	entry, err := f.reader.Retrieve(context.Background(), service.NewTxReadContext("tx-1", ver(0, 0, 0)), "k")
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRemoteReader_IndeterminateWhenTopologyKeepsChanging(t *testing.T) {
	f := newRemoteFixture(t, &staticOwnership{fallback: []string{"node-b"}, churn: true}, 2)
	f.transport.Unregister("node-b")

	_, err := f.reader.Retrieve(context.Background(), service.NewTxReadContext("tx-1", ver(0, 0, 0)), "k")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRemoteReadIndeterminate))
}

func TestRemoteReader_NoOwners(t *testing.T) {
	f := newRemoteFixture(t, &staticOwnership{fallback: []string{"node-a", "node-x"}}, 1)

	_, err := f.reader.Retrieve(context.Background(), service.NewSingleKeyReadContext(), "k")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoOwners))
}
