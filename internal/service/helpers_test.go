package service_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/devrev/pairdb/gmu-node/internal/storage/container"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testMembers = []string{"node-a", "node-b", "node-c"}

// ver builds a view-1 version over testMembers
func ver(counters ...int64) *model.Version {
	return model.NewVersion(1, counters)
}

type testNode struct {
	generator *service.VersionGenerator
	commitLog *service.CommitLogService
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func newTestNode(t *testing.T, nodeID string) *testNode {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewNopMetrics()
	gen := service.NewVersionGenerator(nodeID, testMembers, logger)
	cl := service.NewCommitLogService(&service.CommitLogConfig{
		HistorySize: 64,
		WaitTimeout: time.Second,
	}, gen, m, logger)
	return &testNode{generator: gen, commitLog: cl, metrics: m, logger: logger}
}

// staticOwnership maps keys onto fixed owners. Every Locate bumps the
// topology id when churn is set.
type staticOwnership struct {
	owners   map[string][]string
	fallback []string
	churn    bool
	topology atomic.Uint64
}

func (o *staticOwnership) Locate(key string) []string {
	if o.churn {
		o.topology.Add(1)
	}
	if owners, ok := o.owners[key]; ok {
		return owners
	}
	return o.fallback
}

func (o *staticOwnership) TopologyID() uint64 {
	return o.topology.Load()
}

type readNode struct {
	*testNode
	store   *container.MultiVersionContainer
	factory *service.SnapshotEntryFactory
}

func newReadNode(t *testing.T, nodeID string, ownership service.OwnershipLookup, waitTimeout time.Duration) *readNode {
	t.Helper()
	node := newTestNode(t, nodeID)
	store := container.NewMultiVersionContainer(node.generator)
	factory := service.NewSnapshotEntryFactory(ownership, store, node.commitLog, node.generator, waitTimeout, node.metrics, node.logger)
	return &readNode{testNode: node, store: store, factory: factory}
}

// commit stores a value and publishes its version
func (n *readNode) commit(t *testing.T, key, value string, v *model.Version) {
	t.Helper()
	n.store.Put(key, model.StoredVersion{Kind: model.EntryPresent, Value: []byte(value), Version: v})
	require.NoError(t, n.commitLog.InsertNewCommittedVersions([]*model.Version{v}))
}
