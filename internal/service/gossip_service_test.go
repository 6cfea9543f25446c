package service_test

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/devrev/pairdb/gmu-node/internal/service"
	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ memberlist.EventDelegate = (*service.MembershipEventDelegate)(nil)

func TestMembershipEventDelegate_JoinAndLeave(t *testing.T) {
	node, _, ms := newTestMembership(t)
	peers := service.NewPeerTable()
	delegate := service.NewMembershipEventDelegate(ms, peers, node.logger)

	meta, err := json.Marshal(service.NodeState{ViewID: 1, CurrentCounter: 4, Timestamp: 10})
	require.NoError(t, err)
	delegate.NotifyJoin(&memberlist.Node{Name: "node-d", Addr: net.ParseIP("10.0.0.4"), Port: 7946, Meta: meta})
	assert.Equal(t, int64(2), node.generator.CurrentView().ViewID())
	assert.True(t, node.generator.CurrentView().Contains("node-d"))

	st, ok := peers.Get("node-d")
	require.True(t, ok)
	assert.Equal(t, int64(4), st.CurrentCounter)

	meta, err = json.Marshal(service.NodeState{ViewID: 2, CurrentCounter: 6, Timestamp: 11})
	require.NoError(t, err)
	delegate.NotifyUpdate(&memberlist.Node{Name: "node-d", Meta: meta})
	assert.Equal(t, int64(2), node.generator.CurrentView().ViewID())
	st, _ = peers.Get("node-d")
	assert.Equal(t, int64(6), st.CurrentCounter)

	delegate.NotifyLeave(&memberlist.Node{Name: "node-d"})
	_, ok = peers.Get("node-d")
	assert.False(t, ok)
	assert.Equal(t, int64(3), node.generator.CurrentView().ViewID())

	delegate.NotifyJoin(&memberlist.Node{Name: "node-d", Meta: []byte("not json")})
	assert.Equal(t, int64(4), node.generator.CurrentView().ViewID())
	_, ok = peers.Get("node-d")
	assert.False(t, ok)

	delegate.NotifyLeave(&memberlist.Node{Name: "node-c"})
	assert.Equal(t, int64(5), node.generator.CurrentView().ViewID())
	assert.Equal(t, []string{"node-a", "node-b", "node-d"}, node.generator.CurrentView().Members())

	// this node is never dropped from its own view
	delegate.NotifyLeave(&memberlist.Node{Name: "node-a"})
	assert.Equal(t, int64(5), node.generator.CurrentView().ViewID())
}

func TestPeerTable_KeepsNewestState(t *testing.T) {
	peers := service.NewPeerTable()

	assert.True(t, peers.Observe(service.NodeState{NodeID: "node-b", CurrentCounter: 3, Timestamp: 5}))
	assert.False(t, peers.Observe(service.NodeState{NodeID: "node-b", CurrentCounter: 1, Timestamp: 4}))
	assert.True(t, peers.Observe(service.NodeState{NodeID: "node-a", CurrentCounter: 2, Timestamp: 1}))

	snap := peers.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "node-a", snap[0].NodeID)
	assert.Equal(t, int64(3), snap[1].CurrentCounter)
}
