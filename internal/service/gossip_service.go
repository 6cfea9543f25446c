package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// NodeState is the metadata each node gossips about itself
type NodeState struct {
	NodeID         string `json:"node_id"`
	ViewID         int64  `json:"view_id"`
	CurrentCounter int64  `json:"current_counter"`
	Timestamp      int64  `json:"timestamp"`
}

// PeerTable keeps the latest gossiped state of every peer
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]NodeState
}

// NewPeerTable creates an empty peer table
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]NodeState)}
}

// Observe records state unless an equal or newer one is already known
func (t *PeerTable) Observe(state NodeState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.peers[state.NodeID]; ok && prev.Timestamp >= state.Timestamp {
		return false
	}
	t.peers[state.NodeID] = state
	return true
}

// Forget drops a departed peer
func (t *PeerTable) Forget(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, nodeID)
}

// Get returns the last known state of nodeID
func (t *PeerTable) Get(nodeID string) (NodeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.peers[nodeID]
	return st, ok
}

// Snapshot returns the known peer states ordered by node id
func (t *PeerTable) Snapshot() []NodeState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NodeState, 0, len(t.peers))
	for _, st := range t.peers {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GossipService discovers cluster members and feeds joins and leaves into the
// membership service
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	generator  *VersionGenerator
	commitLog  *CommitLogService
	peers      *PeerTable
	logger     *zap.Logger
}

// NewGossipService creates a gossip service and joins the seed nodes
func NewGossipService(cfg *GossipConfig, generator *VersionGenerator, commitLog *CommitLogService, membership *MembershipService, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config:    cfg,
		nodeID:    generator.NodeID(),
		generator: generator,
		commitLog: commitLog,
		peers:     NewPeerTable(),
		logger:    logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = gs.nodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = gs
	mlConfig.Events = NewMembershipEventDelegate(membership, gs.peers, logger)

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return gs, nil
}

// State returns this node's gossip metadata
func (s *GossipService) State() NodeState {
	return NodeState{
		NodeID:         s.nodeID,
		ViewID:         s.generator.CurrentView().ViewID(),
		CurrentCounter: s.generator.ThisNodeValue(s.commitLog.GetCurrentVersion()),
		Timestamp:      time.Now().Unix(),
	}
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(s.State())
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	var state NodeState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}

	if state.NodeID == "" || state.NodeID == s.nodeID {
		return
	}
	if s.peers.Observe(state) {
		s.logger.Debug("Received node state",
			zap.String("node_id", state.NodeID),
			zap.Int64("view_id", state.ViewID),
			zap.Int64("current_counter", state.CurrentCounter))
	}
}

// Peers returns the last gossiped state of every known peer
func (s *GossipService) Peers() []NodeState {
	return s.peers.Snapshot()
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	data, _ := json.Marshal(s.State())
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	s.NotifyMsg(buf)
}

// Members returns the names of the live gossip members
func (s *GossipService) Members() []string {
	nodes := s.memberlist.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// Shutdown leaves the cluster and stops gossiping
func (s *GossipService) Shutdown() error {
	if err := s.memberlist.Leave(s.config.ProbeTimeout); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// MembershipEventDelegate turns memberlist events into view changes and
// records the metadata peers advertise
type MembershipEventDelegate struct {
	membership *MembershipService
	peers      *PeerTable
	logger     *zap.Logger
}

// NewMembershipEventDelegate creates an event delegate
func NewMembershipEventDelegate(membership *MembershipService, peers *PeerTable, logger *zap.Logger) *MembershipEventDelegate {
	return &MembershipEventDelegate{membership: membership, peers: peers, logger: logger}
}

func (d *MembershipEventDelegate) observeMeta(node *memberlist.Node) {
	if len(node.Meta) == 0 {
		return
	}
	var state NodeState
	if err := json.Unmarshal(node.Meta, &state); err != nil {
		d.logger.Warn("Ignoring malformed node metadata", zap.String("node_id", node.Name), zap.Error(err))
		return
	}
	state.NodeID = node.Name
	d.peers.Observe(state)
}

// NotifyJoin is called when a node joins
func (d *MembershipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Address()))

	d.observeMeta(node)
	if _, err := d.membership.Join(node.Name); err != nil {
		d.logger.Error("Failed to apply join", zap.String("node_id", node.Name), zap.Error(err))
	}
}

// NotifyLeave is called when a node leaves
func (d *MembershipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.logger.Info("Node left", zap.String("node_id", node.Name))

	d.peers.Forget(node.Name)

	if _, err := d.membership.Leave(node.Name); err != nil {
		d.logger.Error("Failed to apply leave", zap.String("node_id", node.Name), zap.Error(err))
	}
}

// NotifyUpdate is called when a node is updated
func (d *MembershipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.logger.Debug("Node updated", zap.String("node_id", node.Name))
	d.observeMeta(node)
}
