package service

import (
	"sync"
	"sync/atomic"

	"github.com/devrev/pairdb/gmu-node/internal/algorithm"
	"go.uber.org/zap"
)

// OwnershipConfig holds ownership configuration
type OwnershipConfig struct {
	VirtualNodes      int
	ReplicationFactor int
}

// OwnershipService answers which members own a key, using a consistent hash
// ring rebuilt on every membership change
type OwnershipService struct {
	config   *OwnershipConfig
	hasher   *algorithm.ConsistentHasher
	logger   *zap.Logger
	topology atomic.Uint64

	mu sync.Mutex
}

// NewOwnershipService creates an ownership lookup over the initial members
func NewOwnershipService(cfg *OwnershipConfig, members []string, logger *zap.Logger) *OwnershipService {
	s := &OwnershipService{
		config: cfg,
		hasher: algorithm.NewConsistentHasher(),
		logger: logger,
	}
	s.UpdateMembers(members)
	return s
}

// Locate returns the ordered owners of key
func (s *OwnershipService) Locate(key string) []string {
	return s.hasher.GetNodes(key, s.config.ReplicationFactor)
}

// TopologyID changes on every membership change that altered the ring
func (s *OwnershipService) TopologyID() uint64 {
	return s.topology.Load()
}

// UpdateMembers reconciles the ring with members and reports whether it
// changed
func (s *OwnershipService) UpdateMembers(members []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(members))
	for _, m := range members {
		wanted[m] = true
	}

	changed := false
	for _, n := range s.hasher.Nodes() {
		if !wanted[n] {
			s.hasher.RemoveNode(n)
			changed = true
		}
	}
	present := s.hasher.Nodes()
	for m := range wanted {
		if !containsMember(present, m) {
			s.hasher.AddNode(m, s.config.VirtualNodes)
			changed = true
		}
	}

	if changed {
		id := s.topology.Add(1)
		s.logger.Info("Ownership topology changed",
			zap.Uint64("topology_id", id),
			zap.Int("members", s.hasher.NodeCount()))
	}
	return changed
}
