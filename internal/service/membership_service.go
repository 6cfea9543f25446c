package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// MembershipService turns membership events into view changes. Every change
// installs a new view in the generator, rebases the commit log onto it and
// rebuilds key ownership.
type MembershipService struct {
	generator *VersionGenerator
	commitLog *CommitLogService
	ownership *OwnershipService
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	members map[string]bool
}

// NewMembershipService creates a membership service seeded with the members
// of the generator's current view
func NewMembershipService(generator *VersionGenerator, commitLog *CommitLogService, ownership *OwnershipService, m *metrics.Metrics, logger *zap.Logger) *MembershipService {
	view := generator.CurrentView()
	members := make(map[string]bool, view.Size())
	for _, member := range view.Members() {
		members[member] = true
	}

	m.ClusterViewID.Set(float64(view.ViewID()))
	m.ClusterMembers.Set(float64(view.Size()))

	return &MembershipService{
		generator: generator,
		commitLog: commitLog,
		ownership: ownership,
		metrics:   m,
		logger:    logger,
		members:   members,
	}
}

// Members returns the known members in sorted order
func (s *MembershipService) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Join adds a member and installs the resulting view
func (s *MembershipService) Join(member string) (*model.ClusterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[member] {
		return s.generator.CurrentView(), nil
	}
	s.members[member] = true
	return s.applyLocked()
}

// Leave removes a member and installs the resulting view. This node never
// leaves its own view.
func (s *MembershipService) Leave(member string) (*model.ClusterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if member == s.generator.NodeID() || !s.members[member] {
		return s.generator.CurrentView(), nil
	}
	delete(s.members, member)
	return s.applyLocked()
}

// ApplyMembers replaces the member set wholesale
func (s *MembershipService) ApplyMembers(members []string) (*model.ClusterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members = make(map[string]bool, len(members)+1)
	for _, m := range members {
		s.members[m] = true
	}
	s.members[s.generator.NodeID()] = true
	return s.applyLocked()
}

func (s *MembershipService) applyLocked() (*model.ClusterSnapshot, error) {
	previous := s.generator.CurrentView()
	view := s.generator.UpdateView(s.sortedLocked())
	if view.ViewID() == previous.ViewID() {
		return view, nil
	}

	if err := s.commitLog.OnViewChange(view); err != nil {
		return nil, fmt.Errorf("failed to rebase commit log onto view %d: %w", view.ViewID(), err)
	}
	s.ownership.UpdateMembers(view.Members())

	s.metrics.ClusterViewID.Set(float64(view.ViewID()))
	s.metrics.ClusterMembers.Set(float64(view.Size()))

	s.logger.Info("Applied membership change",
		zap.Int64("previous_view_id", previous.ViewID()),
		zap.Int64("view_id", view.ViewID()),
		zap.Int("members", view.Size()))

	return view, nil
}

func (s *MembershipService) sortedLocked() []string {
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
