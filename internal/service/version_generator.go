package service

import (
	"sort"
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// VersionGenerator produces and compares multi-component versions bound to
// this node and the cluster views it has seen. It owns the ClusterSnapshot of
// every view that may still be referenced by a live version.
type VersionGenerator struct {
	nodeID string
	logger *zap.Logger

	mu           sync.RWMutex
	snapshots    map[int64]*model.ClusterSnapshot
	current      *model.ClusterSnapshot
	localCounter int64
}

// NewVersionGenerator creates a generator whose first view (id 1) contains
// members. nodeID is added if missing.
func NewVersionGenerator(nodeID string, members []string, logger *zap.Logger) *VersionGenerator {
	if !containsMember(members, nodeID) {
		members = append(append([]string{}, members...), nodeID)
	}
	snapshot := model.NewClusterSnapshot(1, members)
	return &VersionGenerator{
		nodeID:    nodeID,
		logger:    logger,
		snapshots: map[int64]*model.ClusterSnapshot{1: snapshot},
		current:   snapshot,
	}
}

// NodeID returns the identity of this node
func (g *VersionGenerator) NodeID() string {
	return g.nodeID
}

// CurrentView returns the newest cluster snapshot
func (g *VersionGenerator) CurrentView() *model.ClusterSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// ClusterSnapshot returns the snapshot of a view
func (g *VersionGenerator) ClusterSnapshot(viewID int64) (*model.ClusterSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.snapshots[viewID]
	if !ok {
		return nil, errors.UnknownView(viewID)
	}
	return s, nil
}

// UpdateView installs a new view built from members and returns its snapshot.
// A member list identical to the current view is a no-op.
func (g *VersionGenerator) UpdateView(members []string) *model.ClusterSnapshot {
	if !containsMember(members, g.nodeID) {
		members = append(append([]string{}, members...), g.nodeID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if sameMembers(g.current.Members(), members) {
		return g.current
	}

	next := model.NewClusterSnapshot(g.current.ViewID()+1, members)
	g.snapshots[next.ViewID()] = next
	g.current = next

	g.logger.Info("Installed cluster view",
		zap.Int64("view_id", next.ViewID()),
		zap.Strings("members", next.Members()))

	return next
}

// RetireViewsBefore forgets snapshots older than viewID. Versions of retired
// views can no longer be rebased; callers must only retire views that no live
// transaction references.
func (g *VersionGenerator) RetireViewsBefore(viewID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	retired := 0
	for id := range g.snapshots {
		if id < viewID && id != g.current.ViewID() {
			delete(g.snapshots, id)
			retired++
		}
	}
	return retired
}

// NewVersion returns the zero version of the current view
func (g *VersionGenerator) NewVersion() *model.Version {
	view := g.CurrentView()
	return model.NewVersion(view.ViewID(), make([]int64, view.Size()))
}

// ThisNodeValue returns this node's counter in v
func (g *VersionGenerator) ThisNodeValue(v *model.Version) int64 {
	if v == nil {
		return 0
	}
	s, err := g.ClusterSnapshot(v.ViewID())
	if err != nil {
		return 0
	}
	return v.Counter(s.IndexOf(g.nodeID))
}

// NewProvisionalVersion increments the local counter and stamps it onto the
// committed version, yielding a version strictly greater than committed.
func (g *VersionGenerator) NewProvisionalVersion(committed *model.Version) (*model.Version, error) {
	base, err := g.Rebase(committed, g.CurrentView().ViewID())
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if c := g.thisNodeValueLocked(base); c > g.localCounter {
		g.localCounter = c
	}
	g.localCounter++
	counter := g.localCounter
	g.mu.Unlock()

	return g.SetNodeVersion(base, counter), nil
}

// ObserveCommitVersion moves the local counter past the counter a commit
// version assigned to this node, so later prepares are ordered after it.
func (g *VersionGenerator) ObserveCommitVersion(v *model.Version) {
	c := g.ThisNodeValue(v)
	g.mu.Lock()
	if c > g.localCounter {
		g.localCounter = c
	}
	g.mu.Unlock()
}

// SetNodeVersion returns base with this node's counter replaced
func (g *VersionGenerator) SetNodeVersion(base *model.Version, counter int64) *model.Version {
	s, err := g.ClusterSnapshot(base.ViewID())
	if err != nil {
		return base
	}
	return base.WithCounter(s.IndexOf(g.nodeID), counter)
}

// ConvertVersionToWrite stamps the version of the i-th transaction of a
// drained batch onto the entries it writes
func (g *VersionGenerator) ConvertVersionToWrite(v *model.Version, subVersion int) *model.Version {
	return v.WithSubVersion(subVersion)
}

// Rebase projects v onto the snapshot of targetView, padding new members with
// zero and dropping departed ones. Rebasing to an older or unknown view fails
// with a version mismatch.
func (g *VersionGenerator) Rebase(v *model.Version, targetView int64) (*model.Version, error) {
	if v.ViewID() == targetView {
		return v, nil
	}

	g.mu.RLock()
	from, okFrom := g.snapshots[v.ViewID()]
	to, okTo := g.snapshots[targetView]
	g.mu.RUnlock()

	if !okFrom || !okTo || targetView < v.ViewID() {
		return nil, errors.VersionMismatch(v.ViewID(), targetView)
	}

	counters := make([]int64, to.Size())
	for i, member := range to.Members() {
		if j := from.IndexOf(member); j != -1 {
			counters[i] = v.Counter(j)
		}
	}
	rebased := model.NewVersion(targetView, counters)
	if v.SubVersion() > 0 {
		rebased = rebased.WithSubVersion(v.SubVersion())
	}
	return rebased, nil
}

// align rebases two versions onto the newer of their views
func (g *VersionGenerator) align(a, b *model.Version) (*model.Version, *model.Version, error) {
	target := a.ViewID()
	if b.ViewID() > target {
		target = b.ViewID()
	}
	ra, err := g.Rebase(a, target)
	if err != nil {
		return nil, nil, err
	}
	rb, err := g.Rebase(b, target)
	if err != nil {
		return nil, nil, err
	}
	return ra, rb, nil
}

// Compare compares two versions, rebasing them onto a common view first.
// A mismatch error means the versions are incomparable and the caller must
// revalidate.
func (g *VersionGenerator) Compare(a, b *model.Version) (model.VersionComparison, error) {
	ra, rb, err := g.align(a, b)
	if err != nil {
		return model.Concurrent, err
	}
	return ra.Compare(rb), nil
}

// LessOrEqual reports a <= b. Incomparable versions are not ordered.
func (g *VersionGenerator) LessOrEqual(a, b *model.Version) bool {
	c, err := g.Compare(a, b)
	return err == nil && (c == model.Less || c == model.Equal)
}

// Merge returns the component-wise maximum of the versions, projected onto
// the newest view among them. Nil versions are skipped.
func (g *VersionGenerator) Merge(versions ...*model.Version) (*model.Version, error) {
	var merged *model.Version
	for _, v := range versions {
		if v == nil {
			continue
		}
		if merged == nil {
			merged = v
			continue
		}
		a, b, err := g.align(merged, v)
		if err != nil {
			return nil, err
		}
		merged = a.Merge(b)
	}
	return merged, nil
}

// MergeAndMax joins the prepare versions returned by every participant into
// the transaction's commit version
func (g *VersionGenerator) MergeAndMax(prepared []*model.Version) (*model.Version, error) {
	merged, err := g.Merge(prepared...)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		return nil, errors.InvalidArgument("no prepare versions to merge", nil)
	}
	return merged, nil
}

// CalculateMaxVersionToRead derives a transaction's read boundary. A
// transaction that has not read anywhere yet reads the most recent data.
func (g *VersionGenerator) CalculateMaxVersionToRead(txVersion *model.Version, alreadyReadFrom []string) *model.Version {
	if len(alreadyReadFrom) == 0 {
		return nil
	}
	return txVersion
}

func (g *VersionGenerator) thisNodeValueLocked(v *model.Version) int64 {
	s, ok := g.snapshots[v.ViewID()]
	if !ok {
		return 0
	}
	return v.Counter(s.IndexOf(g.nodeID))
}

func containsMember(members []string, m string) bool {
	for _, x := range members {
		if x == m {
			return true
		}
	}
	return false
}

func sameMembers(a, b []string) bool {
	as := append([]string{}, a...)
	bs := append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
