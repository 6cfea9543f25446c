package service

import (
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/model"
)

// LiveSnapshotSource reports the snapshots still being read on this node.
// The commit log keeps every version a pinned snapshot can resolve to, and
// the garbage collector keeps the views they were taken in.
type LiveSnapshotSource interface {
	PinnedVersions() []*model.Version
	OldestPinnedView() (int64, bool)
}

// SnapshotRegistry tracks the snapshot of every transactional read context
// that is still open
type SnapshotRegistry struct {
	mu   sync.Mutex
	live map[*ReadContext]*model.Version
}

// NewSnapshotRegistry creates an empty registry
func NewSnapshotRegistry() *SnapshotRegistry {
	return &SnapshotRegistry{live: make(map[*ReadContext]*model.Version)}
}

// pin records the first version rc reads at. Later pins of the same context
// are ignored since a transaction version only grows.
func (r *SnapshotRegistry) pin(rc *ReadContext, v *model.Version) {
	if v == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[rc]; !ok {
		r.live[rc] = v
	}
}

func (r *SnapshotRegistry) release(rc *ReadContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, rc)
}

// Len returns the number of pinned snapshots
func (r *SnapshotRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// PinnedVersions implements LiveSnapshotSource
func (r *SnapshotRegistry) PinnedVersions() []*model.Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Version, 0, len(r.live))
	for _, v := range r.live {
		out = append(out, v)
	}
	return out
}

// OldestPinnedView implements LiveSnapshotSource
func (r *SnapshotRegistry) OldestPinnedView() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest int64
	found := false
	for _, v := range r.live {
		if !found || v.ViewID() < oldest {
			oldest = v.ViewID()
			found = true
		}
	}
	return oldest, found
}
