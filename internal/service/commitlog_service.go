package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/google/btree"
	"go.uber.org/zap"
)

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	// HistorySize bounds the number of committed versions kept for
	// floor lookups
	HistorySize int
	// WaitTimeout is the default bound for WaitForVersion
	WaitTimeout time.Duration
}

// historyEntry is one published version. Entries are ordered by this node's
// counter and then by publish sequence, so remote-only commits that leave the
// local counter unchanged get their own entry.
type historyEntry struct {
	counter int64
	seq     int64
	version *model.Version
}

func historyLess(a, b historyEntry) bool {
	if a.counter != b.counter {
		return a.counter < b.counter
	}
	return a.seq < b.seq
}

// floorKey sorts after every entry whose local counter is at most counter
func floorKey(counter int64) historyEntry {
	return historyEntry{counter: counter, seq: math.MaxInt64}
}

// commitLogState is published atomically after every advance
type commitLogState struct {
	current *model.Version
	oldest  *model.Version
	history *btree.BTreeG[historyEntry]
	// advanced is closed when a newer state is published
	advanced chan struct{}
}

// CommitLogService is the authoritative record of which versions are visible
// on this node. A single writer (the commit queue) advances it; readers work
// against the last published state without locking.
type CommitLogService struct {
	config    *CommitLogConfig
	generator *VersionGenerator
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	history *btree.BTreeG[historyEntry]
	seq     int64
	live    []LiveSnapshotSource
	state   atomic.Pointer[commitLogState]
}

// NewCommitLogService creates a commit log seeded with the zero version of
// the current view
func NewCommitLogService(cfg *CommitLogConfig, generator *VersionGenerator, m *metrics.Metrics, logger *zap.Logger) *CommitLogService {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}

	s := &CommitLogService{
		config:    cfg,
		generator: generator,
		metrics:   m,
		logger:    logger,
		history:   btree.NewG[historyEntry](16, historyLess),
	}

	initial := generator.NewVersion()
	s.recordLocked(initial)
	s.state.Store(&commitLogState{
		current:  initial,
		oldest:   initial,
		history:  s.history.Clone(),
		advanced: make(chan struct{}),
	})
	return s
}

// GetCurrentVersion returns the most recent committed version
func (s *CommitLogService) GetCurrentVersion() *model.Version {
	return s.state.Load().current
}

// GetOldestVersion returns the oldest version still inside the history window
func (s *CommitLogService) GetOldestVersion() *model.Version {
	return s.state.Load().oldest
}

// GetAvailableVersionLessThan returns the greatest committed version <= v.
// Published versions form a chain, so the scan starts at the newest entry
// whose local counter fits under v and walks back to the first one dominated
// by v. A nil v selects the current version. When no version in the window is
// dominated by v, the boundary falls back to v intersected with the oldest
// retained version.
func (s *CommitLogService) GetAvailableVersionLessThan(v *model.Version) *model.Version {
	st := s.state.Load()
	if v == nil {
		return st.current
	}

	var found *model.Version
	st.history.DescendLessOrEqual(floorKey(s.generator.ThisNodeValue(v)), func(e historyEntry) bool {
		if s.generator.LessOrEqual(e.version, v) {
			found = e.version
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	oldest, bound, err := s.generator.align(st.oldest, v)
	if err != nil {
		return st.oldest
	}
	return oldest.Meet(bound)
}

// GetEntry maps v onto the committed version that covers it, i.e. the newest
// committed version whose local counter does not exceed v's. Versions older
// than the window map to the oldest retained version.
func (s *CommitLogService) GetEntry(v *model.Version) *model.Version {
	st := s.state.Load()
	if v == nil {
		return st.current
	}

	var found *model.Version
	st.history.DescendLessOrEqual(floorKey(s.generator.ThisNodeValue(v)), func(e historyEntry) bool {
		found = e.version
		return false
	})
	if found == nil {
		return st.oldest
	}
	return found
}

// WaitForVersion blocks until this node's committed counter reaches v's
// counter for this node, the timeout elapses, or ctx is done. A timeout is a
// liveness signal only; callers may proceed with the data they have.
// A non-positive timeout waits on ctx alone.
func (s *CommitLogService) WaitForVersion(ctx context.Context, v *model.Version, timeout time.Duration) error {
	if v == nil {
		return nil
	}
	target := s.generator.ThisNodeValue(v)
	start := time.Now()
	defer func() {
		s.metrics.CommitLogWaitDuration.Observe(time.Since(start).Seconds())
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		st := s.state.Load()
		if s.generator.ThisNodeValue(st.current) >= target {
			return nil
		}

		select {
		case <-st.advanced:
		case <-timer:
			s.metrics.CommitLogWaitTimeouts.Inc()
			return errors.WaitTimeout("commit log version "+v.String(), nil)
		case <-ctx.Done():
			s.metrics.CommitLogWaitTimeouts.Inc()
			return errors.WaitTimeout("commit log version "+v.String(), ctx.Err())
		}
	}
}

// InsertNewCommittedVersions publishes a batch of commit versions in drain
// order. Versions already covered by the current version are ignored, so
// re-inserting a batch is harmless.
func (s *CommitLogService) InsertNewCommittedVersions(versions []*model.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.Load()
	current := st.current
	changed := false
	for _, v := range versions {
		next, err := s.advanceLocked(current, v)
		if err != nil {
			return err
		}
		if next != current {
			current = next
			changed = true
		}
	}

	if changed {
		s.publishLocked(current)
		s.metrics.CommitLogPublishesTotal.Inc()
	}
	return nil
}

// UpdateMostRecentVersion folds a commit version this node did not prepare
// into the current version
func (s *CommitLogService) UpdateMostRecentVersion(v *model.Version) error {
	return s.InsertNewCommittedVersions([]*model.Version{v})
}

// OnViewChange rebases the current version onto a newly installed view so
// new provisional versions are produced against it
func (s *CommitLogService) OnViewChange(view *model.ClusterSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.Load()
	rebased, err := s.generator.Rebase(st.current, view.ViewID())
	if err != nil {
		return err
	}
	s.recordLocked(rebased)
	s.publishLocked(rebased)
	return nil
}

// TrackLiveSnapshots registers sources of snapshots that are still being
// read. Trimming never drops the version a pinned snapshot resolves to.
func (s *CommitLogService) TrackLiveSnapshots(sources ...LiveSnapshotSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = append(s.live, sources...)
}

// OldestPinnedView returns the oldest view a live snapshot was taken in
func (s *CommitLogService) OldestPinnedView() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest int64
	found := false
	for _, src := range s.live {
		if view, ok := src.OldestPinnedView(); ok && (!found || view < oldest) {
			oldest = view
			found = true
		}
	}
	return oldest, found
}

// GarbageCollect trims the history window to the keep most recent versions
// and returns how many were dropped. Versions still needed by a pinned
// snapshot are kept even when that leaves more than keep.
func (s *CommitLogService) GarbageCollect(keep int) int {
	if keep < 1 {
		keep = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.trimLocked(keep)
	if removed > 0 {
		s.publishLocked(s.state.Load().current)
		s.logger.Debug("Trimmed commit log history",
			zap.Int("removed", removed),
			zap.Int("retained", s.history.Len()))
	}
	return removed
}

// HistoryLen returns the number of versions in the window
func (s *CommitLogService) HistoryLen() int {
	return s.state.Load().history.Len()
}

func (s *CommitLogService) advanceLocked(current, v *model.Version) (*model.Version, error) {
	if v == nil {
		return current, nil
	}
	cur, nv, err := s.generator.align(current, v)
	if err != nil {
		return nil, err
	}
	if nv.LessOrEqual(cur) {
		return current, nil
	}

	merged := cur.Merge(nv)
	s.recordLocked(merged)
	return merged, nil
}

// recordLocked appends v to the history and trims the window
func (s *CommitLogService) recordLocked(v *model.Version) {
	s.seq++
	s.history.ReplaceOrInsert(historyEntry{counter: s.generator.ThisNodeValue(v), seq: s.seq, version: v})
	s.trimLocked(s.config.HistorySize)
}

// trimLocked drops the oldest entries while more than keep remain. The oldest
// entry goes only when the next one is still dominated by every pinned
// snapshot, so each snapshot keeps the greatest version below it.
func (s *CommitLogService) trimLocked(keep int) int {
	var pinned []*model.Version
	for _, src := range s.live {
		pinned = append(pinned, src.PinnedVersions()...)
	}

	removed := 0
	for s.history.Len() > keep {
		next, ok := s.secondOldestLocked()
		if !ok || !s.dominatedByAll(next.version, pinned) {
			break
		}
		s.history.DeleteMin()
		removed++
	}
	return removed
}

func (s *CommitLogService) secondOldestLocked() (historyEntry, bool) {
	var out historyEntry
	n := 0
	s.history.Ascend(func(e historyEntry) bool {
		n++
		if n == 2 {
			out = e
			return false
		}
		return true
	})
	return out, n == 2
}

func (s *CommitLogService) dominatedByAll(v *model.Version, pinned []*model.Version) bool {
	for _, p := range pinned {
		if !s.generator.LessOrEqual(v, p) {
			return false
		}
	}
	return true
}

func (s *CommitLogService) publishLocked(current *model.Version) {
	oldest := current
	if min, ok := s.history.Min(); ok {
		oldest = min.version
	}

	prev := s.state.Load()
	s.state.Store(&commitLogState{
		current:  current,
		oldest:   oldest,
		history:  s.history.Clone(),
		advanced: make(chan struct{}),
	})
	close(prev.advanced)

	s.metrics.CommitLogCurrentCounter.Set(float64(s.generator.ThisNodeValue(current)))
	s.metrics.CommitLogHistoryEntries.Set(float64(s.history.Len()))
}
