package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"github.com/devrev/pairdb/gmu-node/internal/util/workerpool"
	"go.uber.org/zap"
)

// CollectableStore drops versions no live snapshot can still read
type CollectableStore interface {
	GarbageCollect(oldest *model.Version) int
}

// GarbageCollectorConfig holds garbage collection configuration
type GarbageCollectorConfig struct {
	Interval    time.Duration
	MinRetained int
}

// GarbageCollectorService reclaims commit log history, superseded container
// versions and retired views once enough transactions have committed
type GarbageCollectorService struct {
	config    *GarbageCollectorConfig
	commitLog *CommitLogService
	store     CollectableStore
	generator *VersionGenerator
	nearCache *NearCacheService
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger

	pending atomic.Int64
	running atomic.Bool

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewGarbageCollectorService creates a collector. nearCache may be nil.
func NewGarbageCollectorService(
	cfg *GarbageCollectorConfig,
	commitLog *CommitLogService,
	store CollectableStore,
	generator *VersionGenerator,
	nearCache *NearCacheService,
	pool *workerpool.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *GarbageCollectorService {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinRetained < 1 {
		cfg.MinRetained = 1
	}
	return &GarbageCollectorService{
		config:    cfg,
		commitLog: commitLog,
		store:     store,
		generator: generator,
		nearCache: nearCache,
		pool:      pool,
		metrics:   m,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// NotifyCommittedTransactions records that count transactions became visible
func (s *GarbageCollectorService) NotifyCommittedTransactions(count int) {
	if count <= 0 {
		return
	}
	s.pending.Add(int64(count))
	s.metrics.GCCommittedTransactions.Add(float64(count))
}

// Pending returns the number of transactions committed since the last run
func (s *GarbageCollectorService) Pending() int64 {
	return s.pending.Load()
}

// Start launches the periodic scheduler
func (s *GarbageCollectorService) Start() {
	s.wg.Add(1)
	go s.scheduler()
	s.logger.Info("Garbage collector started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("min_retained", s.config.MinRetained))
}

// Stop halts the scheduler. A run already handed to the pool finishes on its
// own.
func (s *GarbageCollectorService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Garbage collector stopped")
}

func (s *GarbageCollectorService) scheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.schedule()
		case <-s.stopChan:
			return
		}
	}
}

// schedule hands one run to the pool unless a run is still in flight
func (s *GarbageCollectorService) schedule() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	task := workerpool.Task{
		ID: fmt.Sprintf("gc-%d", time.Now().UnixNano()),
		Fn: func(ctx context.Context) error {
			defer s.running.Store(false)
			_, err := s.RunOnce(ctx)
			return err
		},
	}
	if err := s.pool.Submit(task); err != nil {
		s.running.Store(false)
		s.logger.Warn("Skipped garbage collection run", zap.Error(err))
	}
}

// GCResult summarizes one collection run
type GCResult struct {
	HistoryTrimmed  int
	VersionsRemoved int
	ViewsRetired    int
	Oldest          *model.Version
}

// RunOnce trims the commit log to the configured window, drops container
// versions superseded at or below the new oldest version and forgets views
// older than it. Snapshots still pinned by open transactions bound all three.
func (s *GarbageCollectorService) RunOnce(ctx context.Context) (*GCResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	committed := s.pending.Swap(0)
	start := time.Now()

	result := &GCResult{}
	result.HistoryTrimmed = s.commitLog.GarbageCollect(s.config.MinRetained)
	result.Oldest = s.commitLog.GetOldestVersion()

	if s.store != nil {
		result.VersionsRemoved = s.store.GarbageCollect(result.Oldest)
	}
	retireBefore := result.Oldest.ViewID()
	if view, ok := s.commitLog.OldestPinnedView(); ok && view < retireBefore {
		retireBefore = view
	}
	result.ViewsRetired = s.generator.RetireViewsBefore(retireBefore)

	if s.nearCache != nil {
		s.nearCache.AdjustWeights()
	}

	s.metrics.GCRunsTotal.Inc()
	s.metrics.GCVersionsRemoved.Add(float64(result.VersionsRemoved))

	s.logger.Debug("Garbage collection completed",
		zap.Int64("committed_since_last_run", committed),
		zap.Int("history_trimmed", result.HistoryTrimmed),
		zap.Int("versions_removed", result.VersionsRemoved),
		zap.Int("views_retired", result.ViewsRetired),
		zap.Stringer("oldest", result.Oldest),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}
