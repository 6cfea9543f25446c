package service

import (
	"sync"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// VersionedStore receives the writes of committed transactions
type VersionedStore interface {
	Put(key string, sv model.StoredVersion)
}

// CommitApplier drains the commit queue on a single goroutine, applies each
// batch to the store in queue order and then publishes it
type CommitApplier struct {
	manager   *CommitManager
	store     VersionedStore
	generator *VersionGenerator
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCommitApplier creates an applier. interval is the fallback poll period
// when no ready signal arrives.
func NewCommitApplier(manager *CommitManager, store VersionedStore, generator *VersionGenerator, interval time.Duration, logger *zap.Logger) *CommitApplier {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &CommitApplier{
		manager:   manager,
		store:     store,
		generator: generator,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the drain loop
func (a *CommitApplier) Start() {
	go a.run()
	a.logger.Info("Commit applier started", zap.Duration("interval", a.interval))
}

// Stop ends the drain loop after applying whatever is ready
func (a *CommitApplier) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	<-a.doneCh
	a.logger.Info("Commit applier stopped")
}

func (a *CommitApplier) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			a.ApplyReady()
			return
		case <-a.manager.Ready():
			a.ApplyReady()
		case <-ticker.C:
			a.ApplyReady()
		}
	}
}

// ApplyReady drains and applies every ready batch, returning the number of
// transactions made visible
func (a *CommitApplier) ApplyReady() int {
	applied := 0
	for {
		batch := a.manager.DrainReady()
		if len(batch) == 0 {
			return applied
		}

		for i, entry := range batch {
			writeVersion := a.generator.ConvertVersionToWrite(entry.CommitVersion(), i)
			for _, w := range entry.Transaction().Writes {
				sv := model.StoredVersion{Kind: model.EntryPresent, Value: w.Value, Version: writeVersion}
				if w.Delete {
					sv = model.StoredVersion{Kind: model.EntryAbsent, Version: writeVersion}
				}
				a.store.Put(w.Key, sv)
			}
		}

		if err := a.manager.NotifyCommitted(batch); err != nil {
			a.logger.Error("Failed to publish committed batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			return applied
		}
		applied += len(batch)
	}
}
