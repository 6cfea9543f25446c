package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/metrics"
	"github.com/devrev/pairdb/gmu-node/internal/model"
	"go.uber.org/zap"
)

// NearCacheConfig holds near-cache configuration
type NearCacheConfig struct {
	MaxSize         int64
	FrequencyWeight float64
	RecencyWeight   float64
	AdaptiveWindow  time.Duration
}

// nearCacheSlot guards one key
type nearCacheSlot struct {
	mu          sync.Mutex
	entry       *model.VersionedEntry
	size        int64
	accessCount int64
	lastAccess  time.Time
	removed     bool
}

// NearCacheService keeps entries fetched from remote owners so later reads of
// the same transaction snapshot can skip the network. It combines LRU and LFU
// scores for eviction and adapts their weights to the workload. Every key has
// its own lock.
type NearCacheService struct {
	config    *NearCacheConfig
	generator *VersionGenerator
	metrics   *metrics.Metrics
	logger    *zap.Logger

	slots       sync.Map // string -> *nearCacheSlot
	currentSize atomic.Int64
	entries     atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64

	weightsMu       sync.RWMutex
	frequencyWeight float64
	recencyWeight   float64
}

// NearCacheStats reports near-cache occupancy and effectiveness
type NearCacheStats struct {
	Size            int64
	MaxSize         int64
	EntryCount      int64
	Hits            int64
	Misses          int64
	Evictions       int64
	FrequencyWeight float64
	RecencyWeight   float64
}

// NewNearCacheService creates an empty near-cache
func NewNearCacheService(cfg *NearCacheConfig, generator *VersionGenerator, m *metrics.Metrics, logger *zap.Logger) *NearCacheService {
	return &NearCacheService{
		config:          cfg,
		generator:       generator,
		metrics:         m,
		logger:          logger,
		frequencyWeight: cfg.FrequencyWeight,
		recencyWeight:   cfg.RecencyWeight,
	}
}

func entrySize(key string, e *model.VersionedEntry) int64 {
	return int64(len(key) + len(e.Value) + 64)
}

// InsertOrUpdate caches entry unless the cached one was created by a newer
// version
func (s *NearCacheService) InsertOrUpdate(key string, entry *model.VersionedEntry) {
	if entry == nil {
		return
	}

	for {
		v, _ := s.slots.LoadOrStore(key, &nearCacheSlot{})
		slot := v.(*nearCacheSlot)

		slot.mu.Lock()
		if slot.removed {
			slot.mu.Unlock()
			continue
		}
		if slot.entry != nil && s.isOlder(entry.CreationVersion, slot.entry.CreationVersion) {
			slot.mu.Unlock()
			return
		}

		size := entrySize(key, entry)
		if slot.entry == nil {
			s.entries.Add(1)
		}
		s.currentSize.Add(size - slot.size)
		slot.entry = entry.Clone()
		slot.size = size
		slot.accessCount++
		slot.lastAccess = time.Now()
		slot.mu.Unlock()
		break
	}

	s.metrics.NearCacheEntries.Set(float64(s.entries.Load()))
	for s.config.MaxSize > 0 && s.currentSize.Load() > s.config.MaxSize {
		if !s.evictLowestScore() {
			break
		}
	}
}

// isOlder reports whether a was created strictly before b. Unknown creation
// versions sort first.
func (s *NearCacheService) isOlder(a, b *model.Version) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	cmp, err := s.generator.Compare(a, b)
	return err == nil && cmp == model.Less
}

// GetValidVersion returns the cached entry of key if the transaction snapshot
// txVersion falls inside its validity interval, i.e. the entry was created at
// or before txVersion and txVersion is strictly older than the write that
// replaced it
func (s *NearCacheService) GetValidVersion(key string, txVersion *model.Version) *model.VersionedEntry {
	v, ok := s.slots.Load(key)
	if !ok || txVersion == nil {
		s.miss()
		return nil
	}
	slot := v.(*nearCacheSlot)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	e := slot.entry
	if e == nil || slot.removed || e.CreationVersion == nil {
		s.miss()
		return nil
	}
	if !s.generator.LessOrEqual(e.CreationVersion, txVersion) {
		s.miss()
		return nil
	}
	// MaxValidVersion is the replacing write, so a snapshot at it already
	// sees the replacement
	if e.MaxValidVersion != nil && !s.isOlder(txVersion, e.MaxValidVersion) {
		s.miss()
		return nil
	}

	slot.accessCount++
	slot.lastAccess = time.Now()
	s.hits.Add(1)
	s.metrics.NearCacheHitsTotal.Inc()

	result := e.Clone()
	result.MaxTxVersion = txVersion
	return result
}

func (s *NearCacheService) miss() {
	s.misses.Add(1)
	s.metrics.NearCacheMissesTotal.Inc()
}

// Remove drops key from the cache
func (s *NearCacheService) Remove(key string) {
	v, ok := s.slots.Load(key)
	if !ok {
		return
	}
	s.removeSlot(key, v.(*nearCacheSlot))
}

func (s *NearCacheService) removeSlot(key string, slot *nearCacheSlot) bool {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.removed {
		return false
	}
	slot.removed = true
	s.slots.CompareAndDelete(key, slot)
	if slot.entry != nil {
		s.entries.Add(-1)
		s.currentSize.Add(-slot.size)
	}
	s.metrics.NearCacheEntries.Set(float64(s.entries.Load()))
	return true
}

// calculateScore computes the adaptive score of a slot (higher is better)
func (s *NearCacheService) calculateScore(accessCount int64, lastAccess time.Time) float64 {
	s.weightsMu.RLock()
	defer s.weightsMu.RUnlock()
	return s.frequencyWeight*float64(accessCount) - s.recencyWeight*time.Since(lastAccess).Seconds()
}

// evictLowestScore evicts the slot with the lowest score
func (s *NearCacheService) evictLowestScore() bool {
	var lowestKey string
	var lowestSlot *nearCacheSlot
	lowestScore := 0.0

	s.slots.Range(func(k, v interface{}) bool {
		slot := v.(*nearCacheSlot)
		slot.mu.Lock()
		score := s.calculateScore(slot.accessCount, slot.lastAccess)
		empty := slot.entry == nil || slot.removed
		slot.mu.Unlock()

		if !empty && (lowestSlot == nil || score < lowestScore) {
			lowestKey = k.(string)
			lowestSlot = slot
			lowestScore = score
		}
		return true
	})

	if lowestSlot == nil || !s.removeSlot(lowestKey, lowestSlot) {
		return false
	}

	s.evictions.Add(1)
	s.metrics.NearCacheEvictionsTotal.Inc()
	s.logger.Debug("Evicted near-cache entry",
		zap.String("key", lowestKey),
		zap.Float64("score", lowestScore))
	return true
}

// AdjustWeights favors recency or frequency depending on how many entries
// were touched inside the adaptive window
func (s *NearCacheService) AdjustWeights() {
	var total, recent int64
	recentThreshold := time.Now().Add(-s.config.AdaptiveWindow)

	s.slots.Range(func(_, v interface{}) bool {
		slot := v.(*nearCacheSlot)
		slot.mu.Lock()
		if slot.entry != nil {
			total++
			if slot.lastAccess.After(recentThreshold) {
				recent++
			}
		}
		slot.mu.Unlock()
		return true
	})

	if total == 0 {
		return
	}

	hotnessRatio := float64(recent) / float64(total)

	s.weightsMu.Lock()
	switch {
	case hotnessRatio > 0.7:
		s.recencyWeight = 0.7
		s.frequencyWeight = 0.3
	case hotnessRatio < 0.3:
		s.recencyWeight = 0.3
		s.frequencyWeight = 0.7
	default:
		s.recencyWeight = 0.5
		s.frequencyWeight = 0.5
	}
	recency, frequency := s.recencyWeight, s.frequencyWeight
	s.weightsMu.Unlock()

	s.logger.Debug("Adjusted near-cache weights",
		zap.Float64("recency_weight", recency),
		zap.Float64("frequency_weight", frequency),
		zap.Float64("hotness_ratio", hotnessRatio))
}

// Stats returns near-cache statistics
func (s *NearCacheService) Stats() NearCacheStats {
	s.weightsMu.RLock()
	defer s.weightsMu.RUnlock()

	return NearCacheStats{
		Size:            s.currentSize.Load(),
		MaxSize:         s.config.MaxSize,
		EntryCount:      s.entries.Load(),
		Hits:            s.hits.Load(),
		Misses:          s.misses.Load(),
		Evictions:       s.evictions.Load(),
		FrequencyWeight: s.frequencyWeight,
		RecencyWeight:   s.recencyWeight,
	}
}
