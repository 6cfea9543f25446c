// Package container stores the committed version chain of every key and
// answers snapshot reads against a version boundary.
package container

import (
	"sync"
	"time"

	"github.com/devrev/pairdb/gmu-node/internal/model"
)

// VersionComparator orders versions that may belong to different views
type VersionComparator interface {
	Compare(a, b *model.Version) (model.VersionComparison, error)
}

// versionChain holds the committed versions of one key, oldest first
type versionChain struct {
	versions []model.StoredVersion
}

// MultiVersionContainer is an in-memory multi-version key store. Versions are
// appended in commit order by the commit applier and read under a boundary by
// the entry factory.
type MultiVersionContainer struct {
	cmp VersionComparator

	mu       sync.RWMutex
	index    *skipList[*versionChain]
	versions int
}

// NewMultiVersionContainer creates an empty container
func NewMultiVersionContainer(cmp VersionComparator) *MultiVersionContainer {
	return &MultiVersionContainer{
		cmp:   cmp,
		index: newSkipList[*versionChain](time.Now().UnixNano()),
	}
}

// Put appends a committed version of key
func (c *MultiVersionContainer) Put(key string, sv model.StoredVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node := c.index.getOrInsert(key, func() *versionChain { return &versionChain{} })
	node.value.versions = append(node.value.versions, sv)
	c.versions++
}

// Get returns the newest version of key visible under boundary. A nil
// boundary selects the newest version. The result is never nil: keys with no
// visible version yield an absent entry.
func (c *MultiVersionContainer) Get(key string, boundary *model.Version) *model.VersionedEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	node := c.index.search(key)
	if node == nil {
		entry := model.NewAbsentEntry(key, nil)
		entry.MostRecent = true
		return entry
	}

	chain := node.value.versions
	unsafe := false
	for i := len(chain) - 1; i >= 0; i-- {
		sv := chain[i]
		visible, incomparable := c.visible(sv.Version, boundary)
		if !visible {
			if incomparable {
				unsafe = true
			}
			continue
		}

		var entry *model.VersionedEntry
		if sv.Kind == model.EntryAbsent {
			entry = model.NewAbsentEntry(key, sv.Version)
		} else {
			entry = model.NewPresentEntry(key, sv.Value, sv.Version)
		}
		entry.MostRecent = i == len(chain)-1
		if !entry.MostRecent {
			entry.MaxValidVersion = chain[i+1].Version
		}
		entry.UnsafeToRead = unsafe
		return entry
	}

	entry := model.NewAbsentEntry(key, nil)
	entry.MostRecent = len(chain) == 0
	if len(chain) > 0 {
		entry.MaxValidVersion = chain[0].Version
	}
	entry.UnsafeToRead = unsafe
	return entry
}

// visible reports whether v is inside boundary. incomparable is set when the
// two versions are concurrent or cannot be rebased onto a common view.
func (c *MultiVersionContainer) visible(v, boundary *model.Version) (visible, incomparable bool) {
	if boundary == nil {
		return true, false
	}
	cmp, err := c.cmp.Compare(v, boundary)
	if err != nil {
		return false, true
	}
	switch cmp {
	case model.Less, model.Equal:
		return true, false
	case model.Concurrent:
		return false, true
	}
	return false, false
}

// GarbageCollect drops every version superseded by a newer version that is
// itself at or below oldest. A key whose only remaining version is a delete
// at or below oldest is removed. It returns the number of versions dropped.
func (c *MultiVersionContainer) GarbageCollect(oldest *model.Version) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var emptied []string
	c.index.ascend(func(node *skipListNode[*versionChain]) bool {
		chain := node.value.versions
		keepFrom := -1
		for i := len(chain) - 1; i >= 0; i-- {
			if visible, _ := c.visible(chain[i].Version, oldest); visible {
				keepFrom = i
				break
			}
		}
		if keepFrom < 0 {
			return true
		}

		if keepFrom > 0 {
			removed += keepFrom
			node.value.versions = append([]model.StoredVersion(nil), chain[keepFrom:]...)
		}
		if len(node.value.versions) == 1 && node.value.versions[0].Kind == model.EntryAbsent {
			emptied = append(emptied, node.key)
		}
		return true
	})

	for _, key := range emptied {
		c.index.delete(key)
		removed++
	}
	c.versions -= removed
	return removed
}

// Len returns the number of keys with at least one version
func (c *MultiVersionContainer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.size
}

// VersionCount returns the number of stored versions across all keys
func (c *MultiVersionContainer) VersionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.versions
}

// Keys returns every key in order
func (c *MultiVersionContainer) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, c.index.size)
	c.index.ascend(func(node *skipListNode[*versionChain]) bool {
		keys = append(keys, node.key)
		return true
	})
	return keys
}
