package container

import (
	"math/rand"
)

const (
	maxLevel    = 16
	probability = 0.5
)

// skipListNode is one key of the container index
type skipListNode[V any] struct {
	key     string
	value   V
	forward []*skipListNode[V]
}

// skipList keeps container keys ordered so range scans and garbage
// collection walk keys in a stable order. It is not safe for concurrent
// mutation; the container serializes access.
type skipList[V any] struct {
	head  *skipListNode[V]
	level int
	size  int
	rnd   *rand.Rand
}

func newSkipList[V any](seed int64) *skipList[V] {
	return &skipList[V]{
		head: &skipListNode[V]{forward: make([]*skipListNode[V], maxLevel)},
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

func (sl *skipList[V]) randomLevel() int {
	level := 0
	for sl.rnd.Float64() < probability && level < maxLevel-1 {
		level++
	}
	return level
}

// search returns the node holding key, or nil
func (sl *skipList[V]) search(key string) *skipListNode[V] {
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
	}

	current = current.forward[0]
	if current != nil && current.key == key {
		return current
	}
	return nil
}

// getOrInsert returns the node for key, creating it with init() when absent
func (sl *skipList[V]) getOrInsert(key string, init func() V) *skipListNode[V] {
	update := make([]*skipListNode[V], maxLevel)
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		update[i] = current
	}

	if next := current.forward[0]; next != nil && next.key == key {
		return next
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.level {
		for i := sl.level + 1; i <= newLevel; i++ {
			update[i] = sl.head
		}
		sl.level = newLevel
	}

	node := &skipListNode[V]{
		key:     key,
		value:   init(),
		forward: make([]*skipListNode[V], newLevel+1),
	}
	for i := 0; i <= newLevel; i++ {
		node.forward[i] = update[i].forward[i]
		update[i].forward[i] = node
	}
	sl.size++
	return node
}

// delete removes key and reports whether it was present
func (sl *skipList[V]) delete(key string) bool {
	update := make([]*skipListNode[V], maxLevel)
	current := sl.head
	for i := sl.level; i >= 0; i-- {
		for current.forward[i] != nil && current.forward[i].key < key {
			current = current.forward[i]
		}
		update[i] = current
	}

	current = current.forward[0]
	if current == nil || current.key != key {
		return false
	}

	for i := 0; i <= sl.level; i++ {
		if update[i].forward[i] != current {
			break
		}
		update[i].forward[i] = current.forward[i]
	}
	for sl.level > 0 && sl.head.forward[sl.level] == nil {
		sl.level--
	}

	sl.size--
	return true
}

// ascend calls fn for every node in key order until fn returns false
func (sl *skipList[V]) ascend(fn func(node *skipListNode[V]) bool) {
	for node := sl.head.forward[0]; node != nil; {
		next := node.forward[0]
		if !fn(node) {
			return
		}
		node = next
	}
}
