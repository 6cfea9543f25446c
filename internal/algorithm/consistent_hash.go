package algorithm

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type vnode struct {
	hash uint64
	node string
}

// ConsistentHasher maps keys onto member nodes through a ring of virtual
// nodes
type ConsistentHasher struct {
	mu     sync.RWMutex
	ring   []vnode        // sorted by hash
	vnodes map[string]int // node -> virtual nodes placed
}

// NewConsistentHasher creates an empty ring
func NewConsistentHasher() *ConsistentHasher {
	return &ConsistentHasher{vnodes: make(map[string]int)}
}

// AddNode places virtualNodeCount virtual nodes of nodeID on the ring.
// Adding a node twice is a no-op.
func (ch *ConsistentHasher) AddNode(nodeID string, virtualNodeCount int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, exists := ch.vnodes[nodeID]; exists {
		return
	}

	taken := make(map[uint64]struct{}, len(ch.ring))
	for _, v := range ch.ring {
		taken[v.hash] = struct{}{}
	}

	placed := 0
	for i := 0; i < virtualNodeCount; i++ {
		h := Hash(nodeID + "#" + strconv.Itoa(i))
		if _, dup := taken[h]; dup {
			continue
		}
		taken[h] = struct{}{}
		ch.ring = append(ch.ring, vnode{hash: h, node: nodeID})
		placed++
	}
	ch.vnodes[nodeID] = placed
	sort.Slice(ch.ring, func(i, j int) bool { return ch.ring[i].hash < ch.ring[j].hash })
}

// RemoveNode removes a node and its virtual nodes
func (ch *ConsistentHasher) RemoveNode(nodeID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if _, exists := ch.vnodes[nodeID]; !exists {
		return
	}
	kept := ch.ring[:0]
	for _, v := range ch.ring {
		if v.node != nodeID {
			kept = append(kept, v)
		}
	}
	ch.ring = kept
	delete(ch.vnodes, nodeID)
}

// GetNodes returns up to count distinct nodes walking the ring clockwise from
// the key's position; the first is the primary owner
func (ch *ConsistentHasher) GetNodes(key string, count int) []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if len(ch.ring) == 0 || count <= 0 {
		return nil
	}
	if count > len(ch.vnodes) {
		count = len(ch.vnodes)
	}

	h := Hash(key)
	start := sort.Search(len(ch.ring), func(i int) bool { return ch.ring[i].hash >= h })

	owners := make([]string, 0, count)
	for i := 0; i < len(ch.ring) && len(owners) < count; i++ {
		n := ch.ring[(start+i)%len(ch.ring)].node
		if !contains(owners, n) {
			owners = append(owners, n)
		}
	}
	return owners
}

func contains(nodes []string, n string) bool {
	for _, x := range nodes {
		if x == n {
			return true
		}
	}
	return false
}

// Nodes returns the nodes on the ring, sorted
func (ch *ConsistentHasher) Nodes() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	nodes := make([]string, 0, len(ch.vnodes))
	for n := range ch.vnodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// NodeCount returns the number of physical nodes
func (ch *ConsistentHasher) NodeCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.vnodes)
}

// Hash places a string on the ring
func Hash(key string) uint64 {
	return xxhash.Sum64String(key)
}
