package model

import "sort"

// ClusterSnapshot is the immutable, ordered member list of one cluster view.
// Positions index both version counters and already-read-from bitmasks.
type ClusterSnapshot struct {
	viewID  int64
	members []string
	index   map[string]int
}

// NewClusterSnapshot builds a snapshot; members are sorted so every node
// derives the same positions for the same view.
func NewClusterSnapshot(viewID int64, members []string) *ClusterSnapshot {
	sorted := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if !seen[m] {
			seen[m] = true
			sorted = append(sorted, m)
		}
	}
	sort.Strings(sorted)

	index := make(map[string]int, len(sorted))
	for i, m := range sorted {
		index[m] = i
	}
	return &ClusterSnapshot{viewID: viewID, members: sorted, index: index}
}

// ViewID returns the view this snapshot belongs to
func (s *ClusterSnapshot) ViewID() int64 {
	return s.viewID
}

// Size returns the number of members
func (s *ClusterSnapshot) Size() int {
	return len(s.members)
}

// IndexOf returns the position of a member, or -1
func (s *ClusterSnapshot) IndexOf(member string) int {
	if idx, ok := s.index[member]; ok {
		return idx
	}
	return -1
}

// Get returns the member at a position, or "" when out of range
func (s *ClusterSnapshot) Get(idx int) string {
	if idx < 0 || idx >= len(s.members) {
		return ""
	}
	return s.members[idx]
}

// Contains reports whether member is part of the view
func (s *ClusterSnapshot) Contains(member string) bool {
	_, ok := s.index[member]
	return ok
}

// Members returns a copy of the ordered member list
func (s *ClusterSnapshot) Members() []string {
	out := make([]string, len(s.members))
	copy(out, s.members)
	return out
}

// ReadFromMask encodes a set of members as a bitmask over this snapshot.
// Members outside the view are ignored.
func (s *ClusterSnapshot) ReadFromMask(members []string) NodeMask {
	mask := NewNodeMask(len(s.members))
	for _, m := range members {
		if idx := s.IndexOf(m); idx != -1 {
			mask.Set(idx)
		}
	}
	return mask
}

// MembersOf decodes a bitmask back into member identities
func (s *ClusterSnapshot) MembersOf(mask NodeMask) []string {
	out := make([]string, 0)
	for i, m := range s.members {
		if mask.IsSet(i) {
			out = append(out, m)
		}
	}
	return out
}

// NodeMask is a compact set of snapshot positions
type NodeMask []uint64

// NewNodeMask creates an empty mask able to hold size positions
func NewNodeMask(size int) NodeMask {
	return make(NodeMask, (size+63)/64)
}

// Set marks a position
func (m NodeMask) Set(idx int) {
	if idx < 0 || idx/64 >= len(m) {
		return
	}
	m[idx/64] |= 1 << uint(idx%64)
}

// IsSet reports whether a position is marked
func (m NodeMask) IsSet(idx int) bool {
	if idx < 0 || idx/64 >= len(m) {
		return false
	}
	return m[idx/64]&(1<<uint(idx%64)) != 0
}

// Empty reports whether no position is marked
func (m NodeMask) Empty() bool {
	for _, w := range m {
		if w != 0 {
			return false
		}
	}
	return true
}
