package model

import (
	"fmt"
	"strings"
)

// VersionComparison represents the result of comparing two versions
type VersionComparison int

const (
	// Equal means both versions carry the same counters
	Equal VersionComparison = iota
	// Less means the first version happens before the second
	Less
	// Greater means the first version happens after the second
	Greater
	// Concurrent means neither version dominates the other
	Concurrent
)

func (c VersionComparison) String() string {
	switch c {
	case Equal:
		return "EQUAL"
	case Less:
		return "LESS"
	case Greater:
		return "GREATER"
	default:
		return "CONCURRENT"
	}
}

// Version is an immutable multi-component logical clock stamped against one
// cluster view. Counters are indexed by the view's ClusterSnapshot. A nil
// *Version means "unbounded" wherever a read boundary is expected.
type Version struct {
	viewID     int64
	counters   []int64
	subVersion int
}

// NewVersion creates a version for a view. The counters slice is copied.
func NewVersion(viewID int64, counters []int64) *Version {
	c := make([]int64, len(counters))
	copy(c, counters)
	return &Version{viewID: viewID, counters: c}
}

// ViewID returns the membership epoch the version was produced under
func (v *Version) ViewID() int64 {
	return v.viewID
}

// Size returns the number of members the version has a slot for
func (v *Version) Size() int {
	return len(v.counters)
}

// Counter returns the counter at a snapshot index, zero when out of range
func (v *Version) Counter(idx int) int64 {
	if idx < 0 || idx >= len(v.counters) {
		return 0
	}
	return v.counters[idx]
}

// Counters returns a copy of the per-member counters
func (v *Version) Counters() []int64 {
	c := make([]int64, len(v.counters))
	copy(c, v.counters)
	return c
}

// SubVersion orders entries written by the same drained batch. It does not
// take part in Compare.
func (v *Version) SubVersion() int {
	return v.subVersion
}

// WithCounter returns a copy of v with the counter at idx replaced
func (v *Version) WithCounter(idx int, value int64) *Version {
	nv := NewVersion(v.viewID, v.counters)
	if idx >= 0 && idx < len(nv.counters) {
		nv.counters[idx] = value
	}
	return nv
}

// WithSubVersion returns a copy of v carrying a batch sub-version
func (v *Version) WithSubVersion(sub int) *Version {
	nv := NewVersion(v.viewID, v.counters)
	nv.subVersion = sub
	return nv
}

// Compare compares two versions of the same view component-wise.
// Callers must rebase versions of different views first.
func (v *Version) Compare(o *Version) VersionComparison {
	n := len(v.counters)
	if len(o.counters) > n {
		n = len(o.counters)
	}

	allBefore := true
	allAfter := true
	for i := 0; i < n; i++ {
		a, b := v.Counter(i), o.Counter(i)
		if a < b {
			allAfter = false
		} else if a > b {
			allBefore = false
		}
	}

	switch {
	case allBefore && allAfter:
		return Equal
	case allBefore:
		return Less
	case allAfter:
		return Greater
	}
	return Concurrent
}

// LessOrEqual reports v <= o in the partial order
func (v *Version) LessOrEqual(o *Version) bool {
	c := v.Compare(o)
	return c == Less || c == Equal
}

// Merge returns the component-wise maximum of two versions of the same view
func (v *Version) Merge(o *Version) *Version {
	n := len(v.counters)
	if len(o.counters) > n {
		n = len(o.counters)
	}
	merged := make([]int64, n)
	for i := 0; i < n; i++ {
		merged[i] = v.Counter(i)
		if c := o.Counter(i); c > merged[i] {
			merged[i] = c
		}
	}
	return &Version{viewID: v.viewID, counters: merged}
}

// Meet returns the component-wise minimum of two versions of the same view
func (v *Version) Meet(o *Version) *Version {
	n := len(v.counters)
	if len(o.counters) > n {
		n = len(o.counters)
	}
	met := make([]int64, n)
	for i := 0; i < n; i++ {
		met[i] = v.Counter(i)
		if c := o.Counter(i); c < met[i] {
			met[i] = c
		}
	}
	return &Version{viewID: v.viewID, counters: met}
}

// String renders the version as view:(c0,c1,...)[.sub]
func (v *Version) String() string {
	if v == nil {
		return "<unbounded>"
	}
	parts := make([]string, len(v.counters))
	for i, c := range v.counters {
		parts[i] = fmt.Sprintf("%d", c)
	}
	s := fmt.Sprintf("%d:(%s)", v.viewID, strings.Join(parts, ","))
	if v.subVersion > 0 {
		s = fmt.Sprintf("%s.%d", s, v.subVersion)
	}
	return s
}
