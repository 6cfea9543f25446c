package transport

// ClusteredGetResponseValidityFilter accepts successful responses from the
// targets of one clustered get; answers from anyone else are ignored
type ClusteredGetResponseValidityFilter struct {
	targets   map[string]bool
	pending   int
	validSeen bool
}

// NewClusteredGetResponseValidityFilter creates a filter for targets. self is
// never expected to answer.
func NewClusteredGetResponseValidityFilter(targets []string, self string) *ClusteredGetResponseValidityFilter {
	f := &ClusteredGetResponseValidityFilter{targets: make(map[string]bool, len(targets))}
	for _, t := range targets {
		if t != self && !f.targets[t] {
			f.targets[t] = true
			f.pending++
		}
	}
	return f
}

// IsAcceptable implements ResponseFilter
func (f *ClusteredGetResponseValidityFilter) IsAcceptable(resp Response) bool {
	if !f.targets[resp.Sender] {
		return false
	}
	f.pending--
	if resp.Status == StatusSuccess && resp.Entry != nil {
		f.validSeen = true
		return true
	}
	return false
}

// NeedMoreResponses implements ResponseFilter
func (f *ClusteredGetResponseValidityFilter) NeedMoreResponses() bool {
	return !f.validSeen && f.pending > 0
}
