package analysis

import (
	"sync"
	"time"
)

// History is an ordered, newest-first collection of analysis results keyed
// by segment identity. It is the only structure mutated by more than one
// flow: finalization inserts at the head while verification goroutines
// resolve entries in place. All mutation is identity-keyed, so concurrent
// resolutions of distinct segments never interfere and no entry is resolved
// twice.
type History struct {
	mu      sync.RWMutex
	entries []*Result // Head (index 0) is the most recent insertion
	index   map[string]*Result
}

// NewHistory creates a history, optionally seeded with pre-existing entries
// in newest-first order (e.g. restored from the surrounding application's
// persisted state). Entries with duplicate or empty segment IDs are skipped.
func NewHistory(initial []Result) *History {
	h := &History{
		index: make(map[string]*Result),
	}
	for i := range initial {
		e := initial[i]
		if e.SegmentID == "" {
			continue
		}
		if _, exists := h.index[e.SegmentID]; exists {
			continue
		}
		entry := &e
		h.entries = append(h.entries, entry)
		h.index[e.SegmentID] = entry
	}
	return h
}

// Insert adds a result at the head. Returns false when the segment identity
// already exists; identities are unique within the history.
func (h *History) Insert(res Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.index[res.SegmentID]; exists {
		return false
	}

	entry := &res
	h.entries = append([]*Result{entry}, h.entries...)
	h.index[res.SegmentID] = entry
	return true
}

// Resolve applies a verification outcome to the pending entry with the given
// identity. The entry's position is unchanged. Returns the updated result and
// true on success; false when the identity is unknown or already resolved.
func (h *History) Resolve(segmentID string, outcome Outcome) (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.index[segmentID]
	if !ok || !entry.Pending {
		return Result{}, false
	}

	entry.Verdict = outcome.Verdict
	entry.Confidence = outcome.Confidence
	entry.Explanation = outcome.Explanation
	entry.CounterEvidence = outcome.CounterEvidence
	entry.SentimentScore = outcome.SentimentScore
	entry.Fallacies = outcome.Fallacies
	entry.Sources = outcome.Sources
	entry.Pending = false
	entry.ResolvedAt = time.Now()

	return *entry, true
}

// ResolveFailure marks the pending entry with the given identity as
// terminally failed. Only the explanation changes; the verdict remains
// UNVERIFIABLE and the entry is never retried.
func (h *History) ResolveFailure(segmentID, explanation string) (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.index[segmentID]
	if !ok || !entry.Pending {
		return Result{}, false
	}

	entry.Explanation = explanation
	entry.Pending = false
	entry.ResolvedAt = time.Now()

	return *entry, true
}

// Get returns a copy of the entry with the given identity
func (h *History) Get(segmentID string) (Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.index[segmentID]
	if !ok {
		return Result{}, false
	}
	return *entry, true
}

// Recent returns the texts of up to n most recent entries, oldest first,
// for use as verification context
func (h *History) Recent(n int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.entries) {
		n = len(h.entries)
	}
	if n <= 0 {
		return nil
	}

	texts := make([]string, n)
	for i := 0; i < n; i++ {
		// entries[0] is newest; context reads oldest to newest
		texts[n-1-i] = h.entries[i].Text
	}
	return texts
}

// Snapshot returns copies of all entries, newest first
func (h *History) Snapshot() []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Result, len(h.entries))
	for i, e := range h.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of entries
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear removes all entries
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = nil
	h.index = make(map[string]*Result)
}
