package store

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ci-fuzz/vast/internal/metaindex"
	"github.com/ci-fuzz/vast/pkg/types"
)

// rangeEntry maps one event-ID interval to the segment holding it.
type rangeEntry struct {
	interval types.Interval
	segment  uuid.UUID
}

// RangeMap maps disjoint event-ID intervals to segment UUIDs. Entries are
// kept sorted by interval start.
type RangeMap struct {
	entries []rangeEntry
}

// Insert registers all intervals of an ID set as belonging to a segment.
// Inserting an interval overlapping an existing entry is rejected.
func (rm *RangeMap) Insert(ids types.IDSet, segment uuid.UUID) bool {
	for _, iv := range ids.Intervals() {
		if rm.overlapsExisting(iv) {
			return false
		}
	}
	for _, iv := range ids.Intervals() {
		rm.entries = append(rm.entries, rangeEntry{interval: iv, segment: segment})
	}
	sort.Slice(rm.entries, func(i, j int) bool {
		return rm.entries[i].interval.Lo < rm.entries[j].interval.Lo
	})
	return true
}

func (rm *RangeMap) overlapsExisting(iv types.Interval) bool {
	i := sort.Search(len(rm.entries), func(i int) bool {
		return rm.entries[i].interval.Hi > iv.Lo
	})
	return i < len(rm.entries) && rm.entries[i].interval.Overlaps(iv)
}

// EraseSegment removes all intervals of a segment.
func (rm *RangeMap) EraseSegment(segment uuid.UUID) {
	out := rm.entries[:0]
	for _, e := range rm.entries {
		if e.segment != segment {
			out = append(out, e)
		}
	}
	rm.entries = out
}

// Select returns the sorted, duplicate-free UUIDs of segments whose
// intervals intersect the selection.
func (rm *RangeMap) Select(sel types.IDSet) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range rm.entries {
		if seen[e.segment] {
			continue
		}
		if types.MakeInterval(e.interval.Lo, e.interval.Hi).Overlaps(sel) {
			seen[e.segment] = true
			out = append(out, e.segment)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return metaindex.UUIDLess(out[i], out[j])
	})
	return out
}

// SegmentIDs returns the covered ID set of one segment.
func (rm *RangeMap) SegmentIDs(segment uuid.UUID) types.IDSet {
	var intervals []types.Interval
	for _, e := range rm.entries {
		if e.segment == segment {
			intervals = append(intervals, e.interval)
		}
	}
	return types.NewIDSet(intervals...)
}

// Segments returns the sorted UUIDs of all registered segments.
func (rm *RangeMap) Segments() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range rm.entries {
		if !seen[e.segment] {
			seen[e.segment] = true
			out = append(out, e.segment)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return metaindex.UUIDLess(out[i], out[j])
	})
	return out
}

// Len returns the number of interval entries.
func (rm *RangeMap) Len() int {
	return len(rm.entries)
}

// Intervals returns the sorted intervals currently mapped. Used by
// invariant checks in tests.
func (rm *RangeMap) Intervals() []types.Interval {
	out := make([]types.Interval, len(rm.entries))
	for i, e := range rm.entries {
		out[i] = e.interval
	}
	return out
}
