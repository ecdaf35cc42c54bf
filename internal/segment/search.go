package segment

import (
	"container/heap"
	"sort"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Result is one hit from a segment search: the versioned pointer and its
// distance to the query (spec.md §6: "Distance wire value: F32; a smaller
// value means closer").
type Result struct {
	Payload  uint64
	Distance float32
}

// resultHeap is a bounded max-heap on Distance, used to keep the k closest
// results seen so far during a linear scan (the same shape as sqlite-vec's
// per-worker top-K heap, reused for Flat and for growing/write-buffer
// fallback scans).
type resultHeap []Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance } // max-heap
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Filter reports whether an external-pointer-bearing payload should be
// considered; both the version map's liveness check and the caller's
// prefilter are expressed as a Filter.
type Filter func(payload uint64) bool

// LinearScan computes the distance from query to every (vector, payload)
// pair accepted by filter and returns the k closest, ascending by distance
// (spec.md §4.6: growing segments and the write buffer "fall back to linear
// scan").
func LinearScan(rows []Row, query vector.Vector, dk distance.Kind, k int, filter Filter) []Result {
	h := &resultHeap{}
	for _, row := range rows {
		if filter != nil && !filter(row.Payload) {
			continue
		}
		d, err := distance.Distance(dk, query, row.Vector)
		if err != nil {
			continue
		}
		if h.Len() < k {
			heap.Push(h, Result{Payload: row.Payload, Distance: d})
		} else if (*h)[0].Distance > d {
			(*h)[0] = Result{Payload: row.Payload, Distance: d}
			heap.Fix(h, 0)
		}
	}
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}

// LinearScanSorted is the vbase fallback: every accepted row's distance,
// ascending. Unlike a true merging-iterator vbase stream this buffers and
// sorts rather than lazily yielding — an accepted simplification for the
// write buffer and growing segments, which are small by construction
// (bounded by sealing_size). Sealed segments' VBase (internal/indexing) also
// returns a fully built slice rather than a lazy stream.
func LinearScanSorted(rows []Row, query vector.Vector, dk distance.Kind, filter Filter) []Result {
	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		if filter != nil && !filter(row.Payload) {
			continue
		}
		d, err := distance.Distance(dk, query, row.Vector)
		if err != nil {
			continue
		}
		out = append(out, Result{Payload: row.Payload, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// MergeTopK merges several already-sorted-ascending result slices (one per
// segment) and returns the global k closest, used by the index instance's
// search path (spec.md §4.8: "merge under a bounded heap").
func MergeTopK(perSegment [][]Result, k int) []Result {
	h := &resultHeap{}
	for _, segResults := range perSegment {
		for _, r := range segResults {
			if h.Len() < k {
				heap.Push(h, r)
			} else if (*h)[0].Distance > r.Distance {
				(*h)[0] = r
				heap.Fix(h, 0)
			}
		}
	}
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}
