package indexing

import (
	"container/heap"
	"runtime"
	"sort"
	"sync"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/vector"
)

// minWorkersThreshold and adaptiveWorkers are carried over from
// sqlite-vec/store.go's Search: below this many candidates, a single
// goroutine beats the synchronization overhead of splitting the scan.
const minWorkersThreshold = 500

func adaptiveWorkers(n int) int {
	if n < minWorkersThreshold {
		return 1
	}
	w := n / minWorkersThreshold
	if cpus := runtime.NumCPU(); w > cpus {
		w = cpus
	}
	if w < 1 {
		w = 1
	}
	return w
}

// flat is brute-force scan over every ordinal in the segment (spec.md
// §4.7): basic is a parallel scan with a per-worker bounded heap merged at
// the end, mirroring sqlite-vec/store.go's Search/adaptiveWorkers.
type flat struct {
	raw       *segment.RawSegment
	quantizer quantize.Quantizer
	dk        distance.Kind
}

func newFlat(raw *segment.RawSegment, q quantize.Quantizer, dk distance.Kind) *flat {
	return &flat{raw: raw, quantizer: q, dk: dk}
}

type scored struct {
	ordinal uint32
	dist    float32
}

type scoredMaxHeap []scored

func (h scoredMaxHeap) Len() int            { return len(h) }
func (h scoredMaxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h scoredMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredMaxHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *scoredMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (f *flat) Basic(query vector.Vector, k int, filter segment.Filter) []segment.Result {
	n := int(f.raw.Len())
	if n == 0 || k <= 0 {
		return nil
	}
	workers := adaptiveWorkers(n)
	chunk := (n + workers - 1) / workers
	partials := make([]scoredMaxHeap, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			h := &scoredMaxHeap{}
			for ord := start; ord < end; ord++ {
				payload := f.raw.Payload(uint32(ord))
				if filter != nil && !filter(payload) {
					continue
				}
				d, err := f.quantizer.Distance(query, uint32(ord))
				if err != nil {
					continue
				}
				if h.Len() < k {
					heap.Push(h, scored{ordinal: uint32(ord), dist: d})
				} else if (*h)[0].dist > d {
					(*h)[0] = scored{ordinal: uint32(ord), dist: d}
					heap.Fix(h, 0)
				}
			}
			partials[w] = *h
		}(w, start, end)
	}
	wg.Wait()

	merged := &scoredMaxHeap{}
	for _, p := range partials {
		for _, s := range p {
			if merged.Len() < k {
				heap.Push(merged, s)
			} else if (*merged)[0].dist > s.dist {
				(*merged)[0] = s
				heap.Fix(merged, 0)
			}
		}
	}
	out := make([]segment.Result, merged.Len())
	for i := len(out) - 1; i >= 0; i-- {
		s := heap.Pop(merged).(scored)
		out[i] = segment.Result{Payload: f.raw.Payload(s.ordinal), Distance: s.dist}
	}
	return out
}

func (f *flat) VBase(query vector.Vector, filter segment.Filter) []segment.Result {
	n := int(f.raw.Len())
	out := make([]segment.Result, 0, n)
	for ord := 0; ord < n; ord++ {
		payload := f.raw.Payload(uint32(ord))
		if filter != nil && !filter(payload) {
			continue
		}
		d, err := f.quantizer.Distance(query, uint32(ord))
		if err != nil {
			continue
		}
		out = append(out, segment.Result{Payload: payload, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
