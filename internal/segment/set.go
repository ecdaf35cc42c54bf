package segment

import "sync/atomic"

// Set is the immutable, point-in-time descriptor of an index instance's
// segments (spec.md §4.8/§5): "searches ... observe a point-in-time
// snapshot of the segment set captured atomically via an atomic pointer
// swap of an immutable set descriptor." Every mutating operation (promote,
// seal, compact) builds a new Set value and swaps it in; existing Set
// values already captured by in-flight readers remain valid and unchanged.
type Set struct {
	Write   *WriteBuffer
	Growing []*GrowingSegment
	Sealed  []*Sealed
}

// Registry holds the current Set behind an atomic pointer, giving readers
// a lock-free snapshot and writers a single swap point for publish/retire
// transitions (spec.md §5: "the optimizer threads acquire a segment-set
// write lock only for publish-retire transitions" — modeled here as a CAS
// loop rather than a mutex, since the whole descriptor is replaced, not
// mutated in place).
type Registry struct {
	ptr atomic.Pointer[Set]
}

func NewRegistry(initial *Set) *Registry {
	r := &Registry{}
	r.ptr.Store(initial)
	return r
}

// Snapshot returns the current Set. Safe to call concurrently with any
// mutation; the returned value never changes underneath the caller.
func (r *Registry) Snapshot() *Set { return r.ptr.Load() }

// PromoteWrite atomically replaces the write buffer with a fresh, empty one
// and appends the old buffer's rows as a new growing segment g. Used when
// the optimizer seals a full write buffer (spec.md §4.8).
func (r *Registry) PromoteWrite(kind WriteBufferFactory, g *GrowingSegment) {
	for {
		old := r.ptr.Load()
		next := &Set{
			Write:   kind(),
			Growing: append(append([]*GrowingSegment{}, old.Growing...), g),
			Sealed:  old.Sealed,
		}
		if r.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}

// WriteBufferFactory constructs a fresh write buffer of the index's
// configured kind/dims, used by PromoteWrite to avoid this package
// depending on the index's static config shape.
type WriteBufferFactory func() *WriteBuffer

// SealGrowing atomically replaces growing segment g with sealed segment s:
// g is removed from Growing and s is appended to Sealed.
func (r *Registry) SealGrowing(g *GrowingSegment, s *Sealed) {
	for {
		old := r.ptr.Load()
		growing := make([]*GrowingSegment, 0, len(old.Growing))
		for _, x := range old.Growing {
			if x != g {
				growing = append(growing, x)
			}
		}
		next := &Set{
			Write:   old.Write,
			Growing: growing,
			Sealed:  append(append([]*Sealed{}, old.Sealed...), s),
		}
		if r.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}

// Compact atomically replaces a set of input sealed segments with one
// merged output segment (spec.md §4.9 compacting).
func (r *Registry) Compact(inputs []*Sealed, output *Sealed) {
	inSet := make(map[*Sealed]bool, len(inputs))
	for _, s := range inputs {
		inSet[s] = true
	}
	for {
		old := r.ptr.Load()
		sealed := make([]*Sealed, 0, len(old.Sealed))
		for _, s := range old.Sealed {
			if !inSet[s] {
				sealed = append(sealed, s)
			}
		}
		sealed = append(sealed, output)
		next := &Set{Write: old.Write, Growing: old.Growing, Sealed: sealed}
		if r.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}
