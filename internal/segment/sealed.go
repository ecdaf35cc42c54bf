package segment

import (
	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Index is the contract a sealed segment's indexing algorithm satisfies
// (spec.md §4.7's Flat/IVF/HNSW, implemented by internal/indexing). Defined
// here rather than imported from internal/indexing so that package can
// depend on segment (for RawSegment/quantize.RawAccessor) without a import
// cycle; internal/indexing's concrete types satisfy this interface
// structurally.
type Index interface {
	Basic(query vector.Vector, k int, filter Filter) []Result
	VBase(query vector.Vector, filter Filter) []Result
}

// Sealed is an immutable segment with an attached quantizer and index
// (spec.md §3/§4.8). Construction (training the quantizer, building the
// index) is internal/indexing's job; Sealed just glues the pieces readers
// need.
type Sealed struct {
	Meta      Meta
	raw       *RawSegment
	quantizer quantize.Quantizer
	index     Index
	dk        distance.Kind
}

func NewSealed(meta Meta, raw *RawSegment, quantizer quantize.Quantizer, index Index, dk distance.Kind) *Sealed {
	return &Sealed{Meta: meta, raw: raw, quantizer: quantizer, index: index, dk: dk}
}

func (s *Sealed) Handle() Handle         { return s.Meta.Handle }
func (s *Sealed) Raw() *RawSegment       { return s.raw }
func (s *Sealed) Quantizer() quantize.Quantizer { return s.quantizer }

// Index exposes the underlying indexing algorithm so callers (internal/
// engine) can type-assert to a per-search-tunable variant (IVF's nprobe,
// HNSW's ef_search — spec.md §6 "Per-search options") that Basic's fixed
// signature doesn't carry.
func (s *Sealed) Index() Index { return s.index }

// Basic returns the top-k nearest results (spec.md §3: "sealed segments
// expose basic(query, k, filter) -> top-k heap").
func (s *Sealed) Basic(query vector.Vector, k int, filter Filter) []Result {
	return s.index.Basic(query, k, filter)
}

// VBase returns a distance-sorted stream over the whole segment (spec.md
// §3: "vbase(query, filter) -> sorted stream").
func (s *Sealed) VBase(query vector.Vector, filter Filter) []Result {
	return s.index.VBase(query, filter)
}

// Payload exposes the raw segment's payload for ordinal i, used by the
// index instance to translate an index hit's ordinal back to a versioned
// pointer when the Index implementation only tracks ordinals internally.
func (s *Sealed) Payload(i uint32) uint64 { return s.raw.Payload(i) }

// Close releases the segment's memory-mapped storage.
func (s *Sealed) Close() error { return s.raw.Close() }
