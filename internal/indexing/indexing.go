// Package indexing implements the three sealed-segment indexing algorithms
// of spec.md §4.7: Flat (parallel brute-force scan), IVF (inverted lists
// over k-means-trained centroids), and HNSW (hierarchical proximity
// graph). Each is built once, at seal time, over a segment.RawSegment and a
// quantize.Quantizer, and satisfies segment.Index (Basic/VBase) so
// segment.Sealed can hold any of the three behind one interface — the same
// AbstractIndexing-over-DynamicIndexing shape as
// crates/service/src/index/indexing/mod.rs, expressed as a Go interface
// instead of a sum-type enum.
package indexing

import (
	"fmt"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Kind identifies which algorithm a sealed segment was built with.
type Kind int

const (
	KindFlat Kind = iota
	KindIVF
	KindHNSW
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindIVF:
		return "ivf"
	case KindHNSW:
		return "hnsw"
	default:
		return "unknown"
	}
}

// Options configures index construction (spec.md §6 "indexing" config).
type Options struct {
	Kind Kind

	// IVF
	NList   int
	NSample int

	// HNSW
	M              int
	EfConstruction int
	Alpha          float64 // robust-prune relaxation factor for selectNeighborsHeuristic's second pass; <=0 defaults to 1.2

	Quantizer quantize.Options
}

// Build trains (IVF/HNSW) or wraps (Flat) an index over raw's vectors,
// returning it behind the shared segment.Index contract plus the
// quantizer it built internally (the caller persists both via
// segment.Sealed).
func Build(opts Options, vk vector.Kind, dk distance.Kind, raw *segment.RawSegment) (segment.Index, quantize.Quantizer, error) {
	// spec.md §4.4's IVF-residual ("with_delta") product quantization
	// needs list centroids before it can quantize, since it trains and
	// encodes against vector-minus-centroid residuals rather than raw
	// vectors: the usual quantize-then-index order is reversed for this
	// one combination.
	if opts.Kind == KindIVF && opts.Quantizer.Kind == quantize.KindProduct && opts.Quantizer.WithDelta {
		idx, q, err := newIVFWithDelta(opts, vk, raw, dk)
		return idx, q, err
	}

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(opts.Quantizer, vk, dk, raw, permutation)
	if err != nil {
		return nil, nil, err
	}

	switch opts.Kind {
	case KindFlat:
		return newFlat(raw, q, dk), q, nil
	case KindIVF:
		idx, err := newIVF(opts, raw, q, dk)
		return idx, q, err
	case KindHNSW:
		idx, err := newHNSW(opts, raw, q, dk)
		return idx, q, err
	default:
		return nil, nil, fmt.Errorf("indexing: unknown kind %d", opts.Kind)
	}
}
