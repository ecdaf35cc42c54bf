// Package quantize implements the three quantizer families of spec.md §4.4:
// trivial (identity, reads through the raw segment), scalar (8-bit
// per-dimension), and product (codebook of sub-vector centroids, trained by
// internal/kmeans). All three share the same contract so an indexing
// algorithm (internal/indexing) can be built generically over whichever one
// a sealed segment was configured with.
package quantize

import (
	"errors"
	"fmt"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

// ErrUnsupported is returned when a (vector kind, quantizer) combination is
// rejected at config validation (spec.md §7 Unsupported).
var ErrUnsupported = errors.New("quantizer unsupported for vector kind")

// RawAccessor is the training/translation source every quantizer is built
// against: the uncompressed segment (internal/segment's raw segment, §4.6).
type RawAccessor interface {
	Len() uint32
	Vector(ordinal uint32) vector.Vector
}

// Kind identifies which quantizer family a segment was built with.
type Kind int

const (
	KindTrivial Kind = iota
	KindScalar
	KindProduct
)

func (k Kind) String() string {
	switch k {
	case KindTrivial:
		return "trivial"
	case KindScalar:
		return "scalar"
	case KindProduct:
		return "product"
	default:
		return "unknown"
	}
}

// ProductCodeWidth selects the per-sub-quantizer code width: x8 is a full
// byte (up to 256 centroids, one byte per sub-vector per vector); x4 is a
// packed 2-bit code (up to 4 centroids), laid out for internal/simd's
// fast_scan kernel.
type ProductCodeWidth int

const (
	CodeX8 ProductCodeWidth = iota
	CodeX4
)

// Options configures quantizer training (spec.md §6 quantization config).
type Options struct {
	Kind Kind

	// Scalar: no extra options, min/max are always derived from the
	// training set.

	// Product.
	Ratio      int // sub-vector width in source dimensions; width = ceil(dims/ratio)
	CodeWidth  ProductCodeWidth
	WithDelta  bool // IVF-residual mode: distances add back a per-sub-vector centroid delta
}

// centroidCount returns how many centroids a sub-quantizer codebook trains,
// derived from CodeWidth (x8 -> 256, x4 -> 4).
func (o Options) centroidCount() int {
	if o.CodeWidth == CodeX4 {
		return 4
	}
	return 256
}

// Supported mirrors distance.Supported but for the quantizer layer: sparse
// and binary vectors do not support product quantization (spec.md §4.2).
func Supported(vk vector.Kind, qk Kind) bool {
	switch qk {
	case KindTrivial, KindScalar:
		return true
	case KindProduct:
		return vk == vector.KindDenseF32 || vk == vector.KindDenseF16
	default:
		return false
	}
}

func unsupported(vk vector.Kind, qk Kind) error {
	return fmt.Errorf("%w: kind=%s vector_kind=%s", ErrUnsupported, qk, vk)
}

// Quantizer is the contract spec.md §4.4 gives every quantizer: distance
// from a live query vector to a stored ordinal, and distance between two
// stored ordinals, both expressed against the permutation fixed at Create.
type Quantizer interface {
	Kind() Kind
	Distance(query vector.Vector, rhs uint32) (float32, error)
	Distance2(lhs, rhs uint32) (float32, error)
}

// Build trains (if applicable) and constructs a quantizer over raw's
// vectors in permutation order: permutation[i] is the original raw ordinal
// placed at sealed-segment ordinal i. dk is the distance kind the owning
// index was configured with (used for kmeans_distance/kmeans_normalize
// during product-quantizer training).
func Build(opts Options, vk vector.Kind, dk distance.Kind, raw RawAccessor, permutation []uint32) (Quantizer, error) {
	if !Supported(vk, opts.Kind) {
		return nil, unsupported(vk, opts.Kind)
	}
	switch opts.Kind {
	case KindTrivial:
		return newTrivial(dk, raw, permutation), nil
	case KindScalar:
		return buildScalar(vk, dk, raw, permutation)
	case KindProduct:
		return buildProduct(opts, vk, dk, raw, permutation)
	default:
		return nil, unsupported(vk, opts.Kind)
	}
}
