// Package distance implements the per-(vector-kind, distance-kind) strategy
// of spec.md §4.2: the user-visible distance, the k-means normalization and
// metric used to train centroids, and dequantized-query helpers. Strategies
// are looked up by (vector.Kind, Kind) pair; unsupported combinations
// surface as ErrUnsupported at config-validation time (spec.md §7).
package distance

import (
	"errors"
	"fmt"
	"math"

	"github.com/nicexipi/vecengine/internal/simd"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Kind identifies the user-facing distance function.
type Kind int

const (
	L2 Kind = iota
	Dot
	Cos
	Jaccard
)

func (k Kind) String() string {
	switch k {
	case L2:
		return "l2"
	case Dot:
		return "dot"
	case Cos:
		return "cos"
	case Jaccard:
		return "jaccard"
	default:
		return "unknown"
	}
}

// ErrUnsupported is returned when a (vector-kind, distance-kind) pair has
// no strategy — e.g. Jaccard over dense vectors.
var ErrUnsupported = errors.New("unsupported vector-kind/distance-kind combination")

// Supported reports whether vk/dk has a registered strategy.
func Supported(vk vector.Kind, dk Kind) bool {
	switch dk {
	case Jaccard:
		return vk == vector.KindBinary
	case L2, Dot, Cos:
		return vk != vector.KindBinary
	default:
		return false
	}
}

// Distance returns the user-visible distance between a and b: smaller means
// closer. L2 returns squared L2, Dot returns -<a,b>, Cos returns
// 1 - cos(a,b), Jaccard returns 1 - |a&b|/|a|b|. a and b must be the same
// vector.Kind and dimensionality (a programmer error otherwise, per
// spec.md §4.1's "mismatched lengths are a programmer error" contract
// extended to the distance layer).
func Distance(dk Kind, a, b vector.Vector) (float32, error) {
	if !Supported(a.Kind, dk) {
		return 0, fmt.Errorf("%w: kind=%s distance=%s", ErrUnsupported, a.Kind, dk)
	}
	switch a.Kind {
	case vector.KindBinary:
		return jaccardDistance(a.Binary, b.Binary), nil
	case vector.KindSparseF32:
		return sparseDistance(dk, a.Sparse, b.Sparse), nil
	default:
		ad, bd := a.ToDense(), b.ToDense()
		return denseDistance(dk, ad, bd), nil
	}
}

func denseDistance(dk Kind, a, b []float32) float32 {
	switch dk {
	case L2:
		return simd.ReduceSumOfD2(a, b)
	case Dot:
		return -simd.ReduceSumOfXY(a, b)
	case Cos:
		dot := simd.ReduceSumOfXY(a, b)
		na := simd.L2Norm(a)
		nb := simd.L2Norm(b)
		if na == 0 || nb == 0 {
			return 1
		}
		cos := dot / (na * nb)
		if cos > 1 {
			cos = 1
		} else if cos < -1 {
			cos = -1
		}
		return 1 - cos
	default:
		return float32(math.Inf(1))
	}
}

func sparseDistance(dk Kind, a, b vector.Sparse) float32 {
	switch dk {
	case L2:
		return simd.ReduceSumOfSparseD2(a.Index, b.Index, a.Values, b.Values)
	case Dot:
		return -simd.ReduceSumOfSparseXY(a.Index, b.Index, a.Values, b.Values)
	case Cos:
		dot := simd.ReduceSumOfSparseXY(a.Index, b.Index, a.Values, b.Values)
		na := simd.L2Norm(a.Values)
		nb := simd.L2Norm(b.Values)
		if na == 0 || nb == 0 {
			return 1
		}
		cos := dot / (na * nb)
		if cos > 1 {
			cos = 1
		} else if cos < -1 {
			cos = -1
		}
		return 1 - cos
	default:
		return float32(math.Inf(1))
	}
}

func jaccardDistance(a, b vector.Binary) float32 {
	var and, or int
	for i := range a.Words {
		aw, bw := a.Words[i], b.Words[i]
		and += popcount(aw & bw)
		or += popcount(aw | bw)
	}
	if or == 0 {
		return 0
	}
	return 1 - float32(and)/float32(or)
}

func popcount(x uint64) int {
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// KMeansNormalize mutates v in place: identity for L2/Jaccard, L2-normalized
// for Cos/Dot (spec.md §4.2) so the k-means metric is a true distance.
func KMeansNormalize(dk Kind, v []float32) {
	switch dk {
	case Cos, Dot:
		norm := simd.L2Norm(v)
		if norm == 0 {
			return
		}
		simd.VectorMulScalar(v, v, 1/norm)
	}
}

// KMeansDistance is a true metric over the (already normalized, for Cos/Dot)
// space, required so Elkan's triangle-inequality bounds hold. L2 uses plain
// Euclidean distance (sqrt of squared L2); Cos/Dot use the angular distance
// acos(<a,b>) on normalized inputs, which is also a true metric.
func KMeansDistance(dk Kind, a, b []float32) float32 {
	switch dk {
	case Cos, Dot:
		dot := simd.ReduceSumOfXY(a, b)
		if dot > 1 {
			dot = 1
		} else if dot < -1 {
			dot = -1
		}
		return float32(math.Acos(float64(dot)))
	default: // L2, Jaccard
		return float32(math.Sqrt(float64(simd.ReduceSumOfD2(a, b))))
	}
}
