package quantize

import (
	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/simd"
	"github.com/nicexipi/vecengine/internal/vector"
)

// scalar is the 8-bit-per-dimension quantizer (spec.md §4.4): per-dimension
// min/max are trained once over the raw segment, then every vector is
// encoded to one byte per dimension. The encode/decode divisors
// deliberately differ (255 on encode, 256 on decode) — this reproduces the
// reference engine's actual reconstruction behavior (see DESIGN.md's open
// question resolution), not a typo.
type scalar struct {
	dk          distance.Kind
	dims        int
	min         []float32
	max         []float32
	permutation []uint32
	codes       [][]uint8 // codes[placement][dim]
}

func buildScalar(vk vector.Kind, dk distance.Kind, raw RawAccessor, permutation []uint32) (*scalar, error) {
	n := raw.Len()
	if n == 0 {
		return nil, ErrUnsupported
	}
	dims := raw.Vector(0).Dims

	mn := make([]float32, dims)
	mx := make([]float32, dims)
	for d := range mn {
		mn[d] = raw.Vector(0).ToDense()[d]
		mx[d] = mn[d]
	}
	for i := uint32(1); i < n; i++ {
		dense := raw.Vector(i).ToDense()
		for d := 0; d < dims; d++ {
			if dense[d] < mn[d] {
				mn[d] = dense[d]
			}
			if dense[d] > mx[d] {
				mx[d] = dense[d]
			}
		}
	}

	s := &scalar{dk: dk, dims: dims, min: mn, max: mx, permutation: permutation}
	s.codes = make([][]uint8, len(permutation))
	for i, ord := range permutation {
		s.codes[i] = s.encode(raw.Vector(ord).ToDense())
	}
	return s, nil
}

func (s *scalar) Kind() Kind { return KindScalar }

// encode applies round((x-min[d])/(max[d]-min[d])*255) per dimension
// (spec.md §4.4); a dimension with no spread (min==max) always encodes to 0.
func (s *scalar) encode(dense []float32) []uint8 {
	out := make([]uint8, s.dims)
	for d := 0; d < s.dims; d++ {
		spread := s.max[d] - s.min[d]
		if spread <= 0 {
			out[d] = 0
			continue
		}
		v := (dense[d] - s.min[d]) / spread * 255
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		out[d] = uint8(v + 0.5)
	}
	return out
}

// decode reconstructs code/256*(max-min)+min, the divisor asymmetry
// documented on scalar above.
func (s *scalar) decode(codes []uint8, dst []float32) {
	for d := 0; d < s.dims; d++ {
		dst[d] = float32(codes[d])/256*(s.max[d]-s.min[d]) + s.min[d]
	}
}

func (s *scalar) reconstruct(placement uint32) []float32 {
	dst := make([]float32, s.dims)
	s.decode(s.codes[placement], dst)
	return dst
}

func (s *scalar) Distance(query vector.Vector, rhs uint32) (float32, error) {
	q := query.ToDense()
	r := s.reconstruct(rhs)
	switch s.distanceKindFor() {
	case distance.L2:
		return simd.ReduceSumOfD2(q, r), nil
	case distance.Dot:
		return -simd.ReduceSumOfXY(q, r), nil
	case distance.Cos:
		num := simd.ReduceSumOfXY(q, r)
		denom := simd.L2Norm(q) * simd.L2Norm(r)
		if denom == 0 {
			return 1, nil
		}
		return 1 - num/denom, nil
	default:
		return simd.ReduceSumOfD2(q, r), nil
	}
}

func (s *scalar) Distance2(lhs, rhs uint32) (float32, error) {
	l := s.reconstruct(lhs)
	r := s.reconstruct(rhs)
	switch s.distanceKindFor() {
	case distance.Dot:
		return -simd.ReduceSumOfXY(l, r), nil
	case distance.Cos:
		num := simd.ReduceSumOfXY(l, r)
		denom := simd.L2Norm(l) * simd.L2Norm(r)
		if denom == 0 {
			return 1, nil
		}
		return 1 - num/denom, nil
	default:
		return simd.ReduceSumOfD2(l, r), nil
	}
}

func (s *scalar) distanceKindFor() distance.Kind { return s.dk }
