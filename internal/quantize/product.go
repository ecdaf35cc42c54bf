package quantize

import (
	"math/rand"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/kmeans"
	"github.com/nicexipi/vecengine/internal/simd"
	"github.com/nicexipi/vecengine/internal/vector"
)

// product is product quantization (spec.md §4.4): the dimension axis is
// split into width sub-vectors; a codebook of k centroids is trained per
// sub-vector position by internal/kmeans, and each stored vector is encoded
// as width one-byte codes. Query distance is computed via a per-query
// width*k lookup table, summing one table entry per sub-vector — exact for
// L2 and Dot (both distribute over the sub-vector partition); Cos falls
// back to reconstructing the full vector and computing the distance
// directly, since cosine does not distribute over a sum of sub-vector
// dot products without also tracking cross terms.
type product struct {
	dk         distance.Kind
	dims       int
	ratio      int
	width      int
	subOffset  []int
	subLen     []int
	k          int
	codeWidth  ProductCodeWidth
	withDelta  bool
	codebooks  [][][]float32 // codebooks[s][c], len subLen[s]
	codes      [][]uint8     // codes[placement][s] in [0,k)
	permutation []uint32
}

func buildProduct(opts Options, vk vector.Kind, dk distance.Kind, raw RawAccessor, permutation []uint32) (*product, error) {
	if !Supported(vk, KindProduct) {
		return nil, unsupported(vk, KindProduct)
	}
	ratio := opts.Ratio
	if ratio <= 0 {
		ratio = 4
	}
	n := raw.Len()
	if n == 0 {
		return nil, ErrUnsupported
	}
	dims := raw.Vector(0).Dims
	width := (dims + ratio - 1) / ratio
	k := opts.centroidCount()

	p := &product{
		dk: dk, dims: dims, ratio: ratio, width: width,
		k: k, codeWidth: opts.CodeWidth, withDelta: opts.WithDelta,
		subOffset: make([]int, width), subLen: make([]int, width),
		codebooks:   make([][][]float32, width),
		permutation: permutation,
	}
	for s := 0; s < width; s++ {
		p.subOffset[s] = s * ratio
		l := ratio
		if p.subOffset[s]+l > dims {
			l = dims - p.subOffset[s]
		}
		p.subLen[s] = l
	}

	dense := make([][]float32, n)
	for i := uint32(0); i < n; i++ {
		dense[i] = raw.Vector(i).ToDense()
	}

	rng := rand.New(rand.NewSource(1))
	for s := 0; s < width; s++ {
		samples := make([][]float32, n)
		for i := range samples {
			samples[i] = dense[i][p.subOffset[s] : p.subOffset[s]+p.subLen[s]]
		}
		c := k
		if int(n) < c {
			c = int(n)
		}
		trainer := kmeans.New(dk, samples, c, rng)
		trainer.Run(25)
		p.codebooks[s] = trainer.Centroids()
	}

	p.codes = make([][]uint8, len(permutation))
	for i, ord := range permutation {
		p.codes[i] = p.encode(dense[ord])
	}
	return p, nil
}

func (p *product) Kind() Kind { return KindProduct }

func (p *product) encode(v []float32) []uint8 {
	codes := make([]uint8, p.width)
	for s := 0; s < p.width; s++ {
		sub := v[p.subOffset[s] : p.subOffset[s]+p.subLen[s]]
		best, bestDist := 0, float32(0)
		for c, centroid := range p.codebooks[s] {
			d := distance.KMeansDistance(p.dk, sub, centroid)
			if c == 0 || d < bestDist {
				best, bestDist = c, d
			}
		}
		codes[s] = uint8(best)
	}
	return codes
}

// table builds the width*k per-query lookup: table[s*k+c] is the
// sub-vector distance contribution of centroid c at position s, under L2 or
// Dot (the two distances that distribute over the sub-vector partition).
func (p *product) table(query []float32) []float32 {
	tbl := make([]float32, p.width*len(p.codebooks[0]))
	for s := 0; s < p.width; s++ {
		sub := query[p.subOffset[s] : p.subOffset[s]+p.subLen[s]]
		for c, centroid := range p.codebooks[s] {
			var v float32
			switch p.dk {
			case distance.Dot:
				v = -simd.ReduceSumOfXY(sub, centroid)
			default:
				v = simd.ReduceSumOfD2(sub, centroid)
			}
			tbl[s*len(p.codebooks[0])+c] = v
		}
	}
	return tbl
}

func (p *product) scan(tbl []float32, codes []uint8) float32 {
	k := len(p.codebooks[0])
	var sum float32
	for s := 0; s < p.width; s++ {
		sum += tbl[s*k+int(codes[s])]
	}
	return sum
}

func (p *product) reconstruct(placement uint32) []float32 {
	out := make([]float32, p.dims)
	codes := p.codes[placement]
	for s := 0; s < p.width; s++ {
		copy(out[p.subOffset[s]:p.subOffset[s]+p.subLen[s]], p.codebooks[s][codes[s]])
	}
	return out
}

func (p *product) Distance(query vector.Vector, rhs uint32) (float32, error) {
	q := query.ToDense()
	if p.dk == distance.Cos {
		r := p.reconstruct(rhs)
		num := simd.ReduceSumOfXY(q, r)
		denom := simd.L2Norm(q) * simd.L2Norm(r)
		if denom == 0 {
			return 1, nil
		}
		return 1 - num/denom, nil
	}
	tbl := p.table(q)
	return p.scan(tbl, p.codes[rhs]), nil
}

func (p *product) Distance2(lhs, rhs uint32) (float32, error) {
	l := p.reconstruct(lhs)
	return p.Distance(vector.NewDenseF32(l), rhs)
}

// DistanceWithDelta is the IVF-residual variant (spec.md §4.4): codes were
// trained and encoded over vector-minus-list-centroid residuals, so the
// list centroid's own sub-vectors must be added back before comparing to
// the (non-residual) query.
func (p *product) DistanceWithDelta(query vector.Vector, rhs uint32, delta []float32) (float32, error) {
	q := query.ToDense()
	r := p.reconstruct(rhs)
	for i := range r {
		r[i] += delta[i]
	}
	switch p.dk {
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

// FastScanTable builds the packed-2-bit lookup table for CodeX4 codebooks,
// ready for internal/simd.FastScan against codes packed by PackedCodes.
func (p *product) FastScanTable(query []float32) []float32 {
	return p.table(query)
}

// PackedCodes returns the fast_scan-packed byte layout (internal/simd
// FastScan/PackFastScanCodes) for a contiguous run of 64 placements starting
// at base. Only valid when CodeWidth is CodeX4.
func (p *product) PackedCodes(base uint32) []byte {
	group := make([][]byte, 64)
	for i := 0; i < 64; i++ {
		codes := p.codes[base+uint32(i)]
		group[i] = make([]byte, len(codes))
		for s, c := range codes {
			group[i][s] = c
		}
	}
	return simd.PackFastScanCodes(p.width, group)
}
