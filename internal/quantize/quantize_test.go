package quantize

import (
	"math"
	"testing"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

type fakeRaw struct {
	vecs []vector.Vector
}

func (f *fakeRaw) Len() uint32 { return uint32(len(f.vecs)) }
func (f *fakeRaw) Vector(i uint32) vector.Vector { return f.vecs[i] }

func identityPermutation(n int) []uint32 {
	p := make([]uint32, n)
	for i := range p {
		p[i] = uint32(i)
	}
	return p
}

func TestTrivialReadsThroughPermutation(t *testing.T) {
	raw := &fakeRaw{vecs: []vector.Vector{
		vector.NewDenseF32([]float32{0, 0, 0}),
		vector.NewDenseF32([]float32{1, 0, 0}),
		vector.NewDenseF32([]float32{0, 1, 0}),
	}}
	q, err := Build(Options{Kind: KindTrivial}, vector.KindDenseF32, distance.L2, raw, identityPermutation(3))
	if err != nil {
		t.Fatal(err)
	}
	d, err := q.Distance(vector.NewDenseF32([]float32{0.1, 0, 0}), 0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d)-0.01) > 1e-6 {
		t.Fatalf("distance = %v, want 0.01", d)
	}
	d2, err := q.Distance(vector.NewDenseF32([]float32{0.1, 0, 0}), 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d2)-0.81) > 1e-6 {
		t.Fatalf("distance = %v, want 0.81", d2)
	}
}

func TestScalarReconstructionWithinBound(t *testing.T) {
	raw := &fakeRaw{vecs: []vector.Vector{
		vector.NewDenseF32([]float32{0, 0}),
		vector.NewDenseF32([]float32{1, 2}),
		vector.NewDenseF32([]float32{0.5, 1}),
	}}
	q, err := Build(Options{Kind: KindScalar}, vector.KindDenseF32, distance.L2, raw, identityPermutation(3))
	if err != nil {
		t.Fatal(err)
	}
	d, err := q.Distance(vector.NewDenseF32([]float32{0, 0}), 0)
	if err != nil {
		t.Fatal(err)
	}
	if d > 0.01 {
		t.Errorf("self-reconstruction distance too large: %v", d)
	}
}

func TestProductQuantizerSelfDistanceSmall(t *testing.T) {
	vecs := make([]vector.Vector, 0, 40)
	for i := 0; i < 40; i++ {
		vecs = append(vecs, vector.NewDenseF32([]float32{
			float32(i % 4), float32((i / 4) % 4), float32(i % 3), float32(i % 2),
		}))
	}
	raw := &fakeRaw{vecs: vecs}
	q, err := Build(Options{Kind: KindProduct, Ratio: 2, CodeWidth: CodeX8}, vector.KindDenseF32, distance.L2, raw, identityPermutation(len(vecs)))
	if err != nil {
		t.Fatal(err)
	}
	d, err := q.Distance(vecs[0], 0)
	if err != nil {
		t.Fatal(err)
	}
	if d > 4 {
		t.Errorf("self-distance via own codebook unexpectedly large: %v", d)
	}
}

// TestProductDistanceWithDeltaAddsBackCentroid exercises spec.md §4.4's
// IVF-residual product quantization in isolation from internal/indexing:
// the codebook is trained over vectors with a constant delta already
// subtracted (as internal/indexing's residualAccessor would produce), and
// DistanceWithDelta must add that delta back before comparing against an
// original-space query.
func TestProductDistanceWithDeltaAddsBackCentroid(t *testing.T) {
	delta := []float32{5, 5, 5, 5}
	base := make([]vector.Vector, 0, 40)
	residual := make([]vector.Vector, 0, 40)
	for i := 0; i < 40; i++ {
		v := []float32{float32(i % 4), float32((i / 4) % 4), float32(i % 3), float32(i % 2)}
		base = append(base, vector.NewDenseF32(v))
		res := make([]float32, len(v))
		for d := range v {
			res[d] = v[d] - delta[d]
		}
		residual = append(residual, vector.NewDenseF32(res))
	}
	raw := &fakeRaw{vecs: residual}
	q, err := Build(Options{Kind: KindProduct, Ratio: 2, CodeWidth: CodeX8, WithDelta: true}, vector.KindDenseF32, distance.L2, raw, identityPermutation(len(residual)))
	if err != nil {
		t.Fatal(err)
	}
	p, ok := q.(*product)
	if !ok {
		t.Fatalf("Build(KindProduct) returned %T, want *product", q)
	}
	if !p.withDelta {
		t.Fatal("expected product.withDelta = true when Options.WithDelta is set")
	}

	d, err := p.DistanceWithDelta(base[0], 0, delta)
	if err != nil {
		t.Fatal(err)
	}
	if d > 4 {
		t.Errorf("DistanceWithDelta self-distance unexpectedly large: %v", d)
	}

	// Without adding the delta back, the original-space query compared
	// directly against the residual codebook's reconstruction should read
	// as a much larger distance: the residuals are centered near
	// (-5,-5,-5,-5), nowhere near base[0].
	plain, err := p.Distance(base[0], 0)
	if err != nil {
		t.Fatal(err)
	}
	if plain <= d {
		t.Errorf("plain Distance = %v, want it larger than DistanceWithDelta = %v (delta not added back)", plain, d)
	}
}

func TestProductRejectsSparseVectors(t *testing.T) {
	if Supported(vector.KindSparseF32, KindProduct) {
		t.Fatal("product quantization must reject sparse vectors")
	}
}
