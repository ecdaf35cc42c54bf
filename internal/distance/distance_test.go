package distance

import (
	"math"
	"testing"

	"github.com/nicexipi/vecengine/internal/vector"
)

func TestCosineSelfDistance(t *testing.T) {
	// seed 2: dims=4, cos distance. [3,4,0,0] vs [6,8,0,0] is the same
	// direction, so distance should be ~0.
	a := vector.NewDenseF32([]float32{3, 4, 0, 0})
	b := vector.NewDenseF32([]float32{6, 8, 0, 0})
	d, err := Distance(Cos, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d)) > 1e-6 {
		t.Fatalf("cos distance = %v, want ~0", d)
	}
}

func TestL2SeedScenario(t *testing.T) {
	origin := vector.NewDenseF32([]float32{0, 0, 0})
	query := vector.NewDenseF32([]float32{0.1, 0, 0})
	d, err := Distance(L2, query, origin)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d)-0.01) > 1e-6 {
		t.Fatalf("L2 distance = %v, want 0.01", d)
	}

	p2 := vector.NewDenseF32([]float32{1, 0, 0})
	d2, err := Distance(L2, query, p2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d2)-0.81) > 1e-6 {
		t.Fatalf("L2 distance = %v, want 0.81", d2)
	}
}

func TestSparseDotProduct(t *testing.T) {
	lhs := vector.NewSparseF32(10, []uint32{0, 3, 7}, []float32{1, 2, 3})
	rhs := vector.NewSparseF32(10, []uint32{3, 7, 9}, []float32{4, 5, 1})
	d, err := Distance(Dot, lhs, rhs)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(d)-(-23)) > 1e-5 {
		t.Fatalf("dot distance = %v, want -23", d)
	}
}

func TestUnsupportedCombination(t *testing.T) {
	bin := vector.NewBinary(8, []uint64{0xff})
	_, err := Distance(Cos, bin, bin)
	if err == nil {
		t.Fatal("expected unsupported error for binary+cos")
	}
}

func TestDistanceSelfDistanceIsMinimal(t *testing.T) {
	a := vector.NewDenseF32([]float32{1, 2, 3, 4})
	b := vector.NewDenseF32([]float32{4, 3, 2, 1})
	for _, dk := range []Kind{L2, Dot, Cos} {
		daa, _ := Distance(dk, a, a)
		dab, _ := Distance(dk, a, b)
		if daa > dab+1e-5 {
			t.Errorf("%s: d(a,a)=%v should be <= d(a,b)=%v", dk, daa, dab)
		}
	}
}

func TestKMeansDistanceIsMetric(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	KMeansNormalize(Cos, a)
	KMeansNormalize(Cos, b)
	d := KMeansDistance(Cos, a, b)
	if d <= 0 {
		t.Fatalf("expected positive angular distance, got %v", d)
	}
}
