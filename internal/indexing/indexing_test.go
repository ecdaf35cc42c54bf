package indexing

import (
	"testing"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/vector"
)

// buildRaw writes vecs into a fresh dense segment for index construction.
func buildRaw(t *testing.T, dir string, vecs [][]float32) *segment.RawSegment {
	t.Helper()
	b, err := segment.NewBuilder(dir, vector.KindDenseF32, len(vecs[0]))
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if err := b.Push(vector.NewDenseF32(v), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	raw, _, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// clusteredVectors mirrors spec.md §8's scenario seed 1 numbers: one
// cluster near the origin, one far away, so the nearest neighbor of a
// near-origin query is unambiguous.
func clusteredVectors() [][]float32 {
	return [][]float32{
		{0, 0, 0},
		{0.1, 0, 0},
		{0.2, 0.1, 0},
		{10, 10, 10},
		{10.1, 10, 10},
		{10, 10.2, 10},
	}
}

func TestFlatBasicFindsNearestCluster(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(quantize.Options{Kind: quantize.KindTrivial}, vector.KindDenseF32, distance.L2, raw, permutation)
	if err != nil {
		t.Fatal(err)
	}
	idx := newFlat(raw, q, distance.L2)

	results := idx.Basic(vector.NewDenseF32([]float32{0, 0, 0.05}), 3, nil)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Payload > 2 {
			t.Errorf("expected a near-origin payload, got %d", r.Payload)
		}
	}
}

func TestFlatVBaseOrdersByDistance(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(quantize.Options{Kind: quantize.KindTrivial}, vector.KindDenseF32, distance.L2, raw, permutation)
	if err != nil {
		t.Fatal(err)
	}
	idx := newFlat(raw, q, distance.L2)

	results := idx.VBase(vector.NewDenseF32([]float32{0, 0, 0}), nil)
	if len(results) != int(n) {
		t.Fatalf("got %d results, want %d", len(results), n)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted: %v", results)
		}
	}
}

func TestIVFProbesCorrectListForQuery(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(quantize.Options{Kind: quantize.KindTrivial}, vector.KindDenseF32, distance.L2, raw, permutation)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Kind: KindIVF, NList: 2, NSample: int(n)}
	idx, err := newIVF(opts, raw, q, distance.L2)
	if err != nil {
		t.Fatal(err)
	}

	results := idx.Basic(vector.NewDenseF32([]float32{10, 10, 10.1}), 2, nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Payload < 3 {
			t.Errorf("expected far-cluster payload, got %d", r.Payload)
		}
	}
}

func TestIVFNProbeClampedToListCount(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(quantize.Options{Kind: quantize.KindTrivial}, vector.KindDenseF32, distance.L2, raw, permutation)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Kind: KindIVF, NList: 2, NSample: int(n)}
	idx, err := newIVF(opts, raw, q, distance.L2)
	if err != nil {
		t.Fatal(err)
	}

	if got := idx.clampNProbe(0); got != 1 {
		t.Errorf("clampNProbe(0) = %d, want 1", got)
	}
	if got := idx.clampNProbe(1000); got != len(idx.centroids) {
		t.Errorf("clampNProbe(1000) = %d, want %d", got, len(idx.centroids))
	}
}

func TestHNSWBasicFindsNearestNeighbors(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(quantize.Options{Kind: quantize.KindTrivial}, vector.KindDenseF32, distance.L2, raw, permutation)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Kind: KindHNSW, M: 4, EfConstruction: 16}
	idx, err := newHNSW(opts, raw, q, distance.L2)
	if err != nil {
		t.Fatal(err)
	}

	results := idx.Basic(vector.NewDenseF32([]float32{0, 0, 0.05}), 3, nil)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Payload > 2 {
			t.Errorf("expected a near-origin payload, got %d", r.Payload)
		}
	}
}

func TestHNSWVBaseVisitsEveryNode(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	n := raw.Len()
	permutation := make([]uint32, n)
	for i := range permutation {
		permutation[i] = uint32(i)
	}
	q, err := quantize.Build(quantize.Options{Kind: quantize.KindTrivial}, vector.KindDenseF32, distance.L2, raw, permutation)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Kind: KindHNSW, M: 4, EfConstruction: 16}
	idx, err := newHNSW(opts, raw, q, distance.L2)
	if err != nil {
		t.Fatal(err)
	}

	results := idx.VBase(vector.NewDenseF32([]float32{0, 0, 0}), nil)
	if len(results) != int(n) {
		t.Fatalf("got %d results, want %d", len(results), n)
	}
}

func TestBuildDispatchesByKind(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	idx, q, err := Build(Options{Kind: KindFlat, Quantizer: quantize.Options{Kind: quantize.KindTrivial}}, vector.KindDenseF32, distance.L2, raw)
	if err != nil {
		t.Fatal(err)
	}
	if q.Kind() != quantize.KindTrivial {
		t.Fatalf("quantizer kind = %v, want trivial", q.Kind())
	}
	if idx == nil {
		t.Fatal("expected non-nil index")
	}
}

// TestIVFWithDeltaProductUsesResidualQuantization is the wiring spec.md
// §4.4's IVF-residual product quantization needs: setting
// quantizer.with_delta under indexing.kind=ivf must actually select the
// residual-trained codebook path, not silently fall back to ordinary PQ.
func TestIVFWithDeltaProductUsesResidualQuantization(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	opts := Options{
		Kind:    KindIVF,
		NList:   2,
		NSample: int(raw.Len()),
		Quantizer: quantize.Options{
			Kind:      quantize.KindProduct,
			Ratio:     4,
			CodeWidth: quantize.CodeX8,
			WithDelta: true,
		},
	}
	segIdx, q, err := Build(opts, vector.KindDenseF32, distance.L2, raw)
	if err != nil {
		t.Fatal(err)
	}
	if q.Kind() != quantize.KindProduct {
		t.Fatalf("quantizer kind = %v, want product", q.Kind())
	}
	idx, ok := segIdx.(*ivf)
	if !ok {
		t.Fatalf("Build(KindIVF) returned %T, want *ivf", segIdx)
	}
	if !idx.withDelta {
		t.Fatal("expected idx.withDelta = true when quantizer.with_delta is set")
	}

	results := idx.Basic(vector.NewDenseF32([]float32{10, 10, 10.1}), 2, nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Payload < 3 {
			t.Errorf("expected a far-cluster payload, got %d", r.Payload)
		}
	}
}

// TestIVFWithoutDeltaLeavesPlainProductDistance confirms the default
// (with_delta unset) keeps calling the non-residual Distance path, so the
// two modes stay distinguishable.
func TestIVFWithoutDeltaLeavesPlainProductDistance(t *testing.T) {
	dir := t.TempDir()
	raw := buildRaw(t, dir, clusteredVectors())
	defer raw.Close()

	opts := Options{
		Kind:    KindIVF,
		NList:   2,
		NSample: int(raw.Len()),
		Quantizer: quantize.Options{
			Kind:      quantize.KindProduct,
			Ratio:     4,
			CodeWidth: quantize.CodeX8,
		},
	}
	segIdx, _, err := Build(opts, vector.KindDenseF32, distance.L2, raw)
	if err != nil {
		t.Fatal(err)
	}
	idx, ok := segIdx.(*ivf)
	if !ok {
		t.Fatalf("Build(KindIVF) returned %T, want *ivf", segIdx)
	}
	if idx.withDelta {
		t.Fatal("expected idx.withDelta = false when quantizer.with_delta is unset")
	}
}
