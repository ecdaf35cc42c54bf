package indexing

import (
	"testing"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/vector"
)

// TestHNSWSelectNeighborsHeuristicTwoPassAdmitsRelaxedCandidate exercises
// SPEC_FULL.md §11.2's two-pass alpha schedule: a candidate the strict
// alpha=1.0 first pass prunes as redundant (too close to an already
// accepted neighbor relative to the query) can still be admitted by the
// second pass at the configured, larger alpha, once room remains under
// maxM.
func TestHNSWSelectNeighborsHeuristicTwoPassAdmitsRelaxedCandidate(t *testing.T) {
	dir := t.TempDir()
	// A is distance 1.0 from the origin; B is ~1.0101 from the origin and
	// ~0.8 from A, so alpha=1.0's robust-prune test (1.0*dist(A,B) <=
	// dist(origin,B)) holds and B is dropped, but alpha=2.0's
	// (2.0*dist(A,B) <= dist(origin,B)) does not.
	vecs := [][]float32{
		{1, 0},
		{0.69005, 0.7377},
	}
	raw := buildRaw(t, dir, vecs)
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
	opts := Options{Kind: KindHNSW, M: 4, EfConstruction: 16, Alpha: 2.0}
	h, err := newHNSW(opts, raw, q, distance.L2)
	if err != nil {
		t.Fatal(err)
	}

	ordA, ordB := uint32(0), uint32(1)
	candidates := func() []candidate {
		return []candidate{
			{ordinal: ordA, dist: 1.0},
			{ordinal: ordB, dist: 1.0101},
		}
	}

	strict := h.pruneCandidates(candidates(), 2, 1.0)
	if len(strict) != 1 || strict[0] != ordA {
		t.Fatalf("strict alpha=1.0 pass selected %v, want only [A] (B should be pruned as redundant with A)", strict)
	}

	selected := h.selectNeighborsHeuristic(0, candidates(), 2)
	if len(selected) != 2 {
		t.Fatalf("selectNeighborsHeuristic selected %d candidates, want 2 (second pass should admit the pruned candidate)", len(selected))
	}
	seen := map[uint32]bool{}
	for _, s := range selected {
		seen[s] = true
	}
	if !seen[ordA] || !seen[ordB] {
		t.Fatalf("expected both A and B selected, got %v", selected)
	}
}

// TestHNSWSelectNeighborsHeuristicCapsAtMaxM confirms the two-pass schedule
// never exceeds maxM even when both passes would otherwise admit more
// candidates than fit.
func TestHNSWSelectNeighborsHeuristicCapsAtMaxM(t *testing.T) {
	dir := t.TempDir()
	vecs := [][]float32{
		{1, 0},
		{0.69005, 0.7377},
		{10, 10},
	}
	raw := buildRaw(t, dir, vecs)
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
	opts := Options{Kind: KindHNSW, M: 4, EfConstruction: 16, Alpha: 2.0}
	h, err := newHNSW(opts, raw, q, distance.L2)
	if err != nil {
		t.Fatal(err)
	}

	candidates := []candidate{
		{ordinal: 0, dist: 1.0},
		{ordinal: 1, dist: 1.0101},
		{ordinal: 2, dist: 14.0},
	}
	selected := h.selectNeighborsHeuristic(0, candidates, 1)
	if len(selected) != 1 {
		t.Fatalf("selectNeighborsHeuristic with maxM=1 selected %d, want 1", len(selected))
	}
}
