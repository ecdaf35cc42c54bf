package engine

import (
	"context"
	"testing"
	"time"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/vector"
)

func testOptions() Options {
	return Options{
		Vector:  VectorOptions{Dims: 3, Kind: vector.KindDenseF32, Distance: distance.L2},
		Segment: SegmentOptions{MaxGrowingSegmentSize: 1000, MaxSealedSegmentSize: 10000},
		Indexing: indexing.Options{
			Kind:      indexing.KindFlat,
			Quantizer: quantize.Options{Kind: quantize.KindTrivial},
		},
		Optimizing: OptimizingOptions{
			SealingSecs:     3600, // large: keep the optimizer from promoting write mid-test
			SealingSize:     1000,
			MergeMinInputs:  2,
			MergeRatioBound: 2.0,
		},
	}
}

// TestFlatL2TrivialScenario is spec.md §8 scenario seed 1.
func TestFlatL2TrivialScenario(t *testing.T) {
	dir := t.TempDir()
	inst, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	ctx := context.Background()
	if err := inst.Insert(ctx, 0x1, vector.NewDenseF32([]float32{0, 0, 0})); err != nil {
		t.Fatal(err)
	}
	if err := inst.Insert(ctx, 0x2, vector.NewDenseF32([]float32{1, 0, 0})); err != nil {
		t.Fatal(err)
	}
	if err := inst.Insert(ctx, 0x3, vector.NewDenseF32([]float32{0, 1, 0})); err != nil {
		t.Fatal(err)
	}

	results, err := inst.Search(ctx, vector.NewDenseF32([]float32{0.1, 0, 0}), 2, SearchOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Payload != 0x1 {
		t.Errorf("results[0].Payload = %#x, want 0x1", results[0].Payload)
	}
	if d := results[0].Distance; d < 0.009 || d > 0.011 {
		t.Errorf("results[0].Distance = %v, want ~0.01", d)
	}
	if results[1].Payload != 0x2 {
		t.Errorf("results[1].Payload = %#x, want 0x2", results[1].Payload)
	}
	if d := results[1].Distance; d < 0.80 || d > 0.82 {
		t.Errorf("results[1].Distance = %v, want ~0.81", d)
	}
}

// TestDeleteThenReinsertFiltersOldVersion is spec.md §8 scenario seed 3.
func TestDeleteThenReinsertFiltersOldVersion(t *testing.T) {
	dir := t.TempDir()
	inst, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	ctx := context.Background()
	v := vector.NewDenseF32([]float32{1, 0, 0})
	w := vector.NewDenseF32([]float32{0, 1, 0})

	if err := inst.Insert(ctx, 0x1, v); err != nil {
		t.Fatal(err)
	}
	if err := inst.Delete(ctx, 0x1); err != nil {
		t.Fatal(err)
	}
	if err := inst.Insert(ctx, 0x1, w); err != nil {
		t.Fatal(err)
	}

	results, err := inst.Search(ctx, v, 2, SearchOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (old version filtered)", len(results))
	}
	if results[0].Payload != 0x1 {
		t.Fatalf("results[0].Payload = %#x, want 0x1", results[0].Payload)
	}
	want, err := distance.Distance(distance.L2, v, w)
	if err != nil {
		t.Fatal(err)
	}
	if d := results[0].Distance; d < want-1e-4 || d > want+1e-4 {
		t.Errorf("results[0].Distance = %v, want %v (D(v,w), not 0)", d, want)
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	inst, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	err = inst.Insert(context.Background(), 0x1, vector.NewDenseF32([]float32{1, 2}))
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestInvalidOptionsRejected(t *testing.T) {
	opts := testOptions()
	opts.Vector.Dims = 0
	if _, err := Open(t.TempDir(), opts); err == nil {
		t.Fatal("expected ErrConfigInvalid for dims=0")
	}
}

// TestCloseReopenReloadsSealedAndGrowingSegments is spec.md §1's crash-
// persistence promise exercised end to end: rows that made it past the
// write buffer into a catalog-recorded growing or sealed segment must
// still be reachable after a Close/Open cycle, not just the rows the WAL
// replay range happens to cover.
func TestCloseReopenReloadsSealedAndGrowingSegments(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.Segment.MaxGrowingSegmentSize = 2
	opts.Optimizing.SealingSecs = 1
	opts.Optimizing.SealingSize = 2

	inst, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	seedVectors := []vector.Vector{
		vector.NewDenseF32([]float32{0, 0, 0}),
		vector.NewDenseF32([]float32{1, 0, 0}),
		vector.NewDenseF32([]float32{0, 1, 0}),
		vector.NewDenseF32([]float32{0, 0, 1}),
	}
	for i, v := range seedVectors {
		if err := inst.Insert(ctx, uint64(0x10+i), v); err != nil {
			t.Fatal(err)
		}
	}

	// Wait for the background optimizer to seal the write buffer into a
	// growing segment and then index it into a sealed one, both recorded
	// durably in the catalog.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if len(inst.Stat().SealedSizes) >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for a sealed segment, stat = %+v", inst.Stat())
		}
		time.Sleep(50 * time.Millisecond)
	}

	// One more row lands in a fresh write buffer, covered only by the WAL
	// replay range, not the catalog.
	if err := inst.Insert(ctx, 0x20, vector.NewDenseF32([]float32{2, 0, 0})); err != nil {
		t.Fatal(err)
	}
	if err := inst.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	beforeStat := inst.Stat()
	if err := inst.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	afterStat := reopened.Stat()
	if afterStat.WriteBufferSize != beforeStat.WriteBufferSize {
		t.Errorf("write buffer size after reopen = %d, want %d", afterStat.WriteBufferSize, beforeStat.WriteBufferSize)
	}
	if len(afterStat.SealedSizes) != len(beforeStat.SealedSizes) {
		t.Fatalf("sealed segment count after reopen = %d, want %d", len(afterStat.SealedSizes), len(beforeStat.SealedSizes))
	}

	results, err := reopened.Search(ctx, vector.NewDenseF32([]float32{0, 0, 0}), len(seedVectors)+1, SearchOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(seedVectors)+1 {
		t.Fatalf("got %d results after reopen, want %d (every row still reachable)", len(results), len(seedVectors)+1)
	}
	seen := make(map[uint64]bool, len(results))
	for _, r := range results {
		seen[r.Payload] = true
	}
	for i := range seedVectors {
		if !seen[uint64(0x10+i)] {
			t.Errorf("missing payload %#x after reopen", 0x10+i)
		}
	}
	if !seen[0x20] {
		t.Error("missing payload 0x20 after reopen")
	}
}

func TestFlushDoesNotError(t *testing.T) {
	dir := t.TempDir()
	inst, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	if err := inst.Insert(context.Background(), 0x1, vector.NewDenseF32([]float32{1, 2, 3})); err != nil {
		t.Fatal(err)
	}
	if err := inst.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
}
