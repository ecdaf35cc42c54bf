package segment

import (
	"testing"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

func TestWriteBufferBasicScenario(t *testing.T) {
	wb := NewWriteBuffer(vector.KindDenseF32, 3)
	wb.Append(Row{Vector: vector.NewDenseF32([]float32{0, 0, 0}), Payload: 0x1})
	wb.Append(Row{Vector: vector.NewDenseF32([]float32{1, 0, 0}), Payload: 0x2})
	wb.Append(Row{Vector: vector.NewDenseF32([]float32{0, 1, 0}), Payload: 0x3})

	results := wb.Basic(vector.NewDenseF32([]float32{0.1, 0, 0}), distance.L2, 2, nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Payload != 0x1 {
		t.Errorf("closest payload = %#x, want 0x1", results[0].Payload)
	}
	if diff := results[0].Distance - 0.01; diff > 1e-5 || diff < -1e-5 {
		t.Errorf("closest distance = %v, want 0.01", results[0].Distance)
	}
}

func TestGrowingSegmentAppendAndScan(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGrowingSegment(dir, vector.KindDenseF32, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Remove()

	for i, v := range [][]float32{{0, 0}, {5, 5}} {
		if err := g.Append(Row{Vector: vector.NewDenseF32(v), Payload: uint64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Sync(); err != nil {
		t.Fatal(err)
	}
	if g.Len() != 2 {
		t.Fatalf("len = %d, want 2", g.Len())
	}
	results := g.Basic(vector.NewDenseF32([]float32{0, 0}), distance.L2, 1, nil)
	if len(results) != 1 || results[0].Payload != 0 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestMergeTopKAcrossSegments(t *testing.T) {
	a := []Result{{Payload: 1, Distance: 0.5}, {Payload: 2, Distance: 2.0}}
	b := []Result{{Payload: 3, Distance: 0.1}}
	merged := MergeTopK([][]Result{a, b}, 2)
	if len(merged) != 2 || merged[0].Payload != 3 || merged[1].Payload != 1 {
		t.Fatalf("unexpected merge order: %+v", merged)
	}
}
