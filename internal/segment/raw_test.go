package segment

import (
	"testing"

	"github.com/nicexipi/vecengine/internal/vector"
)

func TestRawSegmentDenseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vector.KindDenseF32, 3)
	if err != nil {
		t.Fatal(err)
	}
	vecs := [][]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	for i, v := range vecs {
		if err := b.Push(vector.NewDenseF32(v), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	raw, meta, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	if meta.Len != 3 {
		t.Fatalf("len = %d, want 3", meta.Len)
	}
	for i, want := range vecs {
		got := raw.Vector(uint32(i)).Dense.Data
		for d := range want {
			if got[d] != want[d] {
				t.Errorf("row %d dim %d = %v, want %v", i, d, got[d], want[d])
			}
		}
		if raw.Payload(uint32(i)) != uint64(i) {
			t.Errorf("row %d payload = %d, want %d", i, raw.Payload(uint32(i)), i)
		}
	}
}

func TestRawSegmentSparseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vector.KindSparseF32, 10)
	if err != nil {
		t.Fatal(err)
	}
	v1 := vector.NewSparseF32(10, []uint32{0, 3, 7}, []float32{1, 2, 3})
	v2 := vector.NewSparseF32(10, []uint32{1, 2}, []float32{5, 6})
	if err := b.Push(v1, 100); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(v2, 200); err != nil {
		t.Fatal(err)
	}
	raw, meta, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	if meta.Len != 2 {
		t.Fatalf("len = %d, want 2", meta.Len)
	}
	got1 := raw.Vector(0)
	if len(got1.Sparse.Index) != 3 || got1.Sparse.Values[2] != 3 {
		t.Fatalf("unexpected sparse row 0: %+v", got1.Sparse)
	}
	got2 := raw.Vector(1)
	if len(got2.Sparse.Index) != 2 || got2.Sparse.Index[0] != 1 {
		t.Fatalf("unexpected sparse row 1: %+v", got2.Sparse)
	}
}

func TestRawSegmentRejectsDimMismatch(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBuilder(dir, vector.KindDenseF32, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Push(vector.NewDenseF32([]float32{1, 2}), 0); err == nil {
		t.Fatal("expected dims mismatch error")
	}
}
