package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicexipi/vecengine/internal/vector"
)

func TestWriterReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal")

	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	inserts := []Record{
		{Kind: KindInsert, ExternalPointer: 1, Vector: vector.NewDenseF32([]float32{1, 2, 3})},
		{Kind: KindInsert, ExternalPointer: 2, Vector: vector.NewSparseF32(5, []uint32{0, 3}, []float32{9, 8})},
		{Kind: KindDelete, ExternalPointer: 1},
	}
	for _, r := range inserts {
		if err := w.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	records, offset, err := Replay(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Vector.Dense.Data[1] != 2 {
		t.Errorf("first record vector mismatch: %+v", records[0].Vector)
	}
	if records[1].Vector.Sparse.Values[1] != 8 {
		t.Errorf("second record sparse mismatch: %+v", records[1].Vector)
	}
	if records[2].Kind != KindDelete || records[2].ExternalPointer != 1 {
		t.Errorf("third record not a matching delete: %+v", records[2])
	}
	if offset == 0 {
		t.Error("expected nonzero consumed offset")
	}
}

func TestReplayStopsAtTruncatedTrailingFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal")

	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(Record{Kind: KindInsert, ExternalPointer: 1, Vector: vector.NewDenseF32([]float32{1, 2})}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Append a garbage trailing frame with a length prefix longer than its body.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0xFF, 0xFF, 0x00, 0x00, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, _, err := Replay(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (truncated trailer dropped)", len(records))
	}
}

func TestReplayMissingFileReturnsEmpty(t *testing.T) {
	records, offset, err := Replay(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 || offset != 0 {
		t.Fatalf("expected empty replay, got %d records offset %d", len(records), offset)
	}
}

func TestTruncateResetsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal")

	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(Record{Kind: KindDelete, ExternalPointer: 42}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated file, size = %d", info.Size())
	}
}
