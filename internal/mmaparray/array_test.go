package mmaparray

import (
	"encoding/binary"
	"path/filepath"
	"testing"
)

func TestBuildAndOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.bin")

	b, err := NewBuilder(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		rec := make([]byte, 8)
		binary.LittleEndian.PutUint64(rec, uint64(i*i))
		if err := b.Push(rec); err != nil {
			t.Fatal(err)
		}
	}
	arr, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	defer arr.Close()

	if arr.Len() != 100 {
		t.Fatalf("len = %d, want 100", arr.Len())
	}
	for i := 0; i < 100; i++ {
		got := binary.LittleEndian.Uint64(arr.Record(i))
		if got != uint64(i*i) {
			t.Errorf("record %d = %d, want %d", i, got, i*i)
		}
	}

	arr2, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer arr2.Close()
	if arr2.Len() != 100 {
		t.Fatalf("reopened len = %d, want 100", arr2.Len())
	}
}

func TestOpenRejectsMismatchedSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.bin")
	b, err := NewBuilder(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	b.Push(make([]byte, 8))
	b.Push(make([]byte, 8))
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 3); err == nil {
		t.Fatal("expected error opening with mismatched record size")
	}
}
