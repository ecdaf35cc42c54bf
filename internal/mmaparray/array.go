// Package mmaparray implements the mmap-array primitive of spec.md §4.3: an
// immutable, append-only sequence of fixed-size records written once at
// seal time and opened read-only thereafter. Segment file layouts (dense,
// sparse, binary, quantized-I8 segments) are compositions of these arrays.
package mmaparray

import (
	"bufio"
	"fmt"
	"os"
)

// Builder streams fixed-size records to a file, used once at segment-seal
// time (spec.md: "the client pushes records through a streaming iterator").
type Builder struct {
	f          *os.File
	w          *bufio.Writer
	recordSize int
	count      int
	path       string
}

// NewBuilder creates path and returns a Builder for fixed-size records of
// recordSize bytes.
func NewBuilder(path string, recordSize int) (*Builder, error) {
	if recordSize <= 0 {
		return nil, fmt.Errorf("mmaparray: record size must be positive, got %d", recordSize)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmaparray: create %s: %w", path, err)
	}
	return &Builder{f: f, w: bufio.NewWriterSize(f, 1<<20), recordSize: recordSize, path: path}, nil
}

// Push appends one record. len(record) must equal recordSize.
func (b *Builder) Push(record []byte) error {
	if len(record) != b.recordSize {
		return fmt.Errorf("mmaparray: record has %d bytes, want %d", len(record), b.recordSize)
	}
	if _, err := b.w.Write(record); err != nil {
		return fmt.Errorf("mmaparray: write record %d to %s: %w", b.count, b.path, err)
	}
	b.count++
	return nil
}

// Finish flushes, fsyncs, and closes the file, then opens it read-only and
// memory-maps it, returning the resulting Array.
func (b *Builder) Finish() (*Array, error) {
	if err := b.w.Flush(); err != nil {
		b.f.Close()
		return nil, fmt.Errorf("mmaparray: flush %s: %w", b.path, err)
	}
	if err := b.f.Sync(); err != nil {
		b.f.Close()
		return nil, fmt.Errorf("mmaparray: fsync %s: %w", b.path, err)
	}
	if err := b.f.Close(); err != nil {
		return nil, fmt.Errorf("mmaparray: close %s: %w", b.path, err)
	}
	return Open(b.path, b.recordSize)
}

// Abort discards a build in progress, removing the partial file.
func (b *Builder) Abort() {
	b.f.Close()
	os.Remove(b.path)
}

// Array is an immutable, memory-mapped sequence of fixed-size records.
type Array struct {
	backing    mapping
	recordSize int
	len        int
	path       string
}

// Open memory-maps the file at path, which must be an exact multiple of
// recordSize bytes. Returns a plain fmt.Errorf error on shape mismatch; it
// wraps no sentinel, so errors.Is against the engine's ErrCorrupted does
// not match it.
func Open(path string, recordSize int) (*Array, error) {
	if recordSize <= 0 {
		return nil, fmt.Errorf("mmaparray: record size must be positive, got %d", recordSize)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("mmaparray: stat %s: %w", path, err)
	}
	size := info.Size()
	if size%int64(recordSize) != 0 {
		return nil, fmt.Errorf("mmaparray: %s has size %d, not a multiple of record size %d", path, size, recordSize)
	}
	m, err := openMapping(path, size)
	if err != nil {
		return nil, fmt.Errorf("mmaparray: mmap %s: %w", path, err)
	}
	return &Array{backing: m, recordSize: recordSize, len: int(size) / recordSize, path: path}, nil
}

// Len returns the number of records.
func (a *Array) Len() int { return a.len }

// Record returns a read-only view of record i. Out-of-range access is a
// programmer error; bounds are only checked when built with -tags debug
// (see checkBounds in debug.go / nodebug.go), matching spec.md §4.3
// ("random access is pointer arithmetic plus a bounds check in debug").
func (a *Array) Record(i int) []byte {
	checkBounds(i, a.len)
	start := i * a.recordSize
	return a.backing.bytes()[start : start+a.recordSize]
}

// Advise hints to the OS that this array is hot and should stay resident
// (spec.md §5: "advises WILL_NEED on hot segments").
func (a *Array) Advise() error {
	return a.backing.adviseWillNeed()
}

// Close unmaps the array. Safe to call once per Array.
func (a *Array) Close() error {
	return a.backing.close()
}

// RecordSize returns the fixed record size in bytes.
func (a *Array) RecordSize() int { return a.recordSize }

// Path returns the backing file path.
func (a *Array) Path() string { return a.path }
