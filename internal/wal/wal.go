// Package wal implements the append-only write-ahead log of spec.md §4.10:
// frames are [payload_length_u32][payload_bytes], record kinds are Insert
// (vector + external pointer) and Delete (external pointer only). The
// writer is buffered with an explicit flush on user request and on segment
// promotion, fsyncing on flush; the reader replays frames until the first
// truncated trailing frame, preserving every record before it (spec.md
// §4.10, §7 "a corrupted WAL suffix is truncated at the first bad frame").
//
// Grounded on internal/segment's growing-segment log framing
// (length-prefixed, bufio-buffered, fsync-on-demand) for the writer shape,
// generalized here to a lossless, kind-generic vector encoding because WAL
// replay — not the growing-segment log — is the engine's actual durability
// path.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrCorrupted marks a frame or record that failed to decode.
var ErrCorrupted = errors.New("wal: corrupted")

// Writer appends frames to a single WAL file.
type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open opens (creating if absent) the WAL file at path for appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record's frame to the buffered writer. Callers that
// need durability must follow with Flush (spec.md §5: WAL append,
// version-map update, write-buffer append happen under one critical
// section, but only the fsync in Flush makes the insert crash-durable).
func (w *Writer) Append(r Record) error {
	payload, err := encode(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wal: write frame length: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("wal: write frame payload: %w", err)
	}
	return nil
}

// Flush drains the buffer and fsyncs the file. After Flush returns nil,
// every record appended before the call has survived a crash (spec.md
// §4.10 "Crash safety").
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	return w.f.Sync()
}

// Truncate resets the WAL to empty, called after a successful replay whose
// reconstructed state has been captured by the durable sealed/growing
// segments (spec.md §4.10: "After replay, the WAL is truncated").
func (w *Writer) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek after truncate: %w", err)
	}
	w.w.Reset(w.f)
	return w.f.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Replay reads path from the start and returns every well-formed record up
// to the first truncated or corrupt trailing frame. The count of bytes
// consumed by complete frames is returned so the caller can decide whether
// to truncate the file at that offset.
func Replay(path string) ([]Record, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("wal: open %s for replay: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	var offset int64

	for {
		var lenBuf [4]byte
		n, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			// A truncated length prefix: stop here, keep what's good.
			_ = n
			break
		}
		frameLen := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, frameLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			// Truncated trailing frame: stop here (spec.md §7).
			break
		}
		rec, err := decode(payload)
		if err != nil {
			break
		}
		records = append(records, rec)
		offset += 4 + int64(frameLen)
	}
	return records, offset, nil
}
