package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

// GrowingSegment is an append-only on-disk segment with no index (spec.md
// §3/§4.8): the optimizer promotes a sealed write buffer into one of these
// (new inserts keep landing in the write buffer, not here), and once it crosses the growing-size
// threshold the optimizer seals it into an indexed segment. Rows are framed
// identically to internal/wal's frames ([length][payload]) but in a
// segment-local file rather than the index-wide WAL, and are kept mirrored
// in memory for random access (a growing segment is bounded by
// sealing_size, so this is cheap).
type GrowingSegment struct {
	mu     sync.RWMutex
	handle Handle
	kind   vector.Kind
	dims   int
	path   string
	f      *os.File
	w      *bufio.Writer
	rows   []Row
}

// NewGrowingSegment creates the backing file under dir/<handle>.growing.
func NewGrowingSegment(dir string, kind vector.Kind, dims int) (*GrowingSegment, error) {
	h := NewHandle()
	path := filepath.Join(dir, h.String()+".growing")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("segment: create growing file %s: %w", path, err)
	}
	return &GrowingSegment{handle: h, kind: kind, dims: dims, path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// OpenGrowingSegment reopens an existing growing-segment log at path,
// replaying its frames back into the in-memory mirror and resuming append
// mode. Used by internal/engine's restart path to bring a
// catalog-recorded growing segment back into the live registry before the
// WAL (which no longer covers rows already promoted into this log) is
// truncated.
func OpenGrowingSegment(path string, handle Handle, kind vector.Kind, dims int) (*GrowingSegment, error) {
	rows, err := replayGrowingLog(path, dims)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("segment: reopen growing file %s: %w", path, err)
	}
	return &GrowingSegment{handle: handle, kind: kind, dims: dims, path: path, f: f, w: bufio.NewWriter(f), rows: rows}, nil
}

// replayGrowingLog reads path's frames up to the first truncated trailing
// frame, mirroring internal/wal.Replay's "keep what's good" tolerance for a
// log that may have been mid-append when the process died.
func replayGrowingLog(path string, dims int) ([]Row, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("segment: open growing file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var rows []Row
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			break
		}
		frame := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, frame); err != nil {
			break
		}
		row, err := decodeRow(frame, dims)
		if err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *GrowingSegment) Handle() Handle { return g.handle }

// Path returns the on-disk log file path, recorded by internal/catalog so
// a restart can find this segment again without rescanning the directory.
func (g *GrowingSegment) Path() string { return g.path }

// Append frames and writes one row, mirroring it into the in-memory index.
func (g *GrowingSegment) Append(row Row) error {
	frame, err := encodeRow(row)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := g.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := g.w.Write(frame); err != nil {
		return err
	}
	g.rows = append(g.rows, row)
	return nil
}

// Sync flushes buffered writes and fsyncs the file (spec.md §5: writes are
// durable once fsynced; growing-segment promotion is one of the points the
// instance flushes at).
func (g *GrowingSegment) Sync() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.w.Flush(); err != nil {
		return err
	}
	return g.f.Sync()
}

func (g *GrowingSegment) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rows)
}

func (g *GrowingSegment) Snapshot() []Row {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Row, len(g.rows))
	copy(out, g.rows)
	return out
}

func (g *GrowingSegment) Basic(query vector.Vector, dk distance.Kind, k int, filter Filter) []Result {
	return LinearScan(g.Snapshot(), query, dk, k, filter)
}

func (g *GrowingSegment) VBase(query vector.Vector, dk distance.Kind, filter Filter) []Result {
	return LinearScanSorted(g.Snapshot(), query, dk, filter)
}

// Close flushes and closes the backing file without removing it.
func (g *GrowingSegment) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.w.Flush(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

// Remove closes and deletes the backing file, called once a growing
// segment has been sealed and its rows committed to a RawSegment.
func (g *GrowingSegment) Remove() error {
	g.Close()
	return os.Remove(g.path)
}

// encodeRow frames a row as [payload_u64][dims x float32], always via
// ToDense: the growing-segment log is a crash-recovery artifact the WAL
// replay path supersedes (spec.md §4.10), so it only needs to carry enough
// to rebuild the in-memory mirror, not a lossless per-kind encoding.
func encodeRow(row Row) ([]byte, error) {
	data := row.Vector.ToDense()
	body := make([]byte, 8+len(data)*4)
	binary.LittleEndian.PutUint64(body, row.Payload)
	for d, x := range data {
		binary.LittleEndian.PutUint32(body[8+d*4:], math.Float32bits(x))
	}
	return body, nil
}

// decodeRow reverses encodeRow: [payload_u64][dims x float32], always
// decoded back as a dense f32 vector regardless of the segment's
// configured kind, matching encodeRow's "rebuild the in-memory mirror, not
// a lossless per-kind encoding" contract.
func decodeRow(body []byte, dims int) (Row, error) {
	want := 8 + dims*4
	if len(body) != want {
		return Row{}, fmt.Errorf("segment: growing row has %d bytes, want %d", len(body), want)
	}
	payload := binary.LittleEndian.Uint64(body)
	data := make([]float32, dims)
	for d := range data {
		data[d] = math.Float32frombits(binary.LittleEndian.Uint32(body[8+d*4:]))
	}
	return Row{Vector: vector.NewDenseF32(data), Payload: payload}, nil
}
