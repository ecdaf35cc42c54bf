package segment

import (
	"sync"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/vector"
)

// WriteBuffer is the in-RAM segment new inserts land in before the
// optimizer promotes it to a growing segment (spec.md §3/§4.8), bounded by
// the configured sealing_size.
type WriteBuffer struct {
	mu   sync.RWMutex
	kind vector.Kind
	dims int
	rows []Row
}

func NewWriteBuffer(kind vector.Kind, dims int) *WriteBuffer {
	return &WriteBuffer{kind: kind, dims: dims}
}

// Append adds one row. The caller (internal/engine) is responsible for the
// single critical section spec.md §5 requires (WAL append, version map
// update, write-buffer append as one unit) — Append only does the last step.
func (w *WriteBuffer) Append(row Row) {
	w.mu.Lock()
	w.rows = append(w.rows, row)
	w.mu.Unlock()
}

func (w *WriteBuffer) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rows)
}

// Snapshot returns a stable copy of the current rows for a point-in-time
// search (spec.md §4.8: "snapshot the segment set").
func (w *WriteBuffer) Snapshot() []Row {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Row, len(w.rows))
	copy(out, w.rows)
	return out
}

func (w *WriteBuffer) Basic(query vector.Vector, dk distance.Kind, k int, filter Filter) []Result {
	return LinearScan(w.Snapshot(), query, dk, k, filter)
}

func (w *WriteBuffer) VBase(query vector.Vector, dk distance.Kind, filter Filter) []Result {
	return LinearScanSorted(w.Snapshot(), query, dk, filter)
}
