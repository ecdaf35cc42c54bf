// Package segment implements the three-state segment model of spec.md §3/
// §4.6/§4.8: the in-RAM write buffer, append-only growing segments, and
// immutable sealed segments with an attached index and quantizer. Segment
// file layouts are compositions of internal/mmaparray arrays, grounded on
// crates/service's segment states and the older src/bgworker/index.rs's
// build/load/insert lifecycle for the on-disk persistence shape.
package segment

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Handle is a segment's durable identifier, used as its directory name
// under an index's data directory (spec.md §6: "segments/<uuid>/...").
// google/uuid is the teacher-adjacent dependency this identifier is
// grounded on (SPEC_FULL.md §3 domain stack: google/uuid -> segment
// handles).
type Handle uuid.UUID

func NewHandle() Handle { return Handle(uuid.New()) }

func (h Handle) String() string { return uuid.UUID(h).String() }

func ParseHandle(s string) (Handle, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, fmt.Errorf("segment: parse handle %q: %w", s, err)
	}
	return Handle(u), nil
}

// State is a segment's lifecycle stage (spec.md §3).
type State int

const (
	StateWriteBuffer State = iota
	StateGrowing
	StateSealed
)

func (s State) String() string {
	switch s {
	case StateWriteBuffer:
		return "write_buffer"
	case StateGrowing:
		return "growing"
	case StateSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// Row is one (vector, payload) pair as it flows through write buffer,
// growing, and seal-time construction. Payload is the versioned pointer
// (spec.md §3) — top 48 bits external pointer, low 16 bits version.
type Row struct {
	Vector  vector.Vector
	Payload uint64
}

// Meta describes a segment independent of its current state: handle, vector
// kind/dims, and row count (spec.md §6: "Segment metadata (handle, kind,
// len) is stored in a small file at the segment-directory root" — that file
// is written by internal/catalog; Meta is its in-memory counterpart).
type Meta struct {
	Handle Handle
	Kind   vector.Kind
	Dims   int
	Len    int
}
