// Package rpc is the request/response surface spec.md §6 names: one index
// instance per OS process, addressed by a handle, driven by a worker that
// dispatches Build/Insert/Delete/Search/Flush/Stat/Destroy over whatever
// io.ReadWriteCloser the host process hands it.
//
// Grounded on original_source/src/bgworker/session.rs's ClientPacket/
// ServerPacket enums for the operation shape (Build is split into a
// streaming Build0/Build1/Build2 in the original; here BuildRequest.Rows
// carries the whole streamed batch in one request since spec.md doesn't
// require the channel-based cancellation the original's split affords),
// and on app.go's request-handling style (one method per operation,
// wrapped errors) for Worker.handle's dispatch.
package rpc

import (
	"github.com/nicexipi/vecengine/internal/engine"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Op identifies which operation a Request carries.
type Op int

const (
	OpBuild Op = iota
	OpInsert
	OpDelete
	OpSearch
	OpFlush
	OpStat
	OpDestroy
)

func (op Op) String() string {
	switch op {
	case OpBuild:
		return "build"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpSearch:
		return "search"
	case OpFlush:
		return "flush"
	case OpStat:
		return "stat"
	case OpDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Row is one (external-pointer, vector) pair, used both by BuildRequest's
// initial batch and could equally carry a single Insert's payload.
type Row struct {
	ExternalPointer uint64
	Vector          vector.Vector
}

// Request is the tagged union of every operation spec.md §6 lists. Only the
// fields relevant to Op are populated; the rest are the type's zero value.
// A single struct (rather than one type per Op) mirrors the original's
// ClientPacket enum while staying idiomatic Go — gob happily round-trips
// the zero-valued fields a given Op doesn't use.
type Request struct {
	Op     Op
	Handle string

	// OpBuild
	Options engine.Options
	Rows    []Row

	// OpInsert, OpDelete: ExternalPointer; OpInsert also: Vector
	ExternalPointer uint64
	Vector          vector.Vector

	// OpSearch
	Query      vector.Vector
	K          int
	SearchOpts engine.SearchOptions
	// AllowList, if non-nil, restricts results to these external pointers
	// (spec.md §6's "filter-predicate" — a predicate function can't cross
	// the wire, so the RPC surface narrows it to an explicit allow-set;
	// a richer predicate language is future work, see DESIGN.md).
	AllowList []uint64
}

// Result is one scored hit in a SearchResponse.
type Result struct {
	ExternalPointer uint64
	Distance        float32
}

// StatInfo mirrors engine.Stat minus the Options field (engine.Options
// isn't meaningfully round-tripped back to the caller; the caller already
// has the options it built the index with).
type StatInfo struct {
	Degraded           bool
	IndexingInProgress bool
	WriteBufferSize    int
	GrowingSizes       []int
	SealedSizes        []int
}

// Response is the tagged union of every operation's result, plus Err for
// the original's Reset(String) catch-all error packet: a non-empty Err
// means the request failed and every other field is the zero value.
type Response struct {
	Err string

	// OpSearch
	Results []Result

	// OpStat
	Stat StatInfo
}
