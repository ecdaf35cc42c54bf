// Package versionmap implements the external-pointer -> (version, live)
// table of spec.md §4.8: a versioned pointer is a 64-bit value whose top 48
// bits are an external pointer and whose low 16 bits are a version counter;
// the map guarantees at most one version of a given external pointer is
// live at a time, with earlier versions tombstoned. Deletes bump the
// version and clear liveness rather than removing the entry (spec.md
// "Delete: bump the version in version_map ... no physical removal").
//
// Grounded on spec.md §4.8/§5 directly: "the version map uses a sharded
// concurrent map with per-bucket write locks" has no direct teacher
// precedent (the teacher's vectorstore uses one mutex for its whole query
// cache); this package generalizes that single-mutex shape to N shards,
// each independently lockable, because the spec calls for per-bucket locks
// specifically rather than one map-wide lock.
package versionmap

import (
	"hash/maphash"
	"sync"
)

const defaultShards = 32

// Entry is one external pointer's current state.
type Entry struct {
	Version uint16
	Live    bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]Entry
}

// Map is the sharded concurrent version map for a single index instance
// (spec.md §5.4: "per-index; do not globalize it").
type Map struct {
	seed   maphash.Seed
	shards []*shard
}

// New creates a version map with the given shard count (0 selects a
// reasonable default).
func New(shardCount int) *Map {
	if shardCount <= 0 {
		shardCount = defaultShards
	}
	m := &Map{seed: maphash.MakeSeed(), shards: make([]*shard, shardCount)}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[uint64]Entry)}
	}
	return m
}

func (m *Map) shardFor(pointer uint64) *shard {
	var h maphash.Hash
	h.SetSeed(m.seed)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(pointer >> (8 * i))
	}
	h.Write(buf[:])
	return m.shards[h.Sum64()%uint64(len(m.shards))]
}

// Bump assigns the next version to pointer and marks it live, returning the
// VersionedPointer to record alongside the row (spec.md §4.8 "Insert:
// acquire a new version for the row"). Wraps a uint16 counter; wraparound
// is accepted per spec.md's Non-goals (no external-pointer reuse
// protocol beyond the version counter itself).
func (m *Map) Bump(pointer uint64) VersionedPointer {
	s := m.shardFor(pointer)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[pointer]
	e.Version++
	e.Live = true
	s.entries[pointer] = e
	return Pack(pointer, e.Version)
}

// Tombstone marks pointer's current version as not live (spec.md §4.8
// Delete). It is a no-op if the pointer has never been seen.
func (m *Map) Tombstone(pointer uint64) {
	s := m.shardFor(pointer)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pointer]
	if !ok {
		return
	}
	e.Live = false
	s.entries[pointer] = e
}

// BumpDead both advances the version counter and marks it not live in one
// step — spec.md §4.8's "Delete: bump the version in version_map ... no
// physical removal" literally bumps the version on delete rather than
// just clearing liveness, so any row still carrying the pre-delete
// versioned pointer is filtered out by IsLive even if the pointer is
// later reused by a fresh insert.
func (m *Map) BumpDead(pointer uint64) VersionedPointer {
	s := m.shardFor(pointer)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[pointer]
	e.Version++
	e.Live = false
	s.entries[pointer] = e
	return Pack(pointer, e.Version)
}

// Get returns the current entry for pointer.
func (m *Map) Get(pointer uint64) (Entry, bool) {
	s := m.shardFor(pointer)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[pointer]
	return e, ok
}

// IsLive reports whether vp's encoded version is the current live version
// of its external pointer — the filter every search result passes through
// (spec.md "Searches filter returned payloads through the version map").
func (m *Map) IsLive(vp VersionedPointer) bool {
	pointer, version := vp.Split()
	e, ok := m.Get(pointer)
	return ok && e.Live && e.Version == version
}

// LiveCount returns the number of external pointers currently marked live,
// used by invariant checks (spec.md §8 invariant 1).
func (m *Map) LiveCount() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.Live {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// Restore directly sets pointer's entry, used during WAL replay to
// reconstruct map state without going through Bump's auto-increment
// (spec.md §4.10 "replay by applying each record to version_map").
func (m *Map) Restore(pointer uint64, version uint16, live bool) {
	s := m.shardFor(pointer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pointer] = Entry{Version: version, Live: live}
}
