package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/vector"
	"github.com/nicexipi/vecengine/internal/versionmap"
	"github.com/nicexipi/vecengine/internal/wal"
)

func (inst *Instance) checkShape(v vector.Vector) error {
	if v.Kind != inst.opts.Vector.Kind {
		return fmt.Errorf("%w: vector kind %v, index configured for %v", ErrDimensionMismatch, v.Kind, inst.opts.Vector.Kind)
	}
	if v.Dims != inst.opts.Vector.Dims {
		return fmt.Errorf("%w: vector dims %d, index configured for %d", ErrDimensionMismatch, v.Dims, inst.opts.Vector.Dims)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrVectorMalformed, err)
	}
	return nil
}

// Insert acquires a new version for the row, appends it to the WAL, then
// to the write buffer — all under inst.writeMu, the single critical
// section spec.md §4.8/§5 requires. A WAL-write failure rolls back the
// version bump so "a failed insert leaves no trace in the version map or
// in write" (spec.md §7) holds.
func (inst *Instance) Insert(ctx context.Context, externalPointer uint64, v vector.Vector) error {
	defer inst.observe("insert", time.Now())
	if err := inst.checkShape(v); err != nil {
		return err
	}

	inst.writeMu.Lock()
	defer inst.writeMu.Unlock()

	prev, hadPrev := inst.versions.Get(externalPointer)
	vp := inst.versions.Bump(externalPointer)

	if err := inst.wal.Append(wal.Record{Kind: wal.KindInsert, ExternalPointer: externalPointer, Vector: v}); err != nil {
		if hadPrev {
			inst.versions.Restore(externalPointer, prev.Version, prev.Live)
		} else {
			inst.versions.Restore(externalPointer, 0, false)
		}
		if inst.opts.Log != nil {
			inst.opts.Log.Error("insert failed: wal append", zap.Uint64("external_pointer", externalPointer), zap.Error(err))
		}
		return fmt.Errorf("%w: append insert record: %v", ErrIoError, err)
	}

	inst.registry.Snapshot().Write.Append(segment.Row{Vector: v, Payload: uint64(vp)})
	return nil
}

// Delete bumps the row's version to a tombstoned one and logs a delete
// record; no physical removal (spec.md §4.8).
func (inst *Instance) Delete(ctx context.Context, externalPointer uint64) error {
	defer inst.observe("delete", time.Now())
	inst.writeMu.Lock()
	defer inst.writeMu.Unlock()

	prev, hadPrev := inst.versions.Get(externalPointer)
	inst.versions.BumpDead(externalPointer)

	if err := inst.wal.Append(wal.Record{Kind: wal.KindDelete, ExternalPointer: externalPointer}); err != nil {
		if hadPrev {
			inst.versions.Restore(externalPointer, prev.Version, prev.Live)
		} else {
			inst.versions.Restore(externalPointer, 0, false)
		}
		if inst.opts.Log != nil {
			inst.opts.Log.Error("delete failed: wal append", zap.Uint64("external_pointer", externalPointer), zap.Error(err))
		}
		return fmt.Errorf("%w: append delete record: %v", ErrIoError, err)
	}
	return nil
}

// ExternalFilter is the caller-supplied predicate over external pointers
// (spec.md §6 "filter-predicate"), applied in addition to the version
// map's liveness check.
type ExternalFilter func(externalPointer uint64) bool

// Search snapshots the segment set, scans the write buffer, every growing
// segment, and every sealed segment, merges by distance under a bounded
// heap, and translates versioned pointers back to external pointers
// (spec.md §4.8 "Search: snapshot the segment set ... merge under a
// bounded heap ... apply the external filter and version filter").
func (inst *Instance) Search(ctx context.Context, query vector.Vector, k int, opts SearchOptions, filter ExternalFilter) ([]segment.Result, error) {
	defer inst.observe("search", time.Now())
	if err := inst.checkShape(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrConfigInvalid)
	}

	combined := func(payload uint64) bool {
		vp := versionmap.VersionedPointer(payload)
		if !inst.versions.IsLive(vp) {
			return false
		}
		if filter != nil {
			return filter(vp.ExternalPointer())
		}
		return true
	}

	snap := inst.registry.Snapshot()
	dk := inst.opts.Vector.Distance

	perSegment := make([][]segment.Result, 0, 2+len(snap.Growing)+len(snap.Sealed))
	perSegment = append(perSegment, snap.Write.Basic(query, dk, k, combined))
	for _, g := range snap.Growing {
		perSegment = append(perSegment, g.Basic(query, dk, k, combined))
	}
	for _, s := range snap.Sealed {
		perSegment = append(perSegment, inst.searchSealed(s, query, k, opts, combined))
	}

	merged := segment.MergeTopK(perSegment, k)
	for i := range merged {
		merged[i].Payload = versionmap.VersionedPointer(merged[i].Payload).ExternalPointer()
	}
	return merged, nil
}

// searchSealed honors a per-search ivf_nprobe/hnsw_ef_search override
// (spec.md §6) by type-asserting the sealed segment's index against the
// tunable interfaces indexing's IVF/HNSW implementations satisfy,
// falling back to the fixed-parameter Basic otherwise.
func (inst *Instance) searchSealed(s *segment.Sealed, query vector.Vector, k int, opts SearchOptions, filter segment.Filter) []segment.Result {
	idx := s.Index()
	if opts.IVFNProbe > 0 {
		if np, ok := idx.(indexing.NProbeSearcher); ok {
			return np.BasicWithNProbe(query, k, filter, opts.IVFNProbe)
		}
	}
	if opts.HNSWEfSearch > 0 {
		if ef, ok := idx.(indexing.EfSearcher); ok {
			return ef.BasicWithEf(query, k, filter, opts.HNSWEfSearch)
		}
	}
	return s.Basic(query, k, filter)
}
