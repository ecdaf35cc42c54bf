package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicexipi/vecengine/internal/catalog"
	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/logging"
	"github.com/nicexipi/vecengine/internal/optimizer"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/versionmap"
	"github.com/nicexipi/vecengine/internal/wal"
)

// Instance is one index's live state: the segment set, the WAL, the
// version map, and the background optimizer (spec.md §4.8 "The instance
// maintains: write, growing[], sealed[], version_map").
type Instance struct {
	opts Options
	dir  string

	wal      *wal.Writer
	registry *segment.Registry
	versions *versionmap.Map
	opt      *optimizer.Optimizer
	catalog  *catalog.Catalog

	// writeMu is the per-index append lock spec.md §5 requires: "WAL
	// append, then version_map update, then write append, all under the
	// same critical section."
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Open creates (if absent) or loads the index directory at dir, rebuilds
// the growing/sealed segment set from internal/catalog, replays its WAL on
// top of that, and starts the background optimizer. The optimizer records
// every seal/index/compact it performs in the catalog's SQLite database
// (spec.md §4.10), so a restart reconstructs the full segment set from two
// sources: the catalog for everything already sealed or promoted to a
// growing segment, and the WAL replay range for whatever landed in `write`
// since the last seal. Only once both are in hand is the WAL truncated —
// truncating first would make any catalog-recorded segment permanently
// unreachable if loading it then failed.
func Open(dir string, opts Options) (*Instance, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "segments"), 0755); err != nil {
		return nil, fmt.Errorf("%w: create segments dir: %v", ErrIoError, err)
	}

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		return nil, fmt.Errorf("%w: open catalog: %v", ErrIoError, err)
	}

	ctx := context.Background()
	catSegs, err := cat.ListSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list catalog segments: %v", ErrIoError, err)
	}
	set := &segment.Set{}
	for _, cs := range catSegs {
		handle, err := segment.ParseHandle(cs.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: parse catalog segment handle %q: %v", ErrIoError, cs.ID, err)
		}
		switch cs.Kind {
		case catalog.KindGrowing:
			g, err := segment.OpenGrowingSegment(cs.Path, handle, opts.Vector.Kind, opts.Vector.Dims)
			if err != nil {
				return nil, fmt.Errorf("%w: reopen growing segment %s: %v", ErrIoError, cs.ID, err)
			}
			set.Growing = append(set.Growing, g)
		case catalog.KindSealed:
			raw, err := segment.OpenRawSegment(cs.Path, handle, opts.Vector.Kind, opts.Vector.Dims)
			if err != nil {
				return nil, fmt.Errorf("%w: reopen sealed segment %s: %v", ErrIoError, cs.ID, err)
			}
			// The catalog only records ID/Kind/Path/RowCount, not the
			// quantizer/index the segment was sealed with, so the index
			// is rebuilt deterministically from the instance's own
			// (fixed-for-its-lifetime) indexing config over the reopened
			// raw vectors, the same call tryIndex made to build it the
			// first time.
			idx, q, err := indexing.Build(opts.Indexing, opts.Vector.Kind, opts.Vector.Distance, raw)
			if err != nil {
				raw.Close()
				return nil, fmt.Errorf("%w: rebuild index for sealed segment %s: %v", ErrIoError, cs.ID, err)
			}
			meta := segment.Meta{Handle: handle, Kind: opts.Vector.Kind, Dims: opts.Vector.Dims, Len: int(raw.Len())}
			set.Sealed = append(set.Sealed, segment.NewSealed(meta, raw, q, idx, opts.Vector.Distance))
		default:
			return nil, fmt.Errorf("%w: catalog segment %s: unknown kind %q", ErrIoError, cs.ID, cs.Kind)
		}
	}

	walPath := filepath.Join(dir, "wal")
	records, _, err := wal.Replay(walPath)
	if err != nil {
		return nil, fmt.Errorf("%w: replay wal: %v", ErrIoError, err)
	}

	versions := versionmap.New(0)
	wbuf := segment.NewWriteBuffer(opts.Vector.Kind, opts.Vector.Dims)
	for _, r := range records {
		switch r.Kind {
		case wal.KindInsert:
			vp := versions.Bump(r.ExternalPointer)
			wbuf.Append(segment.Row{Vector: r.Vector, Payload: uint64(vp)})
		case wal.KindDelete:
			versions.BumpDead(r.ExternalPointer)
		}
	}
	set.Write = wbuf

	writer, err := wal.Open(walPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %v", ErrIoError, err)
	}
	// spec.md §4.10: "After replay, the WAL is truncated" — the durable
	// sealed/growing segments (just reloaded above from the catalog)
	// already capture everything before the replay range, and `write` now
	// holds the reconstructed replay range.
	if err := writer.Truncate(); err != nil {
		return nil, fmt.Errorf("%w: truncate wal after replay: %v", ErrIoError, err)
	}

	registry := segment.NewRegistry(set)

	cancelCtx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		opts:     opts,
		dir:      dir,
		wal:      writer,
		registry: registry,
		versions: versions,
		catalog:  cat,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	optOpts := optimizer.Options{
		SealingSize:      opts.Optimizing.SealingSize,
		GrowingThreshold: opts.Segment.MaxGrowingSegmentSize,
		MergeMinInputs:   opts.Optimizing.MergeMinInputs,
		MergeRatioBound:  opts.Optimizing.MergeRatioBound,
		Interval:         opts.sealingInterval(),
		Dir:              filepath.Join(dir, "segments"),
		Kind:             opts.Vector.Kind,
		Dims:             opts.Vector.Dims,
		DistanceKind:     opts.Vector.Distance,
		Indexing:         opts.Indexing,
		WriteLock:        &inst.writeMu,
		Catalog:          cat,
		Log:              opts.Log,
		Metrics:          opts.Metrics,
	}
	inst.opt = optimizer.New(optOpts, registry)

	go func() {
		defer close(inst.done)
		_ = inst.opt.Run(cancelCtx)
	}()

	return inst, nil
}

// Flush drains and fsyncs the WAL on explicit request (spec.md §4.10
// "Writer: buffered with explicit flush on user request").
func (inst *Instance) Flush(ctx context.Context) error {
	defer inst.observe("flush", time.Now())
	if err := inst.wal.Flush(); err != nil {
		return fmt.Errorf("%w: flush wal: %v", ErrIoError, err)
	}
	return nil
}

// Close stops the optimizer and releases every open file.
func (inst *Instance) Close() error {
	inst.cancel()
	<-inst.done

	var firstErr error
	snap := inst.registry.Snapshot()
	for _, g := range snap.Growing {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, s := range snap.Sealed {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := inst.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := inst.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("%w: close instance: %v", ErrIoError, firstErr)
	}
	return nil
}

// Stat reports the observable state spec.md §6's Stat response and §4.9's
// "indexing in progress" flag name.
type Stat struct {
	Degraded           bool
	IndexingInProgress bool
	WriteBufferSize    int
	GrowingSizes       []int
	SealedSizes        []int
	Options            Options
}

func (inst *Instance) Stat() Stat {
	snap := inst.registry.Snapshot()
	growing := make([]int, len(snap.Growing))
	for i, g := range snap.Growing {
		growing[i] = g.Len()
	}
	sealed := make([]int, len(snap.Sealed))
	for i, s := range snap.Sealed {
		sealed[i] = int(s.Raw().Len())
	}
	return Stat{
		Degraded:           inst.opt.Degraded(),
		IndexingInProgress: inst.opt.IndexingInProgress(),
		WriteBufferSize:    snap.Write.Len(),
		GrowingSizes:       growing,
		SealedSizes:        sealed,
		Options:            inst.opts,
	}
}

// observe reports one request's latency under the given operation name
// (internal/metrics); a nil Options.Metrics makes this a no-op.
func (inst *Instance) observe(op string, start time.Time) {
	inst.opts.Metrics.ObserveRequest(op, time.Since(start))
}

// Resume clears a degraded optimizer state after a flush+reopen (spec.md
// §7: "suspends further background work until a flush+reopen").
func (inst *Instance) Resume() {
	inst.opt.Resume()
}

// Destroy stops the optimizer, closes every open file, and removes the
// index directory (spec.md §6's Destroy operation). The instance is unusable
// after this call returns, regardless of whether the removal itself errors.
func (inst *Instance) Destroy() error {
	closeErr := inst.Close()
	if err := os.RemoveAll(inst.dir); err != nil {
		if closeErr != nil {
			return fmt.Errorf("%w: close instance: %v (also failed to remove dir: %v)", ErrIoError, closeErr, err)
		}
		return fmt.Errorf("%w: remove index dir: %v", ErrIoError, err)
	}
	return closeErr
}
