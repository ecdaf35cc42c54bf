// Package optimizer implements the three cooperating background loops of
// spec.md §4.9 — sealing (write buffer -> growing segment), indexing
// (growing segment -> sealed segment), and compacting (merge sealed
// segments) — each a ticking loop admitted by the Optimizer's own
// semaphore (one Optimizer per index) so "only one optimization per index may be in progress at a
// time" holds regardless of which loop wins the race.
//
// Grounded on spec.md §4.9 directly (no teacher precedent for a
// multi-loop background optimizer); golang.org/x/sync/errgroup runs the
// three loops and propagates the first loop error, golang.org/x/sync/
// semaphore.Weighted(1) is the admission gate, both surfaced as indirect
// deps of the haivivi-giztoy/liliang-cn-sqvect examples in the pack.
package optimizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nicexipi/vecengine/internal/catalog"
	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/logging"
	"github.com/nicexipi/vecengine/internal/metrics"
	"github.com/nicexipi/vecengine/internal/segment"
	"github.com/nicexipi/vecengine/internal/vector"
)

// Options configures the thresholds and sleep interval spec.md §4.9 names.
type Options struct {
	SealingSize      int
	GrowingThreshold int
	MergeMinInputs   int
	MergeRatioBound  float64
	Interval         time.Duration

	Dir          string
	Kind         vector.Kind
	Dims         int
	DistanceKind distance.Kind
	Indexing     indexing.Options

	// WriteLock is the index instance's per-index append lock (spec.md
	// §5: "Writes are serialized by a per-index append lock for the WAL
	// and the write buffer"). trySeal holds it while swapping the write
	// buffer pointer so no insert in flight can land a row in the
	// about-to-be-retired buffer after it's been read and discarded.
	// Optional: a nil lock is a no-op, accepted for tests that never run
	// concurrently with an Instance's own inserts.
	WriteLock sync.Locker

	// Catalog persists the segment list and survives a process restart
	// (spec.md §4.10); optional, nil is a no-op for tests that don't care
	// about durable metadata.
	Catalog *catalog.Catalog

	// Log receives one Info per successful seal/index/compact and one
	// Error per failed one (surfaced in internal/logging's rotating error
	// file), plus a Warn when the instance enters the degraded state.
	// Optional; a nil Log is a no-op.
	Log *logging.Logger

	// Metrics receives loop duration/failure counts, segment counts, and
	// the degraded gauge (spec.md §4.9 "visible to stat calls" made
	// visible to a scraper too). Optional; a nil Metrics is a no-op.
	Metrics *metrics.Metrics
}

const maxConsecutiveFailures = 3

// Optimizer drives the three loops against one index instance's segment
// registry.
type Optimizer struct {
	opts Options
	reg  *segment.Registry
	sem  *semaphore.Weighted

	mu                  sync.Mutex
	degraded            bool
	consecutiveFailures int
	indexingInProgress  bool

	unchangedSince time.Time
	lastWriteLen   int
}

func New(opts Options, reg *segment.Registry) *Optimizer {
	return &Optimizer{opts: opts, reg: reg, sem: semaphore.NewWeighted(1), unchangedSince: time.Now()}
}

// Run starts the three loops and blocks until ctx is cancelled or a loop
// returns a non-retryable error.
func (o *Optimizer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.loop(ctx, "seal", o.trySeal) })
	g.Go(func() error { return o.loop(ctx, "index", o.tryIndex) })
	g.Go(func() error { return o.loop(ctx, "compact", o.tryCompact) })
	return g.Wait()
}

// loop ticks at the configured interval, running step and recording
// failures; a run of maxConsecutiveFailures marks the instance degraded
// and suspends further background work until Resume is called (spec.md
// §7 "a run of consecutive failures marks the index as degraded ...
// and suspends further background work until a flush+reopen").
func (o *Optimizer) loop(ctx context.Context, name string, step func(context.Context) error) error {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if o.isDegraded() {
				continue
			}
			if err := step(ctx); err != nil {
				o.opts.Metrics.IncLoopFailure(name)
				o.recordFailure(name, err)
			} else {
				o.recordSuccess()
			}
		}
	}
}

// refreshSegmentMetrics reports the registry's current shape; called after
// every successful seal/index/compact since each one changes the segment
// counts.
func (o *Optimizer) refreshSegmentMetrics() {
	snap := o.reg.Snapshot()
	o.opts.Metrics.SetSegmentCounts(snap.Write.Len(), len(snap.Growing), len(snap.Sealed))
}

func (o *Optimizer) recordFailure(name string, err error) {
	o.mu.Lock()
	o.consecutiveFailures++
	failures := o.consecutiveFailures
	becameDegraded := failures >= maxConsecutiveFailures && !o.degraded
	if becameDegraded {
		o.degraded = true
	}
	o.mu.Unlock()

	if becameDegraded {
		o.opts.Metrics.SetDegraded(true)
	}
	if o.opts.Log != nil {
		o.opts.Log.Error("optimizer loop failed", zap.String("loop", name), zap.Error(err), zap.Int("consecutive_failures", failures))
		if becameDegraded {
			o.opts.Log.Warn("optimizer entering degraded state", zap.String("dir", o.opts.Dir))
		}
	}
}

func (o *Optimizer) recordSuccess() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consecutiveFailures = 0
}

func (o *Optimizer) isDegraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

// Degraded reports whether the optimizer has suspended background work
// (exposed by the index instance's stat call, spec.md §4.9).
func (o *Optimizer) Degraded() bool { return o.isDegraded() }

// IndexingInProgress reports whether a seal/index/compact operation is
// currently running (spec.md §4.9 "visible to stat calls").
func (o *Optimizer) IndexingInProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.indexingInProgress
}

// Resume clears the degraded flag after a flush+reopen (spec.md §7).
func (o *Optimizer) Resume() {
	o.mu.Lock()
	o.degraded = false
	o.consecutiveFailures = 0
	o.mu.Unlock()
	o.opts.Metrics.SetDegraded(false)
}

func (o *Optimizer) setInProgress(v bool) {
	o.mu.Lock()
	o.indexingInProgress = v
	o.mu.Unlock()
}

func (o *Optimizer) writeBufferFactory() segment.WriteBufferFactory {
	return func() *segment.WriteBuffer { return segment.NewWriteBuffer(o.opts.Kind, o.opts.Dims) }
}

// trySeal implements spec.md §4.9's Sealing rule: if `write` has been
// unchanged for one interval and its size >= sealing_size, seal it into a
// fresh growing segment.
func (o *Optimizer) trySeal(ctx context.Context) error {
	snap := o.reg.Snapshot()
	n := snap.Write.Len()
	if n != o.lastWriteLen {
		o.lastWriteLen = n
		o.unchangedSince = time.Now()
		return nil
	}
	if n < o.opts.SealingSize || n == 0 {
		return nil
	}
	if time.Since(o.unchangedSince) < o.opts.Interval {
		return nil
	}
	if !o.sem.TryAcquire(1) {
		return nil
	}
	defer o.sem.Release(1)
	o.setInProgress(true)
	defer o.setInProgress(false)
	start := time.Now()

	if o.opts.WriteLock != nil {
		o.opts.WriteLock.Lock()
		defer o.opts.WriteLock.Unlock()
		// Re-snapshot under the lock: no insert can land a row in the
		// buffer we're about to read from this point on.
		snap = o.reg.Snapshot()
	}

	rows := snap.Write.Snapshot()
	g, err := segment.NewGrowingSegment(o.opts.Dir, o.opts.Kind, o.opts.Dims)
	if err != nil {
		return fmt.Errorf("optimizer: seal: new growing segment: %w", err)
	}
	for _, row := range rows {
		if err := g.Append(row); err != nil {
			return fmt.Errorf("optimizer: seal: append row: %w", err)
		}
	}
	if err := g.Sync(); err != nil {
		return fmt.Errorf("optimizer: seal: sync: %w", err)
	}
	o.reg.PromoteWrite(o.writeBufferFactory(), g)
	o.lastWriteLen = 0

	if o.opts.Catalog != nil {
		if err := o.opts.Catalog.PutSegment(ctx, catalog.Segment{
			ID:        g.Handle().String(),
			Kind:      catalog.KindGrowing,
			Path:      g.Path(),
			RowCount:  len(rows),
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("optimizer: seal: record catalog entry: %w", err)
		}
	}
	if o.opts.Log != nil {
		o.opts.Log.Info("sealed write buffer", zap.String("growing_segment", g.Handle().String()), zap.Int("rows", len(rows)))
	}
	o.opts.Metrics.ObserveLoop("seal", time.Since(start))
	o.refreshSegmentMetrics()
	return nil
}

// tryIndex implements spec.md §4.9's Indexing rule: build a sealed segment
// from any growing segment whose size has crossed the growing threshold
// (train quantizer, build index, write mmap-arrays, fsync, publish).
func (o *Optimizer) tryIndex(ctx context.Context) error {
	snap := o.reg.Snapshot()
	var target *segment.GrowingSegment
	for _, g := range snap.Growing {
		if g.Len() >= o.opts.GrowingThreshold {
			target = g
			break
		}
	}
	if target == nil {
		return nil
	}
	if !o.sem.TryAcquire(1) {
		return nil
	}
	defer o.sem.Release(1)
	o.setInProgress(true)
	defer o.setInProgress(false)
	start := time.Now()

	builder, err := segment.NewBuilder(o.opts.Dir, o.opts.Kind, o.opts.Dims)
	if err != nil {
		return fmt.Errorf("optimizer: index: new builder: %w", err)
	}
	for _, row := range target.Snapshot() {
		if err := builder.Push(row.Vector, row.Payload); err != nil {
			return fmt.Errorf("optimizer: index: push row: %w", err)
		}
	}
	raw, meta, err := builder.Finish()
	if err != nil {
		return fmt.Errorf("optimizer: index: finish builder: %w", err)
	}
	idx, q, err := indexing.Build(o.opts.Indexing, o.opts.Kind, o.opts.DistanceKind, raw)
	if err != nil {
		raw.Close()
		return fmt.Errorf("optimizer: index: build index: %w", err)
	}
	sealed := segment.NewSealed(meta, raw, q, idx, o.opts.DistanceKind)
	o.reg.SealGrowing(target, sealed)
	if err := target.Remove(); err != nil {
		return fmt.Errorf("optimizer: index: remove growing log: %w", err)
	}

	if o.opts.Catalog != nil {
		if err := o.opts.Catalog.RemoveSegment(ctx, target.Handle().String()); err != nil {
			return fmt.Errorf("optimizer: index: remove catalog entry: %w", err)
		}
		if err := o.opts.Catalog.PutSegment(ctx, catalog.Segment{
			ID:        sealed.Handle().String(),
			Kind:      catalog.KindSealed,
			Path:      filepath.Join(o.opts.Dir, sealed.Handle().String()),
			RowCount:  int(raw.Len()),
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("optimizer: index: record catalog entry: %w", err)
		}
	}
	if o.opts.Log != nil {
		o.opts.Log.Info("indexed growing segment", zap.String("sealed_segment", sealed.Handle().String()), zap.Uint32("rows", raw.Len()), zap.String("index_kind", o.opts.Indexing.Kind.String()))
	}
	o.opts.Metrics.ObserveLoop("index", time.Since(start))
	o.refreshSegmentMetrics()
	return nil
}

// mergeCandidates sorts sealed segments by row count and scans windows of
// consecutive segments: starting from the smallest segment, it tries the
// longest window first and shrinks it until its size ratio (max/min row
// count) is within MergeRatioBound, returning the first window of at least
// minInputs segments that fits. The result is not always the largest
// qualifying set: a short window at the small end is returned before a
// longer one further up.
func mergeCandidates(sealed []*segment.Sealed, minInputs int, ratioBound float64) []*segment.Sealed {
	if len(sealed) < minInputs {
		return nil
	}
	sorted := append([]*segment.Sealed{}, sealed...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw().Len() < sorted[j].Raw().Len() })

	for start := 0; start+minInputs <= len(sorted); start++ {
		end := len(sorted)
		for end-start >= minInputs {
			group := sorted[start:end]
			minLen := group[0].Raw().Len()
			maxLen := group[len(group)-1].Raw().Len()
			if minLen > 0 && float64(maxLen)/float64(minLen) <= ratioBound {
				return group
			}
			end--
		}
	}
	return nil
}

// tryCompact implements spec.md §4.9's Compacting rule: merge a group of
// size-compatible sealed segments into one new sealed segment, retiring
// the inputs.
func (o *Optimizer) tryCompact(ctx context.Context) error {
	snap := o.reg.Snapshot()
	group := mergeCandidates(snap.Sealed, o.opts.MergeMinInputs, o.opts.MergeRatioBound)
	if group == nil {
		return nil
	}
	if !o.sem.TryAcquire(1) {
		return nil
	}
	defer o.sem.Release(1)
	o.setInProgress(true)
	defer o.setInProgress(false)
	start := time.Now()

	builder, err := segment.NewBuilder(o.opts.Dir, o.opts.Kind, o.opts.Dims)
	if err != nil {
		return fmt.Errorf("optimizer: compact: new builder: %w", err)
	}
	for _, s := range group {
		raw := s.Raw()
		for i := uint32(0); i < raw.Len(); i++ {
			if err := builder.Push(raw.Vector(i), raw.Payload(i)); err != nil {
				return fmt.Errorf("optimizer: compact: push row: %w", err)
			}
		}
	}
	raw, meta, err := builder.Finish()
	if err != nil {
		return fmt.Errorf("optimizer: compact: finish builder: %w", err)
	}
	idx, q, err := indexing.Build(o.opts.Indexing, o.opts.Kind, o.opts.DistanceKind, raw)
	if err != nil {
		raw.Close()
		return fmt.Errorf("optimizer: compact: build index: %w", err)
	}
	merged := segment.NewSealed(meta, raw, q, idx, o.opts.DistanceKind)
	o.reg.Compact(group, merged)
	for _, s := range group {
		if err := s.Close(); err != nil {
			return fmt.Errorf("optimizer: compact: close retired segment: %w", err)
		}
	}

	if o.opts.Catalog != nil {
		for _, s := range group {
			if err := o.opts.Catalog.RemoveSegment(ctx, s.Handle().String()); err != nil {
				return fmt.Errorf("optimizer: compact: remove catalog entry: %w", err)
			}
		}
		if err := o.opts.Catalog.PutSegment(ctx, catalog.Segment{
			ID:        merged.Handle().String(),
			Kind:      catalog.KindSealed,
			Path:      filepath.Join(o.opts.Dir, merged.Handle().String()),
			RowCount:  int(raw.Len()),
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("optimizer: compact: record catalog entry: %w", err)
		}
	}
	if o.opts.Log != nil {
		o.opts.Log.Info("compacted sealed segments", zap.Int("inputs", len(group)), zap.String("merged_segment", merged.Handle().String()), zap.Uint32("rows", raw.Len()))
	}
	o.opts.Metrics.ObserveLoop("compact", time.Since(start))
	o.refreshSegmentMetrics()
	return nil
}
