package engine

import (
	"fmt"
	"time"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/logging"
	"github.com/nicexipi/vecengine/internal/metrics"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/vector"
)

// VectorOptions is spec.md §6's `vector` options block.
type VectorOptions struct {
	Dims     int
	Kind     vector.Kind
	Distance distance.Kind
}

// SegmentOptions is spec.md §6's `segment` options block.
type SegmentOptions struct {
	MaxGrowingSegmentSize int
	MaxSealedSegmentSize  int
}

// OptimizingOptions is spec.md §6's `optimizing` options block.
// OptimizingThreads is filled from the worker's worker_threads setting by
// cmd/vecworker but is not read by internal/rpc or internal/optimizer: the
// optimizer always runs exactly three cooperating loops (spec.md §4.9)
// regardless of configured thread count.
type OptimizingOptions struct {
	SealingSecs       int
	SealingSize       int
	OptimizingThreads int
	MergeMinInputs    int
	MergeRatioBound   float64
}

// Options is one index's full configuration, unmarshaled from spec.md §6's
// structured config and validated before a Build/Open proceeds.
type Options struct {
	Vector     VectorOptions
	Segment    SegmentOptions
	Indexing   indexing.Options
	Optimizing OptimizingOptions

	// Log receives optimizer and request-handling events (spec.md's
	// ambient logging concern, internal/logging); optional, nil is a
	// no-op throughout internal/engine and internal/optimizer.
	Log *logging.Logger

	// Metrics receives per-request latency and the optimizer's segment/
	// loop/degraded observability (internal/metrics); optional, nil is a
	// no-op throughout internal/engine and internal/optimizer.
	Metrics *metrics.Metrics
}

// Validate checks the option ranges spec.md §6/§7 name, returning
// ErrConfigInvalid wrapped with detail on the first violation.
func (o Options) Validate() error {
	if o.Vector.Dims < 1 || o.Vector.Dims > 65535 {
		return fmt.Errorf("%w: vector.dims %d out of range [1,65535]", ErrConfigInvalid, o.Vector.Dims)
	}
	if o.Segment.MaxGrowingSegmentSize <= 0 {
		return fmt.Errorf("%w: segment.max_growing_segment_size must be positive", ErrConfigInvalid)
	}
	if o.Segment.MaxSealedSegmentSize <= 0 {
		return fmt.Errorf("%w: segment.max_sealed_segment_size must be positive", ErrConfigInvalid)
	}
	if o.Optimizing.SealingSize <= 0 {
		return fmt.Errorf("%w: optimizing.sealing_size must be positive", ErrConfigInvalid)
	}
	if o.Optimizing.SealingSecs <= 0 {
		return fmt.Errorf("%w: optimizing.sealing_secs must be positive", ErrConfigInvalid)
	}
	if o.Optimizing.MergeMinInputs < 2 {
		return fmt.Errorf("%w: optimizing.merge_min_inputs must be >= 2", ErrConfigInvalid)
	}
	if !quantize.Supported(o.Vector.Kind, o.Indexing.Quantizer.Kind) {
		return fmt.Errorf("%w: (vector-kind=%v, quantizer=%v) unsupported", ErrUnsupported, o.Vector.Kind, o.Indexing.Quantizer.Kind)
	}
	return nil
}

func (o Options) sealingInterval() time.Duration {
	return time.Duration(o.Optimizing.SealingSecs) * time.Second
}

// SearchOptions is spec.md §6's per-search options block.
type SearchOptions struct {
	Prefilter    bool
	HNSWEfSearch int
	IVFNProbe    int
}
