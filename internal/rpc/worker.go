package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/nicexipi/vecengine/internal/engine"
	"github.com/nicexipi/vecengine/internal/logging"
	"github.com/nicexipi/vecengine/internal/metrics"
)

// ErrUnknownHandle is returned (wrapped with detail) when a request names a
// handle no prior OpBuild registered.
var ErrUnknownHandle = errors.New("rpc: unknown index handle")

// ErrHandleExists is returned when OpBuild names a handle already built.
var ErrHandleExists = errors.New("rpc: index handle already built")

// Worker owns every index instance a single engine process serves, keyed by
// the handle the host database assigns at build time (spec.md §6: "the
// process that owns the socket ... is out of scope" — Worker only needs an
// io.ReadWriteCloser per connection, not a listener of its own).
//
// Grounded on app.go's App struct (one facade holding every service,
// methods delegating to the service for each request) generalized from a
// single shared database to a map of per-handle index instances, since
// spec.md's worker serves many indexes from one process.
type Worker struct {
	dir      string
	log      *logging.Logger
	met      *metrics.Metrics
	defaults *engine.Options

	mu    sync.Mutex
	insts map[string]*engine.Instance
}

// SetDefaults installs the per-index option defaults a Build request omits
// entirely (internal/config's Vector/Indexing/Optimizing blocks, loaded
// once at process start). A request that supplies its own Options always
// wins; defaults only apply when req.Options is the zero value, recognized
// by Vector.Dims == 0, which is otherwise never a valid dimensionality
// (engine.Options.Validate rejects it).
func (w *Worker) SetDefaults(opts engine.Options) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.defaults = &opts
}

// NewWorker creates a Worker rooted at dir: each handle gets its own
// subdirectory dir/<handle>, matching internal/engine.Open's one-directory-
// per-instance layout. log and met are optional; either may be nil. Every
// built instance gets the worker's own log/met regardless of what
// req.Options.Log/Metrics carried — those are process-local resource
// handles (a *zap core, a live Prometheus registry) that make no sense
// coming from a remote caller across the wire, so OpBuild always
// overrides them with the worker's own.
func NewWorker(dir string, log *logging.Logger, met *metrics.Metrics) *Worker {
	return &Worker{dir: dir, log: log, met: met, insts: make(map[string]*engine.Instance)}
}

func (w *Worker) instDir(handle string) string {
	return filepath.Join(w.dir, handle)
}

// Serve reads requests off conn one at a time, dispatches each to the
// matching index instance, and writes back a Response — spec.md §5's
// "suspension points ... at the RPC frame boundary" means Serve never has
// more than one request in flight per connection. Serve returns nil when
// conn reaches EOF (closed by the peer) and a non-nil error for any other
// framing failure; an engine-level failure during a single request is
// reported as Response.Err, never as a Serve error (spec.md §7: "all
// errors surface as RPC responses on the request that caused them").
func (w *Worker) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	fc := newFrameConn(conn)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := fc.readRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fc.writeResponse(w.dispatch(ctx, req)); err != nil {
			return err
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, req Request) Response {
	resp, err := w.handle(ctx, req)
	if err != nil {
		if w.log != nil {
			w.log.Error("rpc request failed", zap.String("op", req.Op.String()), zap.String("handle", req.Handle), zap.Error(err))
		}
		return Response{Err: err.Error()}
	}
	return resp
}

func (w *Worker) handle(ctx context.Context, req Request) (Response, error) {
	switch req.Op {
	case OpBuild:
		return w.handleBuild(ctx, req)
	case OpInsert:
		return Response{}, w.handleInsert(ctx, req)
	case OpDelete:
		return Response{}, w.handleDelete(ctx, req)
	case OpSearch:
		return w.handleSearch(ctx, req)
	case OpFlush:
		return Response{}, w.handleFlush(ctx, req)
	case OpStat:
		return w.handleStat(ctx, req)
	case OpDestroy:
		return Response{}, w.handleDestroy(ctx, req)
	default:
		return Response{}, fmt.Errorf("rpc: unknown op %d", req.Op)
	}
}

func (w *Worker) acquire(handle string) (*engine.Instance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	inst, ok := w.insts[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandle, handle)
	}
	return inst, nil
}

// handleBuild opens a fresh index instance at req.Handle's directory and
// bulk-loads req.Rows via the normal Insert path. The original's split
// Build0/Build1/Build2 protocol streams rows so a build can be abandoned
// mid-stream by closing the channel; collapsing that into one request's Rows
// slice trades that cancellation point away (spec.md doesn't require it) for
// a simpler, synchronous RPC shape — see DESIGN.md.
func (w *Worker) handleBuild(ctx context.Context, req Request) (Response, error) {
	w.mu.Lock()
	if _, exists := w.insts[req.Handle]; exists {
		w.mu.Unlock()
		return Response{}, fmt.Errorf("%w: %q", ErrHandleExists, req.Handle)
	}
	w.mu.Unlock()

	opts := req.Options
	if opts.Vector.Dims == 0 {
		w.mu.Lock()
		defaults := w.defaults
		w.mu.Unlock()
		if defaults != nil {
			opts = *defaults
		}
	}
	opts.Log = w.log
	opts.Metrics = w.met
	inst, err := engine.Open(w.instDir(req.Handle), opts)
	if err != nil {
		return Response{}, fmt.Errorf("rpc: build %q: %w", req.Handle, err)
	}
	for _, row := range req.Rows {
		if err := inst.Insert(ctx, row.ExternalPointer, row.Vector); err != nil {
			inst.Close()
			return Response{}, fmt.Errorf("rpc: build %q: insert row: %w", req.Handle, err)
		}
	}

	w.mu.Lock()
	w.insts[req.Handle] = inst
	w.mu.Unlock()
	return Response{}, nil
}

func (w *Worker) handleInsert(ctx context.Context, req Request) error {
	inst, err := w.acquire(req.Handle)
	if err != nil {
		return err
	}
	return inst.Insert(ctx, req.ExternalPointer, req.Vector)
}

func (w *Worker) handleDelete(ctx context.Context, req Request) error {
	inst, err := w.acquire(req.Handle)
	if err != nil {
		return err
	}
	return inst.Delete(ctx, req.ExternalPointer)
}

func (w *Worker) handleSearch(ctx context.Context, req Request) (Response, error) {
	inst, err := w.acquire(req.Handle)
	if err != nil {
		return Response{}, err
	}
	var filter engine.ExternalFilter
	if req.AllowList != nil {
		allow := make(map[uint64]struct{}, len(req.AllowList))
		for _, p := range req.AllowList {
			allow[p] = struct{}{}
		}
		filter = func(externalPointer uint64) bool {
			_, ok := allow[externalPointer]
			return ok
		}
	}
	results, err := inst.Search(ctx, req.Query, req.K, req.SearchOpts, filter)
	if err != nil {
		return Response{}, err
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{ExternalPointer: r.Payload, Distance: r.Distance}
	}
	return Response{Results: out}, nil
}

func (w *Worker) handleFlush(ctx context.Context, req Request) error {
	inst, err := w.acquire(req.Handle)
	if err != nil {
		return err
	}
	return inst.Flush(ctx)
}

func (w *Worker) handleStat(ctx context.Context, req Request) (Response, error) {
	inst, err := w.acquire(req.Handle)
	if err != nil {
		return Response{}, err
	}
	stat := inst.Stat()
	return Response{Stat: StatInfo{
		Degraded:           stat.Degraded,
		IndexingInProgress: stat.IndexingInProgress,
		WriteBufferSize:    stat.WriteBufferSize,
		GrowingSizes:       stat.GrowingSizes,
		SealedSizes:        stat.SealedSizes,
	}}, nil
}

func (w *Worker) handleDestroy(ctx context.Context, req Request) error {
	w.mu.Lock()
	inst, ok := w.insts[req.Handle]
	if ok {
		delete(w.insts, req.Handle)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandle, req.Handle)
	}
	if err := inst.Destroy(); err != nil {
		return err
	}
	return os.RemoveAll(w.instDir(req.Handle))
}

// Close stops every instance the worker holds (used on process shutdown,
// matching app.go's defer-cleanup-on-exit pattern in runAsConsoleApp).
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for handle, inst := range w.insts {
		if err := inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.insts, handle)
	}
	return firstErr
}
