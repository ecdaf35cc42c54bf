package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/nicexipi/vecengine/internal/distance"
	"github.com/nicexipi/vecengine/internal/engine"
	"github.com/nicexipi/vecengine/internal/indexing"
	"github.com/nicexipi/vecengine/internal/quantize"
	"github.com/nicexipi/vecengine/internal/vector"
)

func testEngineOptions() engine.Options {
	return engine.Options{
		Vector:  engine.VectorOptions{Dims: 3, Kind: vector.KindDenseF32, Distance: distance.L2},
		Segment: engine.SegmentOptions{MaxGrowingSegmentSize: 1000, MaxSealedSegmentSize: 10000},
		Indexing: indexing.Options{
			Kind:      indexing.KindFlat,
			Quantizer: quantize.Options{Kind: quantize.KindTrivial},
		},
		Optimizing: engine.OptimizingOptions{
			SealingSecs:     3600,
			SealingSize:     1000,
			MergeMinInputs:  2,
			MergeRatioBound: 2.0,
		},
	}
}

// roundTrip drives one request/response pair through a Worker's dispatch
// logic directly (bypassing Serve's loop and the frame codec, which a single
// round trip doesn't need to exercise).
func roundTrip(t *testing.T, w *Worker, req Request) Response {
	t.Helper()
	return w.dispatch(context.Background(), req)
}

func TestBuildInsertSearchDestroy(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir, nil, nil)

	resp := roundTrip(t, w, Request{Op: OpBuild, Handle: "idx1", Options: testEngineOptions(), Rows: []Row{
		{ExternalPointer: 0x1, Vector: vector.NewDenseF32([]float32{0, 0, 0})},
		{ExternalPointer: 0x2, Vector: vector.NewDenseF32([]float32{1, 0, 0})},
		{ExternalPointer: 0x3, Vector: vector.NewDenseF32([]float32{0, 1, 0})},
	}})
	if resp.Err != "" {
		t.Fatalf("build: %s", resp.Err)
	}

	resp = roundTrip(t, w, Request{Op: OpSearch, Handle: "idx1", Query: vector.NewDenseF32([]float32{0.1, 0, 0}), K: 2})
	if resp.Err != "" {
		t.Fatalf("search: %s", resp.Err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].ExternalPointer != 0x1 {
		t.Errorf("closest result = %#x, want 0x1", resp.Results[0].ExternalPointer)
	}

	resp = roundTrip(t, w, Request{Op: OpInsert, Handle: "idx1", ExternalPointer: 0x4, Vector: vector.NewDenseF32([]float32{0, 0, 1})})
	if resp.Err != "" {
		t.Fatalf("insert: %s", resp.Err)
	}

	resp = roundTrip(t, w, Request{Op: OpStat, Handle: "idx1"})
	if resp.Err != "" {
		t.Fatalf("stat: %s", resp.Err)
	}
	if resp.Stat.WriteBufferSize != 4 {
		t.Errorf("write buffer size = %d, want 4", resp.Stat.WriteBufferSize)
	}

	resp = roundTrip(t, w, Request{Op: OpDestroy, Handle: "idx1"})
	if resp.Err != "" {
		t.Fatalf("destroy: %s", resp.Err)
	}

	resp = roundTrip(t, w, Request{Op: OpStat, Handle: "idx1"})
	if resp.Err == "" {
		t.Fatal("stat on destroyed handle: expected an error")
	}
}

func TestBuildRejectsDuplicateHandle(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir, nil, nil)

	req := Request{Op: OpBuild, Handle: "dup", Options: testEngineOptions()}
	if resp := roundTrip(t, w, req); resp.Err != "" {
		t.Fatalf("first build: %s", resp.Err)
	}
	resp := roundTrip(t, w, req)
	if resp.Err == "" {
		t.Fatal("second build on same handle: expected an error")
	}
}

func TestSearchAllowListFiltersResults(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir, nil, nil)

	roundTrip(t, w, Request{Op: OpBuild, Handle: "idx", Options: testEngineOptions(), Rows: []Row{
		{ExternalPointer: 0x1, Vector: vector.NewDenseF32([]float32{0, 0, 0})},
		{ExternalPointer: 0x2, Vector: vector.NewDenseF32([]float32{1, 0, 0})},
	}})

	resp := roundTrip(t, w, Request{
		Op: OpSearch, Handle: "idx", Query: vector.NewDenseF32([]float32{0, 0, 0}), K: 2,
		AllowList: []uint64{0x2},
	})
	if resp.Err != "" {
		t.Fatalf("search: %s", resp.Err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ExternalPointer != 0x2 {
		t.Fatalf("got %+v, want exactly one result for 0x2", resp.Results)
	}
}

func TestBuildFallsBackToDefaultsWhenOptionsOmitted(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir, nil, nil)
	w.SetDefaults(testEngineOptions())

	resp := roundTrip(t, w, Request{Op: OpBuild, Handle: "defaulted"})
	if resp.Err != "" {
		t.Fatalf("build with no Options: %s", resp.Err)
	}

	resp = roundTrip(t, w, Request{Op: OpStat, Handle: "defaulted"})
	if resp.Err != "" {
		t.Fatalf("stat: %s", resp.Err)
	}
	if resp.Stat.WriteBufferSize != 0 {
		t.Errorf("write buffer size = %d, want 0 on a fresh index", resp.Stat.WriteBufferSize)
	}
}

func TestBuildWithExplicitOptionsIgnoresDefaults(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir, nil, nil)
	defaults := testEngineOptions()
	defaults.Vector.Dims = 99
	w.SetDefaults(defaults)

	resp := roundTrip(t, w, Request{Op: OpBuild, Handle: "explicit", Options: testEngineOptions(), Rows: []Row{
		{ExternalPointer: 0x1, Vector: vector.NewDenseF32([]float32{0, 0, 0})},
	}})
	if resp.Err != "" {
		t.Fatalf("build: %s", resp.Err)
	}
}

// TestServeFrameRoundTrip exercises the actual frame codec end to end over
// an in-memory net.Pipe, rather than calling dispatch directly.
func TestServeFrameRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWorker(dir, nil, nil)
	serverConn, clientConn := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- w.Serve(context.Background(), serverConn) }()

	client := newFrameConn(clientConn)
	if err := client.writeRequest(Request{Op: OpBuild, Handle: "idx", Options: testEngineOptions()}); err != nil {
		t.Fatal(err)
	}
	resp, err := client.readResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Err != "" {
		t.Fatalf("build over wire: %s", resp.Err)
	}

	clientConn.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v after client close, want nil", err)
	}
}
