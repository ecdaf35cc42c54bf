package versionmap

import (
	"sync"
	"testing"
)

func TestBumpThenTombstoneOnlyLiveVersionMatches(t *testing.T) {
	m := New(4)
	vp := m.Bump(100)
	if !m.IsLive(vp) {
		t.Fatal("expected freshly bumped pointer to be live")
	}
	m.Tombstone(100)
	if m.IsLive(vp) {
		t.Fatal("expected tombstoned pointer to no longer be live")
	}
}

func TestBumpIncrementsVersionOnReinsert(t *testing.T) {
	m := New(4)
	first := m.Bump(7)
	m.Tombstone(7)
	second := m.Bump(7)

	if first.Version() == second.Version() {
		t.Fatalf("expected distinct versions, got %d twice", first.Version())
	}
	if m.IsLive(first) {
		t.Fatal("stale version must not be live")
	}
	if !m.IsLive(second) {
		t.Fatal("latest version must be live")
	}
}

func TestLiveCountMatchesBumpedMinusTombstoned(t *testing.T) {
	m := New(8)
	for i := uint64(0); i < 10; i++ {
		m.Bump(i)
	}
	for i := uint64(0); i < 4; i++ {
		m.Tombstone(i)
	}
	if got := m.LiveCount(); got != 6 {
		t.Fatalf("LiveCount() = %d, want 6", got)
	}
}

func TestConcurrentBumpAcrossShards(t *testing.T) {
	m := New(16)
	var wg sync.WaitGroup
	for i := uint64(0); i < 256; i++ {
		wg.Add(1)
		go func(p uint64) {
			defer wg.Done()
			m.Bump(p)
		}(i)
	}
	wg.Wait()
	if got := m.LiveCount(); got != 256 {
		t.Fatalf("LiveCount() = %d, want 256", got)
	}
}

func TestPackSplitRoundTrip(t *testing.T) {
	vp := Pack(0xABCDEF, 42)
	p, v := vp.Split()
	if p != 0xABCDEF || v != 42 {
		t.Fatalf("got pointer=%x version=%d", p, v)
	}
}
