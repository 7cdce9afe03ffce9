package hlc

import (
	"testing"
	"time"
)

func TestNow_MonotonicNonDecreasing(t *testing.T) {
	c := New("n1")
	var last Timestamp
	for i := 0; i < 1000; i++ {
		ts := c.Now()
		if i > 0 && ts.Less(last) {
			t.Fatalf("HLC went backwards: %+v then %+v", last, ts)
		}
		last = ts
	}
}

func TestNow_SameMillisecondIncrementsLogical(t *testing.T) {
	fixed := time.UnixMilli(1000)
	c := New("n1")
	c.now = func() time.Time { return fixed }

	a := c.Now()
	b := c.Now()
	if a.PhysicalMS != b.PhysicalMS {
		t.Fatalf("expected same physical time, got %d and %d", a.PhysicalMS, b.PhysicalMS)
	}
	if b.Logical != a.Logical+1 {
		t.Fatalf("expected logical to increment, got %d -> %d", a.Logical, b.Logical)
	}
}

func TestNow_WallClockAdvanceResetsLogical(t *testing.T) {
	tm := time.UnixMilli(1000)
	c := New("n1")
	c.now = func() time.Time { return tm }

	a := c.Now()
	c.Now()
	tm = time.UnixMilli(2000)
	b := c.Now()
	if b.PhysicalMS != 2000 || b.Logical != 0 {
		t.Fatalf("expected reset to (2000,0), got (%d,%d)", b.PhysicalMS, b.Logical)
	}
	if !a.Less(b) {
		t.Fatalf("expected %+v < %+v", a, b)
	}
}

func TestUpdate_MergesRemoteAheadOfLocal(t *testing.T) {
	tm := time.UnixMilli(1000)
	c := New("n1")
	c.now = func() time.Time { return tm }

	remote := Timestamp{PhysicalMS: 5000, Logical: 3, NodeID: "n2"}
	merged := c.Update(remote)
	if merged.PhysicalMS != 5000 {
		t.Fatalf("expected physical 5000, got %d", merged.PhysicalMS)
	}
	if merged.Logical != 4 {
		t.Fatalf("expected logical 4 (remote rl+1), got %d", merged.Logical)
	}
	if merged.NodeID != "n1" {
		t.Fatalf("merged timestamp should carry local node id, got %q", merged.NodeID)
	}
}

func TestUpdate_LocalAheadOfRemoteIncrementsLogical(t *testing.T) {
	tm := time.UnixMilli(9000)
	c := New("n1")
	c.now = func() time.Time { return tm }
	c.Now() // physical=9000, logical=0

	remote := Timestamp{PhysicalMS: 1000, Logical: 9, NodeID: "n2"}
	merged := c.Update(remote)
	if merged.PhysicalMS != 9000 || merged.Logical != 1 {
		t.Fatalf("expected (9000,1), got (%d,%d)", merged.PhysicalMS, merged.Logical)
	}
}

func TestTimestampOrdering(t *testing.T) {
	a := Timestamp{PhysicalMS: 10, Logical: 0, NodeID: "a"}
	b := Timestamp{PhysicalMS: 10, Logical: 1, NodeID: "a"}
	c := Timestamp{PhysicalMS: 11, Logical: 0, NodeID: "a"}
	if !a.Less(b) || !b.Less(c) || a.Less(a) {
		t.Fatal("ordering invariant violated")
	}
}

func TestFallbackTaggedEmergency(t *testing.T) {
	ts := Fallback(time.UnixMilli(42))
	if ts.NodeID != "emergency_fallback" {
		t.Fatalf("expected emergency_fallback node id, got %q", ts.NodeID)
	}
}
