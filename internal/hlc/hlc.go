// Package hlc implements the process-wide Hybrid Logical Clock (spec §4.1):
// a single contention point producing totally-ordered (physical_ms, logical,
// node_id) timestamps. Like the EventBus, it is a legitimate process-wide
// singleton (spec §9 "Global state") — no other package holds
// process-wide mutable state of its own.
package hlc

import (
	"sync"
	"time"
)

// Timestamp is a single HLC reading. Total order is lexicographic on
// (PhysicalMS, Logical, NodeID).
type Timestamp struct {
	PhysicalMS uint64
	Logical    uint32
	NodeID     string
}

// Less reports whether t sorts before o in the HLC total order.
func (t Timestamp) Less(o Timestamp) bool {
	if t.PhysicalMS != o.PhysicalMS {
		return t.PhysicalMS < o.PhysicalMS
	}
	if t.Logical != o.Logical {
		return t.Logical < o.Logical
	}
	return t.NodeID < o.NodeID
}

// Equal reports whether t and o are the identical triple.
func (t Timestamp) Equal(o Timestamp) bool {
	return t.PhysicalMS == o.PhysicalMS && t.Logical == o.Logical && t.NodeID == o.NodeID
}

// emergencyFallbackNode tags timestamps minted without reaching the clock's
// single contention point (spec §4.1).
const emergencyFallbackNode = "emergency_fallback"

// Clock is the node-local HLC state. A single Clock should be shared
// process-wide; construct one with New and pass it to every subsystem that
// needs to mint or merge timestamps.
type Clock struct {
	mu       sync.Mutex
	physical uint64
	logical  uint32
	nodeID   string
	now      func() time.Time // overridable for tests
}

// New creates a Clock for the given node id.
func New(nodeID string) *Clock {
	return &Clock{nodeID: nodeID, now: time.Now}
}

// Now mints a new HLC timestamp for a local event, advancing the clock per
// the spec §4.1 update rule:
//
//	read wall clock w; if w > p, (p,l) <- (w,0); else l <- l+1.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := uint64(c.now().UnixMilli())
	if w > c.physical {
		c.physical = w
		c.logical = 0
	} else {
		c.logical++
	}
	return Timestamp{PhysicalMS: c.physical, Logical: c.logical, NodeID: c.nodeID}
}

// Update merges a remote timestamp into the clock and mints the resulting
// local timestamp, per the spec §4.1 receive rule.
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := uint64(c.now().UnixMilli())
	p, l := c.physical, c.logical
	rp, rl := remote.PhysicalMS, remote.Logical

	newP := max3(p, rp, w)
	var newL uint32
	switch {
	case newP == p && newP == rp && newP == w:
		newL = maxU32(l, rl) + 1
	case newP == p && newP == w:
		newL = l + 1
	case newP == rp:
		newL = rl + 1
	default:
		newL = 0
	}
	c.physical, c.logical = newP, newL
	return Timestamp{PhysicalMS: c.physical, Logical: c.logical, NodeID: c.nodeID}
}

// NowWithRetry attempts Now via a bounded exponential backoff (<=3 attempts)
// and falls back to a local, untracked timestamp tagged "emergency_fallback"
// if the clock cannot be reached. Now() never itself fails (it is a plain
// mutex, not a remote call), so this exists for callers that wrap the clock
// behind a channel or RPC boundary and need the documented fallback
// behavior; tryFn models that boundary.
func (c *Clock) NowWithRetry(tryFn func() (Timestamp, error)) Timestamp {
	backoff := time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if ts, err := tryFn(); err == nil {
			return ts
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return Timestamp{
		PhysicalMS: uint64(c.now().UnixMilli()),
		Logical:    0,
		NodeID:     emergencyFallbackNode,
	}
}

// Fallback mints an emergency timestamp directly, for callers (e.g. the
// algedonic channel's emergency_scream) that must never block waiting on the
// shared clock.
func Fallback(now time.Time) Timestamp {
	return Timestamp{PhysicalMS: uint64(now.UnixMilli()), Logical: 0, NodeID: emergencyFallbackNode}
}

func max3(a, b, c uint64) uint64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
