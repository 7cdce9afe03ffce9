// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vsa provides a thread-safe, in-memory implementation of the
// Vector-Scalar Accumulator pattern: a durable scalar budget S paired with a
// volatile, striped in-memory vector V of not-yet-settled change, such that
// Available = S - |V|. It is the counter engine behind the S3 resource
// reservation pool (internal/respool): a bounded quantity checked-and-consumed
// at high concurrency and only occasionally settled to durable storage.
package vsa

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// cache line size varies; we over-pad to 128 bytes to avoid false sharing
const padSize = 128 - 8 // atomic.Int64 is 8 bytes; remainder to reach >=128

type stripe struct {
	val atomic.Int64
	_   [padSize]byte
}

// VSA is a thread-safe, in-memory data structure for Vector-Scalar Accumulation.
type VSA struct {
	// scalar is the durable base value (settled elsewhere, e.g. audit storage).
	scalar atomic.Int64

	// committedOffset accumulates amounts already committed to storage.
	// Effective in-memory vector = sum(stripes) - committedOffset.
	committedOffset atomic.Int64

	// per-CPU-like stripes to reduce contention on hot keys
	stripes []stripe
	mask    int // stripes-1 (power-of-two mask)

	// chooser spreads updates across stripes on the Update path
	chooser atomic.Uint64
	// rr is a round-robin counter used only under tryMu to avoid an atomic in gated paths
	rr uint64

	// approximate net vector maintained by operations, used for fast-path gating
	approxNet atomic.Int64

	// Small critical section for TryConsume/TryRefund/Commit to preserve gating semantics.
	tryMu sync.Mutex

	// fastPathGuard > 0 enables a lock-free fast path in TryConsume when the
	// approximate net is far enough from the limit.
	fastPathGuard int64
}

// Options configures VSA construction.
type Options struct {
	// Stripes sets the number of striped counters to reduce contention.
	// 0 uses the default: nextPow2(clamp(GOMAXPROCS, [8,64])).
	Stripes int
	// FastPathGuard > 0 enables a lock-free fast path in TryConsume when the
	// approximate net is far enough from the threshold. The guard is the
	// safety distance kept from the limit.
	FastPathGuard int64
}

// NewWithOptions creates and initializes a VSA with explicit options.
func NewWithOptions(initialScalar int64, opts Options) *VSA {
	var s int
	if opts.Stripes > 0 {
		s = nextPow2(clamp(opts.Stripes, 8, 64))
	} else {
		p := runtime.GOMAXPROCS(0)
		s = nextPow2(clamp(p, 8, 64))
	}
	v := &VSA{stripes: make([]stripe, s), mask: s - 1}
	v.scalar.Store(initialScalar)
	if opts.FastPathGuard > 0 {
		v.fastPathGuard = opts.FastPathGuard
	}
	return v
}

// New creates and initializes a new VSA instance with default options.
// initialScalar should be the durable budget (e.g. a rate limit, or a
// resource pool's total capacity).
func New(initialScalar int64) *VSA {
	return NewWithOptions(initialScalar, Options{})
}

// Update applies a change to the VSA's volatile vector. Hot path: lock-free
// atomic add on a chosen stripe.
func (v *VSA) Update(value int64) {
	idx := int(v.chooser.Add(1)) & v.mask
	v.stripes[idx].val.Add(value)
	v.approxNet.Add(value)
}

// Available returns the real-time available amount: S - |A_net|.
func (v *VSA) Available() int64 {
	s := v.scalar.Load()
	net := v.currentVector()
	return s - abs(net)
}

// State returns the current scalar and effective vector values.
func (v *VSA) State() (scalar, vector int64) {
	return v.scalar.Load(), v.currentVector()
}

// CheckCommit determines if a commit is required for the given threshold.
// It returns (true, vector) when |vector| >= threshold.
func (v *VSA) CheckCommit(threshold int64) (bool, int64) {
	net := v.currentVector()
	if abs(net) >= threshold {
		return true, net
	}
	return false, 0
}

// Commit adjusts the internal state after a successful durable write.
// S_new = S_old - |A_net_committed|, and the in-memory vector is moved toward
// zero by the same amount. Stripes are never swept (Update stays lock-free); instead a
// committedOffset tracks what has already been settled.
func (v *VSA) Commit(committedVector int64) {
	if committedVector == 0 {
		return
	}
	v.tryMu.Lock()
	defer v.tryMu.Unlock()
	// The vector passed in may be stale relative to concurrent TryConsume /
	// TryRefund calls. Recompute the current net and only commit up to its
	// magnitude, in the net's current direction, to preserve
	// Available = S - |net| under concurrency.
	net := v.currentVector()
	if net == 0 {
		return
	}
	mag := abs(committedVector)
	if mag > abs(net) {
		mag = abs(net)
	}
	var delta int64
	if net > 0 {
		delta = mag
	} else {
		delta = -mag
	}
	v.scalar.Add(-abs(delta))
	v.committedOffset.Add(delta)
	v.approxNet.Add(-delta)
}

// TryConsume atomically checks whether at least n units are available and, if
// so, consumes them by incrementing the volatile vector. Uses a tiny critical
// section to ensure no oversubscription under contention while keeping
// Update lock-free.
func (v *VSA) TryConsume(n int64) bool {
	if n <= 0 {
		return false
	}
	if v.fastPathGuard > 0 {
		s := v.scalar.Load()
		approx := v.approxNet.Load()
		if s-abs(approx) >= n+v.fastPathGuard {
			idx := int(v.chooser.Add(1)) & v.mask
			v.stripes[idx].val.Add(n)
			v.approxNet.Add(n)
			return true
		}
	}
	v.tryMu.Lock()
	defer v.tryMu.Unlock()
	avail := v.scalar.Load() - abs(v.currentVector())
	if avail < n {
		return false
	}
	idx := int(v.rr) & v.mask
	v.rr++
	v.stripes[idx].val.Add(n)
	v.approxNet.Add(n)
	return true
}

// TryRefund attempts to refund (undo) up to n units from the current positive
// in-memory vector without making the net vector go negative. Returns true if
// any refund was applied.
func (v *VSA) TryRefund(n int64) bool {
	if n <= 0 {
		return false
	}
	v.tryMu.Lock()
	defer v.tryMu.Unlock()
	net := v.currentVector()
	if net <= 0 {
		return false
	}
	if n > net {
		n = net
	}
	idx := int(v.rr) & v.mask
	v.rr++
	v.stripes[idx].val.Add(-n)
	v.approxNet.Add(-n)
	return true
}

// currentVector computes the effective in-memory vector: sum(stripes) - committedOffset.
func (v *VSA) currentVector() int64 {
	var sum int64
	for i := range v.stripes {
		sum += v.stripes[i].val.Load()
	}
	return sum - v.committedOffset.Load()
}

// Close releases background resources held by the VSA. Kept for lifecycle
// symmetry with callers (e.g. the resource pool) that manage one VSA per key
// and want a uniform teardown call even though this VSA variant runs no
// background goroutine.
func (v *VSA) Close() {}

// ---- helpers ----

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func nextPow2(x int) int {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
