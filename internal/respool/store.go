// Package respool implements S3's resource pools (spec §4.10): named
// capacity pools (cpu, memory, io, network) from which subsystems reserve
// and release units, each pool enforcing Σreservations = allocated ≤ total.
//
// Each pool is backed by a pkg/vsa accumulator: the durable scalar S is the
// pool's total capacity and the volatile vector V is the net amount
// currently reserved, so Available() is exactly total-allocated for free.
// The registry-of-accumulators shape (one VSA per key behind a sync.Map,
// lazily created on first touch, reaped by a background worker) is
// grounded on the teacher's rate-limiter Store
// (internal/ratelimiter/core/store.go); here the key is a resource type
// instead of a client id, and each entry additionally keeps a per-unit
// ledger so a caller can name which unit holds which reservation.
package respool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/etalazz/vsm/pkg/vsa"
)

// reservation wraps one resource type's VSA accumulator together with the
// per-unit ledger needed to answer "who is holding what" and to validate
// that a Release names an amount actually held by that unit.
type reservation struct {
	instance     *vsa.VSA
	lastAccessed int64 // UnixNano, atomic
	armed        atomic.Bool

	ledgerMu sync.Mutex
	ledger   map[string]int64 // unit -> amount currently reserved
}

func (r *reservation) touch() {
	atomic.StoreInt64(&r.lastAccessed, time.Now().UnixNano())
}

// Pool is the registry of per-resource-type reservations. Construct one
// Pool per VSMSupervisor instance and share it with S1-S4.
type Pool struct {
	resources     sync.Map // resource type -> *reservation
	initialScalar int64
	vsaOptions    vsa.Options
}

// New creates a Pool whose resource types are created lazily on first
// Reserve/Release, each seeded with the given total capacity.
func New(totalCapacity int64) *Pool {
	return NewWithOptions(totalCapacity, vsa.Options{})
}

// NewWithOptions is New with explicit VSA striping options.
func NewWithOptions(totalCapacity int64, opts vsa.Options) *Pool {
	return &Pool{initialScalar: totalCapacity, vsaOptions: opts}
}

func (p *Pool) getOrCreate(resourceType string) *reservation {
	if actual, ok := p.resources.Load(resourceType); ok {
		r := actual.(*reservation)
		r.touch()
		return r
	}
	r := &reservation{
		instance: vsa.NewWithOptions(p.initialScalar, p.vsaOptions),
		ledger:   make(map[string]int64),
	}
	r.touch()
	r.armed.Store(true)
	if actual, loaded := p.resources.LoadOrStore(resourceType, r); loaded {
		got := actual.(*reservation)
		got.touch()
		return got
	}
	return r
}

// Total returns a resource type's durable capacity.
func (p *Pool) Total(resourceType string) int64 {
	s, _ := p.getOrCreate(resourceType).instance.State()
	return s
}

// Allocated returns the net amount currently reserved for a resource type.
func (p *Pool) Allocated(resourceType string) int64 {
	_, v := p.getOrCreate(resourceType).instance.State()
	return v
}

// Available returns total-allocated for a resource type.
func (p *Pool) Available(resourceType string) int64 {
	return p.getOrCreate(resourceType).instance.Available()
}

// ResourceTypes returns every resource type currently tracked by the pool,
// for callers outside this package that cannot reference *reservation.
func (p *Pool) ResourceTypes() []string {
	var types []string
	p.resources.Range(func(key, _ interface{}) bool {
		types = append(types, key.(string))
		return true
	})
	return types
}

// ForEach iterates every resource type currently tracked by the pool.
func (p *Pool) ForEach(f func(resourceType string, r *reservation)) {
	p.resources.Range(func(key, value interface{}) bool {
		f(key.(string), value.(*reservation))
		return true
	})
}

// delete removes a resource type's bookkeeping entirely. Used by the
// eviction worker once a resource type has been idle and fully released.
func (p *Pool) delete(resourceType string) {
	if v, ok := p.resources.LoadAndDelete(resourceType); ok {
		v.(*reservation).instance.Close()
	}
}

// CloseAll stops background work for every tracked resource type.
func (p *Pool) CloseAll() {
	p.resources.Range(func(_, value interface{}) bool {
		value.(*reservation).instance.Close()
		return true
	})
}
