// Package s2 implements S2 — Coordination (spec §4.9): prevents oscillation
// between S1 units competing for shared resources. The conflict ring and
// per-unit-pair grouping follow the teacher's bounded-history style (ring
// buffers capped and scanned in windows, as in pkg/vsa's stripe scan);
// resolution strategies and dampening are transcribed directly from spec
// §4.9 since no pack example implements contention arbitration.
package s2

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ResourceClass is one of the five request classifications (spec §4.9).
type ResourceClass string

const (
	CPU       ResourceClass = "cpu"
	Memory    ResourceClass = "memory"
	IO        ResourceClass = "io"
	Network   ResourceClass = "network"
	Exclusive ResourceClass = "exclusive"
)

// perResourceCap is the summed-consumption ceiling before a request
// conflicts with existing allocations (spec §4.9).
var perResourceCap = map[ResourceClass]float64{
	CPU:     0.80,
	Memory:  0.80,
	IO:      0.50,
	Network: 1.00,
}

// Strategy picks how a conflict is resolved.
type Strategy string

const (
	PriorityBased Strategy = "priority_based"
	Cooperative   Strategy = "cooperative"
	RoundRobin    Strategy = "round_robin"
)

// CoordRequest is one unit's resource ask.
type CoordRequest struct {
	Unit     string
	Class    ResourceClass
	Resource string
	Amount   float64 // fraction of the resource's capacity, in [0,1]
}

// CoordResult mirrors coordinate_request's {ok,allocation}|{wait,delay}.
type CoordResult struct {
	OK         bool
	Allocation float64
	Wait       bool
	Delay      time.Duration
}

type allocation struct {
	unit     string
	resource string
	class    ResourceClass
	amount   float64
	at       time.Time
}

// conflict is one recorded contention event (spec §3 S2 conflict log).
type conflict struct {
	units    [2]string
	resource string
	at       time.Time
}

const conflictRingCap = 100

// PatternSink receives detected oscillation patterns for forwarding into S4
// (spec §4.9 "forwards patterns to S4").
type PatternSink interface {
	ReportPattern(kind string, unitPair [2]string, severity float64)
}

// DampenSink receives dampening commands to publish onto the EventBus.
type DampenSink interface {
	PublishDampening(unitPair [2]string, strategy string, severity float64)
}

// Coordinator is S2's coordination actor.
type Coordinator struct {
	strategy Strategy
	patterns PatternSink
	dampen   DampenSink

	mu          sync.Mutex
	allocations []allocation
	conflicts   []conflict
	rrCounter   map[string]int
	dampened    map[[2]string]time.Time
}

// New constructs a Coordinator using strategy (default PriorityBased).
func New(strategy Strategy, patterns PatternSink, dampen DampenSink) *Coordinator {
	if strategy == "" {
		strategy = PriorityBased
	}
	return &Coordinator{
		strategy:  strategy,
		patterns:  patterns,
		dampen:    dampen,
		rrCounter: make(map[string]int),
		dampened:  make(map[[2]string]time.Time),
	}
}

// CoordinateRequest implements coordinate_request (spec §4.9).
func (c *Coordinator) CoordinateRequest(req CoordRequest) CoordResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	conflicting := c.findConflicts(req)
	if len(conflicting) == 0 {
		c.allocations = append(c.allocations, allocation{unit: req.Unit, resource: req.Resource, class: req.Class, amount: req.Amount, at: time.Now()})
		return CoordResult{OK: true, Allocation: req.Amount}
	}

	for _, other := range conflicting {
		c.recordConflict(req.Unit, other.unit, req.Resource)
	}

	switch c.strategy {
	case Cooperative:
		alloc := req.Amount / 2
		c.allocations = append(c.allocations, allocation{unit: req.Unit, resource: req.Resource, class: req.Class, amount: alloc, at: time.Now()})
		return CoordResult{OK: true, Allocation: alloc}
	case RoundRobin:
		c.rrCounter[req.Resource]++
		if c.rrCounter[req.Resource]%2 == 0 {
			c.allocations = append(c.allocations, allocation{unit: req.Unit, resource: req.Resource, class: req.Class, amount: req.Amount, at: time.Now()})
			return CoordResult{OK: true, Allocation: req.Amount}
		}
		return CoordResult{Wait: true, Delay: 50 * time.Millisecond}
	default: // PriorityBased
		if c.hasPriority(req.Unit, conflicting) {
			c.allocations = append(c.allocations, allocation{unit: req.Unit, resource: req.Resource, class: req.Class, amount: req.Amount, at: time.Now()})
			return CoordResult{OK: true, Allocation: req.Amount}
		}
		return CoordResult{Wait: true, Delay: 100 * time.Millisecond}
	}
}

// findConflicts returns existing allocations on the same resource that
// collide with req: an exclusive collision, or summed consumption exceeding
// the resource class's cap.
func (c *Coordinator) findConflicts(req CoordRequest) []allocation {
	var hits []allocation
	sum := req.Amount
	for _, a := range c.allocations {
		if a.resource != req.Resource {
			continue
		}
		if req.Class == Exclusive || a.class == Exclusive {
			hits = append(hits, a)
			continue
		}
		sum += a.amount
		ceiling, ok := perResourceCap[req.Class]
		if ok && sum > ceiling {
			hits = append(hits, a)
		}
	}
	return hits
}

// hasPriority compares unit-id digits lexicographically, falling back to
// alphabetical (spec §4.9).
func (c *Coordinator) hasPriority(unit string, others []allocation) bool {
	for _, o := range others {
		if priorityLess(o.unit, unit) {
			return false
		}
	}
	return true
}

func priorityLess(a, b string) bool {
	da, db := digitsOf(a), digitsOf(b)
	if da != db {
		return da < db
	}
	return strings.Compare(a, b) < 0
}

func digitsOf(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ReportConflict implements report_conflict for callers that detect
// contention outside CoordinateRequest (e.g. a downstream resource denial).
func (c *Coordinator) ReportConflict(u1, u2, resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordConflict(u1, u2, resource)
}

// recordConflict must be called with c.mu held. It appends to the bounded
// conflict ring and, after appending, checks whether the pair's recent
// history now qualifies as an oscillation (spec §4.9).
func (c *Coordinator) recordConflict(u1, u2, resource string) {
	pair := [2]string{u1, u2}
	sort.Strings(pair[:])
	c.conflicts = append(c.conflicts, conflict{units: pair, resource: resource, at: time.Now()})
	if len(c.conflicts) > conflictRingCap {
		c.conflicts = c.conflicts[len(c.conflicts)-conflictRingCap:]
	}
	c.checkOscillation(pair)
}

// CoordinationState mirrors get_coordination_state().
type CoordinationState struct {
	ActiveAllocations int
	RecentConflicts   int
	Efficiency        float64
}

// GetCoordinationState computes the efficiency at call time while holding
// the coordinator lock (Open Question #1, DESIGN.md); there is no periodic
// tick or deferred recompute.
func (c *Coordinator) GetCoordinationState() CoordinationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoordinationState{
		ActiveAllocations: len(c.allocations),
		RecentConflicts:   len(c.conflicts),
		Efficiency:        c.calculateCoordinationEfficiency(),
	}
}

// calculateCoordinationEfficiency must be called with c.mu held.
func (c *Coordinator) calculateCoordinationEfficiency() float64 {
	if len(c.allocations) == 0 {
		return 1.0
	}
	eff := 1.0 - float64(len(c.conflicts))/float64(len(c.allocations)+len(c.conflicts))
	if eff < 0 {
		eff = 0
	}
	return eff
}
