// Package s1 implements S1 — Operations (spec §4.8): the units that execute
// work. Each S1 unit is a supervised actor wired to the rest of the VSM only
// through the EventBus and its s1->s2 VarietyChannel, never by a direct call
// into S2/S3. The per-request breaker/rate-limiter wrapping and the
// ticker-driven health loop follow the teacher's Worker idiom
// (internal/respool/worker.go); bounded-backlog-with-drop-newest follows
// internal/eventbus's bounded-subscriber-queue shape, inverted to
// drop-newest since spec §4.8 calls for that policy specifically (unlike the
// EventBus's drop-oldest).
package s1

import (
	"context"
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/breaker"
	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/ratelimit"
	"github.com/etalazz/vsm/internal/variety"
	"github.com/etalazz/vsm/internal/vsmerr"
)

// ControlMode is one of a unit's three mutually exclusive operating modes.
type ControlMode string

const (
	Normal        ControlMode = "normal"
	Throttled     ControlMode = "throttled"
	EmergencyStop ControlMode = "emergency_stop"
)

// Request is one unit of work submitted to process_request.
type Request struct {
	ID      string
	Payload any
	Handle  func(ctx context.Context) (any, error)
}

// Result mirrors process_request's {ok,result}|{error,reason} return shape.
type Result struct {
	OK     bool
	Result any
	Reason error
}

const backlogCapacity = 256

// Unit is one S1 operational unit.
type Unit struct {
	id      string
	cb      *breaker.Breaker
	limiter *ratelimit.Limiter
	outCh   *variety.Channel
	bus     *eventbus.Bus

	mu         sync.Mutex
	mode       ControlMode
	load       float64
	resources  map[string]int64
	errors     int64
	total      int64
	latencySum time.Duration
	backlog    int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs a unit. outCh is the unit's s1->s2 VarietyChannel.
func New(id string, cb *breaker.Breaker, limiter *ratelimit.Limiter, outCh *variety.Channel, bus *eventbus.Bus) *Unit {
	return &Unit{
		id:        id,
		cb:        cb,
		limiter:   limiter,
		outCh:     outCh,
		bus:       bus,
		mode:      Normal,
		resources: make(map[string]int64),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the unit's 1s health-tick loop.
func (u *Unit) Start() {
	u.wg.Add(1)
	go u.healthLoop()
}

// Stop stops the health-tick loop.
func (u *Unit) Stop() {
	close(u.stopChan)
	u.wg.Wait()
}

// ProcessRequest executes req under the unit's breaker and rate limiter.
// Bounded backlog: once backlogCapacity in-flight requests are outstanding,
// the newest request is dropped and a pain intensity-0.5 event is emitted
// (spec §4.8 "on overflow -> drop newest + pain").
func (u *Unit) ProcessRequest(ctx context.Context, req Request) Result {
	u.mu.Lock()
	if u.mode == EmergencyStop {
		u.mu.Unlock()
		return Result{Reason: vsmerr.ErrCircuitOpen}
	}
	if u.backlog >= backlogCapacity {
		u.mu.Unlock()
		u.emitPain(0.5)
		return Result{Reason: vsmerr.ErrOverflow}
	}
	u.backlog++
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.backlog--
		u.mu.Unlock()
	}()

	if !u.limiter.Allow(u.id) {
		u.recordOutcome(false, 0)
		return Result{Reason: vsmerr.ErrRateLimited}
	}

	start := time.Now()
	var out any
	err := u.cb.Call(ctx, func(cctx context.Context) error {
		res, herr := req.Handle(cctx)
		out = res
		return herr
	})
	elapsed := time.Since(start)
	metrics.ObserveLatency("s1:"+u.id, elapsed)
	u.recordOutcome(err == nil, elapsed)

	if err != nil {
		return Result{Reason: err}
	}
	return Result{OK: true, Result: out}
}

func (u *Unit) recordOutcome(ok bool, elapsed time.Duration) {
	u.mu.Lock()
	u.total++
	if !ok {
		u.errors++
	}
	u.latencySum += elapsed
	u.mu.Unlock()
}

// State mirrors get_state().
type State struct {
	UnitID        string
	Load          float64
	ResourcesHeld map[string]int64
	ControlMode   ControlMode
}

// GetState returns a snapshot of the unit's state.
func (u *Unit) GetState() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	held := make(map[string]int64, len(u.resources))
	for k, v := range u.resources {
		held[k] = v
	}
	return State{UnitID: u.id, Load: u.load, ResourcesHeld: held, ControlMode: u.mode}
}

// SetResourcesHeld records the resources currently reserved for this unit
// (as reported by S3), feeding get_state() and the load computation.
func (u *Unit) SetResourcesHeld(resourceType string, amount int64) {
	u.mu.Lock()
	u.resources[resourceType] = amount
	u.mu.Unlock()
}

// Throttle sets the unit's control mode to throttled. Per spec §4.8, control
// modes are only set in response to s3_control messages or
// emergency_algedonic broadcasts — callers are that wiring layer, not the
// unit's own logic.
func (u *Unit) Throttle() {
	u.mu.Lock()
	if u.mode != EmergencyStop {
		u.mode = Throttled
	}
	u.mu.Unlock()
}

// EmergencyStop sets the unit's control mode to emergency_stop.
func (u *Unit) EmergencyStop() {
	u.mu.Lock()
	u.mode = EmergencyStop
	u.mu.Unlock()
}

// Resume clears throttled/emergency_stop back to normal.
func (u *Unit) Resume() {
	u.mu.Lock()
	u.mode = Normal
	u.mu.Unlock()
}

func (u *Unit) emitPain(intensity float64) {
	if u.bus == nil {
		return
	}
	_, _ = u.bus.Publish("algedonic_pain", "s1:"+u.id, map[string]any{"intensity": intensity, "reason": "backlog_overflow"})
}

func (u *Unit) healthLoop() {
	defer u.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			u.healthTick()
		case <-u.stopChan:
			return
		}
	}
}

// healthTick computes a [0,1] health score from error rate, latency vs SLO,
// and resource pressure/backlog, publishes s1_health, and forwards an
// operational variety packet into S2 (spec §4.8).
func (u *Unit) healthTick() {
	u.mu.Lock()
	total, errs, latSum, backlog := u.total, u.errors, u.latencySum, u.backlog
	u.total, u.errors, u.latencySum = 0, 0, 0
	u.mu.Unlock()

	errRate := 0.0
	avgLatencyMS := 0.0
	if total > 0 {
		errRate = float64(errs) / float64(total)
		avgLatencyMS = float64(latSum.Milliseconds()) / float64(total)
	}
	latencyScore := 1.0
	const sloMS = 500.0
	if avgLatencyMS > sloMS {
		latencyScore = sloMS / avgLatencyMS
	}
	backlogPressure := float64(backlog) / float64(backlogCapacity)

	health := (1 - errRate) * latencyScore * (1 - backlogPressure)
	if health < 0 {
		health = 0
	}
	if health > 1 {
		health = 1
	}

	u.mu.Lock()
	u.load = backlogPressure
	u.mu.Unlock()

	metrics.SetSubsystemHealth("s1:"+u.id, health)
	if u.bus != nil {
		_, _ = u.bus.Publish("s1_health", "s1:"+u.id, map[string]any{"health": health})
	}
	if u.outCh != nil {
		_ = u.outCh.Transmit(variety.Packet{Type: variety.Operational, Volume: int(total), Timestamp: time.Now()})
	}
	if health < 1-0.85 {
		u.emitPain(1 - health)
	}
}
