// Package s3 implements S3 — Control (spec §4.10): closes the loop back to
// S1, deciding allocations from the resource pools' own totals and
// allocations (it reads neither S2's coordination state nor S5's
// constraints), and owns the resource pools in internal/respool (spec §5 "Resource pools
// in S3 are owned by S3 alone"). The audit log and debounced-intervention
// idempotence follow the teacher's Worker commit-cycle idiom
// (internal/respool/worker.go): a bounded in-memory ring flushed/queried on
// demand rather than a blocking call per intervention.
package s3

import (
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/respool"
)

// Mode is one of S3's four control states.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeMonitoring  Mode = "monitoring"
	ModeIntervening Mode = "intervening"
	ModeEmergency   Mode = "emergency"
)

// debounceWindow collapses repeated identical interventions (spec §4.10).
const debounceWindow = 500 * time.Millisecond

// emergencyExitHealth and emergencyExitSustain gate leaving ModeEmergency:
// health must stay above emergencyExitHealth for this long (spec §4.10).
const (
	emergencyExitHealth  = 0.7
	emergencyExitSustain = 10 * time.Second
)

const auditRingCap = 500

// AuditEntry records one intervention for get_audit_trail (spec §4.10).
type AuditEntry struct {
	Target    string
	Action    string
	Inputs    map[string]any
	Decision  string
	Outcome   error
	Timestamp time.Time
}

// Control is S3's control actor.
type Control struct {
	pool *respool.Pool
	bus  *eventbus.Bus

	mu              sync.Mutex
	mode            Mode
	audit           []AuditEntry
	lastIntervened  map[string]time.Time // target:action:resourceType -> last fire, for debounce
	healthySince    time.Time
	healthyStreakOK bool
}

// New constructs a Control actor. pool is the shared resource pool it owns.
func New(pool *respool.Pool, bus *eventbus.Bus) *Control {
	return &Control{
		pool:           pool,
		bus:            bus,
		mode:           ModeNormal,
		lastIntervened: make(map[string]time.Time),
	}
}

// GetControlState mirrors get_control_state().
type GetControlState struct {
	Mode Mode
}

func (c *Control) GetControlState() GetControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GetControlState{Mode: c.mode}
}

// GetAuditTrail returns every audit entry within the last window.
func (c *Control) GetAuditTrail(window time.Duration) []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []AuditEntry
	for _, e := range c.audit {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// OnEmergencyAlgedonic transitions into ModeEmergency (spec §4.10: entered
// on an emergency_algedonic or an S5 override).
func (c *Control) OnEmergencyAlgedonic() {
	c.mu.Lock()
	c.mode = ModeEmergency
	c.healthyStreakOK = false
	c.mu.Unlock()
	c.publishControl()
}

// OnS5Override transitions into ModeEmergency in response to an S5 override.
func (c *Control) OnS5Override() {
	c.OnEmergencyAlgedonic()
}

// ObserveHealth feeds the current aggregate S1 health into the emergency
// exit condition: health must stay above emergencyExitHealth for
// emergencyExitSustain before the mode steps back down to monitoring.
func (c *Control) ObserveHealth(health float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeEmergency {
		metrics.SetSubsystemHealth("s3", health)
		return
	}
	if health <= emergencyExitHealth {
		c.healthyStreakOK = false
		return
	}
	if !c.healthyStreakOK {
		c.healthyStreakOK = true
		c.healthySince = time.Now()
		return
	}
	if time.Since(c.healthySince) >= emergencyExitSustain {
		c.mode = ModeMonitoring
		c.healthyStreakOK = false
	}
}

func (c *Control) publishControl() {
	if c.bus == nil {
		return
	}
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	_, _ = c.bus.Publish("s3_control", "s3", map[string]any{"mode": string(mode)})
}

func (c *Control) publishHealth(health float64) {
	if c.bus == nil {
		return
	}
	_, _ = c.bus.Publish("s3_health", "s3", map[string]any{"health": health})
}
