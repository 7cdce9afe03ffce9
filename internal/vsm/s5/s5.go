// Package s5 implements S5 — Policy (spec §4.12): the top of the hierarchy.
// Holds system identity and evaluates decisions against it, fanning out
// constraint changes as s5_policy events on the EventBus. The violation-window
// tracking (>=5 within 60s triggers identity_crisis pain) follows the same
// sliding-window shape as internal/algedonic's critical-signal tracker
// (emit.go's critical60s), since both are "N events in a trailing window"
// counters.
package s5

import (
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
)

// violationWindow and violationThreshold gate identity_crisis pain
// (spec §4.12).
const (
	violationWindow    = 60 * time.Second
	violationThreshold = 5
)

// Identity is S5's held system identity (spec §4.12). Purpose is immutable
// after construction; only Values/Constraints/Coherence may change.
type Identity struct {
	Purpose     string
	Values      []string
	Constraints map[string]any
	Coherence   float64
}

// Decision is one evaluate_decision(d) input.
type Decision struct {
	Actor  string
	Action string
	Target string
}

// Verdict mirrors evaluate_decision's {ok|violation, reasons} return.
type Verdict struct {
	OK      bool
	Reasons []string
}

// Validator checks a Decision against a named policy rule. Registered rules
// run in registration order; the first violation short-circuits.
type Validator func(Identity, Decision) (ok bool, reason string)

// Policy is S5's policy actor.
type Policy struct {
	bus *eventbus.Bus

	mu         sync.Mutex
	identity   Identity
	validators []Validator
	violations []time.Time
}

// New constructs a Policy holding the given identity. purpose is fixed at
// construction and never changes afterward (spec §4.12 "never mutates
// purpose").
func New(purpose string, values []string, bus *eventbus.Bus) *Policy {
	return &Policy{
		bus: bus,
		identity: Identity{
			Purpose:     purpose,
			Values:      append([]string(nil), values...),
			Constraints: make(map[string]any),
			Coherence:   1.0,
		},
	}
}

// AddValidator registers a policy/identity/ethical check run by
// EvaluateDecision.
func (p *Policy) AddValidator(v Validator) {
	p.mu.Lock()
	p.validators = append(p.validators, v)
	p.mu.Unlock()
}

// GetIdentity implements get_identity() (spec §4.12).
func (p *Policy) GetIdentity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.identity
	cp.Values = append([]string(nil), p.identity.Values...)
	cp.Constraints = make(map[string]any, len(p.identity.Constraints))
	for k, v := range p.identity.Constraints {
		cp.Constraints[k] = v
	}
	return cp
}

// SetConstraint implements set_constraint(key, value) (spec §4.12) and
// publishes the update as an s5_policy event.
func (p *Policy) SetConstraint(key string, value any) {
	p.mu.Lock()
	p.identity.Constraints[key] = value
	p.mu.Unlock()
	p.publishConstraint(key, value)
}

func (p *Policy) publishConstraint(key string, value any) {
	if p.bus == nil {
		return
	}
	_, _ = p.bus.Publish("s5_policy", "s5", map[string]any{"key": key, "value": value})
}

// EvaluateDecision implements evaluate_decision(d) (spec §4.12): runs every
// registered validator, collecting reasons for any that fail. A failing
// decision counts toward the 60s violation window.
func (p *Policy) EvaluateDecision(d Decision) Verdict {
	p.mu.Lock()
	identity := p.identity
	validators := append([]Validator(nil), p.validators...)
	p.mu.Unlock()

	var reasons []string
	for _, v := range validators {
		if ok, reason := v(identity, d); !ok {
			reasons = append(reasons, reason)
		}
	}
	if len(reasons) == 0 {
		return Verdict{OK: true}
	}
	p.recordViolation()
	return Verdict{OK: false, Reasons: reasons}
}

func (p *Policy) recordViolation() {
	now := time.Now()
	p.mu.Lock()
	p.violations = append(p.violations, now)
	cutoff := now.Add(-violationWindow)
	kept := p.violations[:0]
	for _, t := range p.violations {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.violations = kept
	count := len(p.violations)
	p.mu.Unlock()

	if count >= violationThreshold {
		p.emitIdentityCrisis()
	}
}

func (p *Policy) emitIdentityCrisis() {
	if p.bus == nil {
		return
	}
	_, _ = p.bus.Publish("algedonic_pain", "s5", map[string]any{
		"kind":      "identity_crisis",
		"intensity": 1.0,
	})
}

// EmergencyOverride implements emergency_override(sig) (spec §4.12): S5's
// response to an algedonic emergency scream is to force every subsystem
// into its most conservative posture. This call publishes the override's
// source and reason as an s5_emergency_override event.
func (p *Policy) EmergencyOverride(source, reason string) {
	if p.bus == nil {
		return
	}
	_, _ = p.bus.Publish("s5_emergency_override", "s5", map[string]any{
		"source": source,
		"reason": reason,
	})
}
