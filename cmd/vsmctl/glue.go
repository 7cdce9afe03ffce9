package main

import (
	"fmt"
	"time"

	"github.com/etalazz/vsm/internal/config"
	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/vsm/s4"
)

// wireCrossLinks subscribes to the bus topics spec §6's table assigns
// cross-subsystem consumers to, so S1-S5 and the algedonic channel
// coordinate purely by message passing (spec §5 "Coordination happens
// exclusively by message passing over the EventBus and VarietyChannels").
// Each subscription runs its own goroutine ranging over Events(), the
// pattern other_examples/hayabusa-cloud-lfq documents for this bus shape.
func (r *runtime) wireCrossLinks() {
	r.forward("s1_health", r.onS1Health)
	r.forward("s2_health", r.onGenericHealth)
	r.forward("s3_health", r.onGenericHealth)
	r.forward("s4_health", r.onGenericHealth)
	r.forward("s5_health", r.onGenericHealth)
	r.forward("emergency_algedonic", r.onEmergency)
	r.forward("s5_emergency_override", r.onS5Override)
	r.forward("coordination_pattern", r.onCoordinationPattern)
	r.forward("s3_control", r.onS3Control)
	r.forward("s2_dampening", r.onS2Dampening)
	r.forward("algedonic_pain", r.onAlgedonicPain)
	r.forward("algedonic_pleasure", r.onAlgedonicPleasure)
	r.forward("s5_policy", r.onS5Policy)
}

func (r *runtime) forward(topic string, handle func(eventbus.Event)) {
	sub, err := r.bus.Subscribe(topic)
	if err != nil {
		return
	}
	go func() {
		for ev := range sub.Events() {
			handle(ev)
		}
	}()
}

func (r *runtime) onS1Health(ev eventbus.Event) {
	r.algedonicCh.ObserveHealth(ev.Subsystem)
	if health, ok := ev.Data["health"].(float64); ok {
		r.s3Control.ObserveHealth(health)
	}
}

func (r *runtime) onGenericHealth(ev eventbus.Event) {
	r.algedonicCh.ObserveHealth(ev.Subsystem)
}

func (r *runtime) onEmergency(ev eventbus.Event) {
	r.s3Control.OnEmergencyAlgedonic()
	r.s1Unit.EmergencyStop()
}

func (r *runtime) onS5Override(eventbus.Event) {
	r.s3Control.OnS5Override()
}

// onCoordinationPattern feeds an S2-detected oscillation/conflict pattern
// into S4's environmental model as a negative-outcome observation (spec
// §4.9 "forwards patterns to S4" plus §4.11's audit-learning contract).
func (r *runtime) onCoordinationPattern(ev eventbus.Event) {
	kind, _ := ev.Data["kind"].(string)
	r.s4Intel.LearnFromAudit(s4.AuditOutcome{
		Target:  kind,
		Action:  "s2_coordination_pattern",
		Success: false,
		At:      time.Now(),
	})
}

// onS3Control implements the s3_control -> S1 leg of spec §6's topic table:
// S3's mode drives the unit directly into throttled or back to normal. S3
// never calls into S1 itself (spec §5), so this bus hop is the only path.
func (r *runtime) onS3Control(ev eventbus.Event) {
	mode, _ := ev.Data["mode"].(string)
	switch mode {
	case "intervening", "emergency":
		r.s1Unit.Throttle()
	case "normal":
		r.s1Unit.Resume()
	}
}

// onS2Dampening implements s2_dampening -> S1: S2's conflict-resolution
// dampening command throttles the affected unit the same way an S3
// intervention would (internal/vsm/s1 only exposes Throttle/Resume, not a
// severity-scaled knob, so the command collapses to that).
func (r *runtime) onS2Dampening(eventbus.Event) {
	r.s1Unit.Throttle()
}

// onAlgedonicPain implements both the algedonic_pain -> S3/S4 legs of spec
// §6's table. There is no separate s3_intervention_required topic anywhere
// in the bus (algedonic only ever emits algedonic_pain/algedonic_pleasure),
// so a pain at or above the configured agony threshold is treated as the
// intervention-required signal S3 acts on; anything milder only updates S4's
// environmental model as negative evidence.
func (r *runtime) onAlgedonicPain(ev eventbus.Event) {
	intensity, _ := ev.Data["intensity"].(float64)
	kind, _ := ev.Data["kind"].(string)
	if kind == "" {
		kind = "pain"
	}
	r.s4Intel.LearnFromAudit(s4.AuditOutcome{Target: kind, Action: "algedonic_pain", Success: false, At: time.Now()})
	if intensity >= r.cfg.Algedonic.Agony {
		r.s3Control.OnEmergencyAlgedonic()
	}
}

// onAlgedonicPleasure implements algedonic_pleasure -> S4: positive evidence
// for the environmental model, mirroring onAlgedonicPain's negative case.
func (r *runtime) onAlgedonicPleasure(ev eventbus.Event) {
	kind, _ := ev.Data["kind"].(string)
	if kind == "" {
		kind = "pleasure"
	}
	r.s4Intel.LearnFromAudit(s4.AuditOutcome{Target: kind, Action: "algedonic_pleasure", Success: true, At: time.Now()})
}

// onS5Policy implements s5_policy -> all: S5's constraint changes are fanned
// out over the s5->all VarietyChannel (internal/vsm/s5's own job) and also
// recorded here in the shared config registry, the one place every
// subsystem and the health command can read a current constraint from
// without S5 holding a direct reference to any of them (spec §5: no
// subsystem holds a lock or reference another subsystem can reach into).
func (r *runtime) onS5Policy(ev eventbus.Event) {
	key, _ := ev.Data["key"].(string)
	if key == "" {
		return
	}
	config.Set("s5.constraint."+key, fmt.Sprint(ev.Data["value"]))
}
