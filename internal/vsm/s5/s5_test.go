package s5

import (
	"testing"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
)

func TestGetIdentity_PurposeNeverMutated(t *testing.T) {
	p := New("keep the system viable", []string{"safety"}, nil)
	before := p.GetIdentity().Purpose
	p.SetConstraint("max_cpu", 0.8)
	after := p.GetIdentity().Purpose
	if before != after || after != "keep the system viable" {
		t.Fatalf("expected purpose to remain fixed, got before=%q after=%q", before, after)
	}
}

func TestSetConstraint_PublishesToS5Policy(t *testing.T) {
	bus := eventbus.New(hlc.New("test"))
	sub, _ := bus.Subscribe("s5_policy")
	p := New("purpose", nil, bus)
	p.SetConstraint("max_cpu", 0.8)

	select {
	case ev := <-sub.Events():
		if ev.Data["key"] != "max_cpu" {
			t.Fatalf("expected key=max_cpu, got %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("expected s5_policy event")
	}
}

func TestEvaluateDecision_NoValidatorsAlwaysOK(t *testing.T) {
	p := New("purpose", nil, nil)
	v := p.EvaluateDecision(Decision{Actor: "s1", Action: "reserve", Target: "cpu"})
	if !v.OK {
		t.Fatalf("expected ok with no validators registered, got %+v", v)
	}
}

func TestEvaluateDecision_FailingValidatorReportsReason(t *testing.T) {
	p := New("purpose", nil, nil)
	p.AddValidator(func(id Identity, d Decision) (bool, string) {
		if d.Action == "forbidden" {
			return false, "action forbidden by policy"
		}
		return true, ""
	})
	v := p.EvaluateDecision(Decision{Action: "forbidden"})
	if v.OK || len(v.Reasons) != 1 {
		t.Fatalf("expected one violation reason, got %+v", v)
	}
}

func TestEvaluateDecision_FiveViolationsWithin60sEmitsIdentityCrisis(t *testing.T) {
	bus := eventbus.New(hlc.New("test"))
	sub, _ := bus.Subscribe("algedonic_pain")
	p := New("purpose", nil, bus)
	p.AddValidator(func(Identity, Decision) (bool, string) { return false, "always fails" })

	for i := 0; i < 5; i++ {
		p.EvaluateDecision(Decision{Action: "x"})
	}

	select {
	case ev := <-sub.Events():
		if ev.Data["kind"] != "identity_crisis" {
			t.Fatalf("expected identity_crisis pain, got %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("expected algedonic_pain identity_crisis after 5 violations")
	}
}

func TestEmergencyOverride_PublishesOverrideTopic(t *testing.T) {
	bus := eventbus.New(hlc.New("test"))
	sub, _ := bus.Subscribe("s5_emergency_override")
	p := New("purpose", nil, bus)
	p.EmergencyOverride("algedonic", "response_time critical")

	select {
	case ev := <-sub.Events():
		if ev.Data["source"] != "algedonic" {
			t.Fatalf("expected source=algedonic, got %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("expected s5_emergency_override event")
	}
}
