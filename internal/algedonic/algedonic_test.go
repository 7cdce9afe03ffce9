package algedonic

import (
	"testing"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
)

func newTestChannel(t *testing.T) (*Channel, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(hlc.New("test"))
	c := New(Config{AssessmentPeriod: 10 * time.Millisecond, AdaptationPeriod: time.Hour, DeadSubsystemTTL: time.Hour}, bus, hlc.New("test"))
	return c, bus
}

func TestAssessmentTick_HighResponseTimeEmitsPain(t *testing.T) {
	c, bus := newTestChannel(t)
	sub, _ := bus.Subscribe("algedonic_pain")

	for i := 0; i < 10; i++ {
		c.Observe("response_time", 3000)
	}
	c.assessmentTick()

	select {
	case ev := <-sub.Events():
		if ev.Type != "algedonic_pain" {
			t.Fatalf("unexpected event type %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a pain signal for response_time >> agony threshold")
	}
	if c.State() != Agony {
		t.Fatalf("expected agony state at max intensity, got %s", c.State())
	}
}

func TestAssessmentTick_HealthyMetricsStayNeutral(t *testing.T) {
	c, _ := newTestChannel(t)
	c.Observe("response_time", 10)
	c.assessmentTick()
	if c.State() != Neutral {
		t.Fatalf("expected neutral, got %s", c.State())
	}
}

func TestHedonicAdaptation_ShiftsResponseTimeOnly(t *testing.T) {
	c, _ := newTestChannel(t)
	for i := 0; i < 50; i++ {
		c.Observe("response_time", 600)
		c.Observe("error_rate", 0.10)
	}
	c.adaptationTick()

	rtPain, _ := c.thresholdFor("response_time")
	if rtPain == metricThresholds["response_time"][0] {
		t.Fatal("expected response_time pain threshold to shift after baseline adaptation")
	}
	erPain, _ := c.thresholdFor("error_rate")
	if erPain != metricThresholds["error_rate"][0] {
		t.Fatalf("expected error_rate pain threshold to stay fixed, got %v", erPain)
	}
}

func TestEmergencyScream_PublishesToAllThreeTopicsAndTagsCritical(t *testing.T) {
	c, bus := newTestChannel(t)
	emergency, _ := bus.Subscribe("emergency_algedonic")
	override, _ := bus.Subscribe("s5_emergency_override")
	all, _ := bus.Subscribe("all_subsystems")

	c.EmergencyScream("s1", "test failure")

	for _, sub := range []*eventbus.Subscription{emergency, override, all} {
		select {
		case <-sub.Events():
		case <-time.After(time.Second):
			t.Fatal("expected emergency_scream fan-out to all three topics")
		}
	}
	if c.State() != EmergencyState {
		t.Fatalf("expected emergency_active state, got %s", c.State())
	}
}

func TestEmergencyScream_ThirdWithin60sTriggersShutdown(t *testing.T) {
	c, bus := newTestChannel(t)
	shutdown, _ := bus.Subscribe("system_shutdown")

	for i := 0; i < 3; i++ {
		c.EmergencyScream("s1", "repeated failure")
	}

	select {
	case ev := <-shutdown.Events():
		if ev.Data["reason"] != "algedonic_overload" {
			t.Fatalf("expected reason algedonic_overload, got %v", ev.Data["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected system_shutdown after 3 critical signals within 60s")
	}
}

func TestDeadSubsystemTick_FiresOnceUntilHealthResumes(t *testing.T) {
	c, bus := newTestChannel(t)
	c.cfg.DeadSubsystemTTL = time.Millisecond
	emergency, _ := bus.Subscribe("emergency_algedonic")

	c.ObserveHealth("s1")
	time.Sleep(5 * time.Millisecond)
	c.deadSubsystemTick()

	select {
	case <-emergency.Events():
	case <-time.After(time.Second):
		t.Fatal("expected emergency_scream for stale s1 health")
	}

	c.deadSubsystemTick()
	select {
	case <-emergency.Events():
		t.Fatal("expected dead-subsystem detector not to re-fire before health resumes")
	case <-time.After(50 * time.Millisecond):
	}
}
