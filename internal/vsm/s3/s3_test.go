package s3

import (
	"testing"
	"time"

	"github.com/etalazz/vsm/internal/respool"
)

func TestIntervene_ReserveAppliesToPool(t *testing.T) {
	pool := respool.New(100)
	c := New(pool, nil)

	err := c.Intervene(InterventionRequest{Target: "unit-1", Action: ActionReserve, ResourceType: "cpu", Amount: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pool.Held("cpu", "unit-1"); got != 10 {
		t.Fatalf("expected 10 held, got %d", got)
	}
}

func TestIntervene_DebounceCollapsesRepeat(t *testing.T) {
	pool := respool.New(100)
	c := New(pool, nil)

	req := InterventionRequest{Target: "unit-1", Action: ActionReserve, ResourceType: "cpu", Amount: 10}
	_ = c.Intervene(req)
	_ = c.Intervene(req)

	if got := pool.Held("cpu", "unit-1"); got != 10 {
		t.Fatalf("expected debounced second call to not double-reserve, got %d held", got)
	}
	trail := c.GetAuditTrail(time.Minute)
	if len(trail) != 2 {
		t.Fatalf("expected 2 audit entries (1 applied + 1 debounced), got %d", len(trail))
	}
	if trail[1].Decision != "debounced" {
		t.Fatalf("expected second entry decision=debounced, got %q", trail[1].Decision)
	}
}

func TestIntervene_TransitionsToIntervening(t *testing.T) {
	pool := respool.New(100)
	c := New(pool, nil)
	c.Intervene(InterventionRequest{Target: "unit-1", Action: ActionThrottle})
	if c.GetControlState().Mode != ModeIntervening {
		t.Fatal("expected mode to become intervening after an intervention")
	}
}

func TestOnEmergencyAlgedonic_EntersEmergencyMode(t *testing.T) {
	c := New(respool.New(100), nil)
	c.OnEmergencyAlgedonic()
	if c.GetControlState().Mode != ModeEmergency {
		t.Fatal("expected emergency_algedonic to force ModeEmergency")
	}
}

func TestObserveHealth_ExitsEmergencyOnlyAfterSustainedHealth(t *testing.T) {
	c := New(respool.New(100), nil)
	c.OnEmergencyAlgedonic()

	c.ObserveHealth(0.9) // starts the streak
	if c.GetControlState().Mode != ModeEmergency {
		t.Fatal("expected a single healthy sample to not immediately exit emergency")
	}

	c.mu.Lock()
	c.healthySince = time.Now().Add(-emergencyExitSustain - time.Second)
	c.mu.Unlock()
	c.ObserveHealth(0.9)
	if c.GetControlState().Mode != ModeMonitoring {
		t.Fatal("expected sustained health above threshold to exit emergency into monitoring")
	}
}

func TestObserveHealth_DropBelowThresholdResetsStreak(t *testing.T) {
	c := New(respool.New(100), nil)
	c.OnEmergencyAlgedonic()
	c.ObserveHealth(0.9)
	c.ObserveHealth(0.5)
	c.mu.Lock()
	streak := c.healthyStreakOK
	c.mu.Unlock()
	if streak {
		t.Fatal("expected an unhealthy sample to reset the streak")
	}
}

func TestOptimizeResources_InterveneOnHotPool(t *testing.T) {
	pool := respool.New(100)
	pool.Reserve("cpu", "unit-1", 95)
	c := New(pool, nil)

	touched := c.OptimizeResources()
	if len(touched) != 1 {
		t.Fatalf("expected one hot pool to be intervened on, got %d", len(touched))
	}
}

func TestOptimizeResources_IgnoresColdPools(t *testing.T) {
	pool := respool.New(100)
	pool.Reserve("cpu", "unit-1", 10)
	c := New(pool, nil)

	touched := c.OptimizeResources()
	if len(touched) != 0 {
		t.Fatalf("expected cold pool to be left alone, got %d interventions", len(touched))
	}
}
