package s2

import "github.com/etalazz/vsm/internal/eventbus"

// BusSinks publishes detected patterns and dampening commands onto the
// shared EventBus, satisfying both PatternSink and DampenSink. This is the
// production wiring; tests use their own fakes instead (see coordinate_test.go).
type BusSinks struct {
	Bus *eventbus.Bus
}

// ReportPattern publishes a coordination_pattern event that S4 subscribes to
// (spec §4.9 "forwards patterns to S4").
func (b BusSinks) ReportPattern(kind string, unitPair [2]string, severity float64) {
	if b.Bus == nil {
		return
	}
	_, _ = b.Bus.Publish("coordination_pattern", "s2", map[string]any{
		"kind":     kind,
		"units":    unitPair,
		"severity": severity,
	})
}

// PublishDampening publishes an s2_dampening command for the affected units
// to consume (e.g. S1 applying a temporary rate reduction).
func (b BusSinks) PublishDampening(unitPair [2]string, strategy string, severity float64) {
	if b.Bus == nil {
		return
	}
	_, _ = b.Bus.Publish("s2_dampening", "s2", map[string]any{
		"units":    unitPair,
		"strategy": strategy,
		"severity": severity,
	})
}
