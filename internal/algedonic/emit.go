package algedonic

import (
	"time"

	"github.com/etalazz/vsm/internal/hlc"
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/variety"
)

// emit mints a Signal, appends it to the bounded ring, records the metric
// counter, and publishes it to topic. Pain/agony publishing is
// at-least-once: publish errors are logged, never swallowed silently, but
// never block the caller either (spec §4.7 contract).
func (c *Channel) emit(metric string, intensity float64, sev Severity, topic string) Signal {
	sig := Signal{
		Source:    "algedonic",
		Metric:    metric,
		Intensity: clamp01(intensity),
		Severity:  sev,
		Timestamp: c.clock.Now(),
	}

	c.mu.Lock()
	c.nextID++
	sig.ID = c.nextID
	c.ring = append(c.ring, sig)
	if len(c.ring) > ringSize {
		c.ring = c.ring[len(c.ring)-ringSize:]
	}
	c.mu.Unlock()

	metrics.RecordSignal(string(sev))
	if c.bus != nil {
		if _, err := c.bus.Publish(topic, "algedonic", map[string]any{
			"metric": metric, "intensity": sig.Intensity, "severity": string(sev),
		}); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to publish algedonic signal")
		}
	}
	return sig
}

// EmergencyScream bypasses all hierarchy: it publishes a critical signal to
// emergency_algedonic, s5_emergency_override, and all_subsystems, minting
// its timestamp with the HLC fallback path so it succeeds even if the
// shared clock is unreachable (spec §4.7, §7 hlc_unavailable handling).
// It never blocks: failures to publish are logged, not retried inline.
func (c *Channel) EmergencyScream(source, reason string) {
	ts := hlc.Fallback(time.Now())
	if c.clock != nil {
		ts = c.clock.NowWithRetry(func() (hlc.Timestamp, error) { return c.clock.Now(), nil })
	}

	sig := Signal{Source: source, Metric: reason, Intensity: 1.0, Severity: Critical, Timestamp: ts}
	c.mu.Lock()
	c.nextID++
	sig.ID = c.nextID
	c.ring = append(c.ring, sig)
	if len(c.ring) > ringSize {
		c.ring = c.ring[len(c.ring)-ringSize:]
	}
	now := time.Now()
	c.critical60s = append(c.critical60s, now)
	cutoff := now.Add(-60 * time.Second)
	kept := c.critical60s[:0]
	for _, t := range c.critical60s {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.critical60s = kept
	shutdownDue := len(c.critical60s) >= 3
	c.state = EmergencyState
	c.mu.Unlock()

	metrics.RecordSignal(string(Critical))
	log.Error().Str("source", source).Str("reason", reason).Msg("emergency_scream")

	if c.bus == nil {
		return
	}
	payload := map[string]any{"source": source, "reason": reason, "intensity": 1.0, "severity": string(Critical)}
	for _, topic := range []string{"emergency_algedonic", "s5_emergency_override"} {
		if _, err := c.bus.Publish(topic, "algedonic", payload); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to publish emergency_scream")
		}
	}
	// all_subsystems additionally carries emergency_mode so every consumer
	// can switch posture off the broadcast alone, without also subscribing
	// to emergency_algedonic (spec §6 topic table, scenario 4).
	broadcast := map[string]any{
		"source": source, "reason": reason, "intensity": 1.0, "severity": string(Critical),
		"emergency_mode": true,
	}
	if _, err := c.bus.Publish("all_subsystems", "algedonic", broadcast); err != nil {
		log.Error().Err(err).Str("topic", "all_subsystems").Msg("failed to publish emergency_scream")
	}

	if shutdownDue {
		if _, err := c.bus.Publish("system_shutdown", "algedonic", map[string]any{"reason": "algedonic_overload"}); err != nil {
			log.Error().Err(err).Msg("failed to publish system_shutdown")
		}
	}
}

// ReportOverflow implements variety.PainSink, letting VarietyChannels drive
// pain intensity from sustained queue overflow.
func (c *Channel) ReportOverflow(channelType variety.ChannelType, intensity float64) {
	c.emit("channel_overflow:"+string(channelType), intensity, Warning, "algedonic_pain")
}

// Ring returns a snapshot of the retained signal history (most recent
// last).
func (c *Channel) Ring() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Signal, len(c.ring))
	copy(out, c.ring)
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
