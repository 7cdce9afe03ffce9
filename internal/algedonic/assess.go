package algedonic

import "time"

// thresholdFor returns the pain/agony pair for metric, applying the
// response_time-only hedonic shift (spec §4.7, Open Question #3: error_rate
// baselines still update but its thresholds never shift).
func (c *Channel) thresholdFor(metric string) (pain, agony float64) {
	base, ok := metricThresholds[metric]
	if !ok {
		return c.cfg.Thresholds.Pain, c.cfg.Thresholds.Agony
	}
	pain, agony = base[0], base[1]
	if metric != "response_time" {
		return
	}
	c.mu.Lock()
	t, exists := c.metrics[metric]
	c.mu.Unlock()
	if !exists {
		return
	}
	baseline, hasBase := t.getBaseline()
	if !hasBase {
		return
	}
	shift := 0.5 * (baseline - 50)
	return pain + shift, agony + shift
}

// assessmentTick runs once per AssessmentPeriod (default 1s): computes
// rolling means, derives a pain intensity per metric (piecewise linear
// between the metric's own pain/agony band, rescaled onto the global
// [Thresholds.Pain, Thresholds.Agony] severity band and capped at agony),
// and emits pain/pleasure signals. Samples are not consumed: each call
// recomputes the means over the retained window of recent samples, so a
// tick with no new samples emits again from the same samples.
func (c *Channel) assessmentTick() {
	c.mu.Lock()
	tracked := make(map[string]*metricTrack, len(c.metrics))
	for k, v := range c.metrics {
		tracked[k] = v
	}
	c.mu.Unlock()

	maxIntensity := 0.0
	var worstMetric string
	for metric, t := range tracked {
		mean, ok := t.mean()
		if !ok {
			continue
		}
		pain, agony := c.thresholdFor(metric)
		if agony <= pain {
			continue
		}
		// intensity maps the metric's own [pain, agony] band onto the global
		// severity band [Thresholds.Pain, Thresholds.Agony] (spec §8): a
		// metric sitting exactly at its pain threshold is already a 0.85
		// pain signal, not a 0, and nothing above agony reports louder than
		// the global agony threshold.
		var intensity float64
		switch {
		case mean < pain:
			intensity = 0
		case mean >= agony:
			intensity = c.cfg.Thresholds.Agony
		default:
			span := c.cfg.Thresholds.Agony - c.cfg.Thresholds.Pain
			intensity = c.cfg.Thresholds.Pain + span*(mean-pain)/(agony-pain)
		}
		if intensity > maxIntensity {
			maxIntensity = intensity
			worstMetric = metric
		}

		c.checkPleasure(metric, mean, t)
	}

	if maxIntensity <= 0 {
		c.transition(Neutral)
		return
	}

	sev := Warning
	next := Pain
	if maxIntensity >= c.cfg.Thresholds.Agony {
		sev = Critical
		next = Agony
	}
	c.transition(next)
	c.emit(worstMetric, maxIntensity, sev, "algedonic_pain")
}

// checkPleasure emits a pleasure signal when response time is comfortably
// below baseline, throughput is comfortably above, or cache-hit-rate is
// very high (spec §4.7).
func (c *Channel) checkPleasure(metric string, mean float64, t *metricTrack) {
	baseline, hasBase := t.getBaseline()
	if !hasBase {
		return
	}
	switch metric {
	case "response_time":
		if mean < 0.8*baseline {
			c.emit(metric, 0.9*(c.cfg.Thresholds.Pleasure), Info, "algedonic_pleasure")
			c.clearIntervention()
		}
	case "throughput":
		if mean > 1.2*baseline {
			c.emit(metric, c.cfg.Thresholds.Pleasure, Info, "algedonic_pleasure")
			c.clearIntervention()
		}
	case "cache_hit_rate":
		if mean > 0.95 {
			c.emit(metric, c.cfg.Thresholds.Pleasure, Info, "algedonic_pleasure")
			c.clearIntervention()
		}
	}
}

func (c *Channel) clearIntervention() {
	c.mu.Lock()
	c.state = Neutral
	c.mu.Unlock()
}

func (c *Channel) transition(to State) {
	c.mu.Lock()
	from := c.state
	if from != EmergencyState {
		c.state = to
	}
	c.mu.Unlock()
	if from != to {
		log.Info().Str("from", string(from)).Str("to", string(to)).Msg("algedonic state transition")
	}
}

// adaptationTick runs once per AdaptationPeriod (default 60s), updating each
// metric's baseline toward the current mean (spec §4.7).
func (c *Channel) adaptationTick() {
	c.mu.Lock()
	tracked := make([]*metricTrack, 0, len(c.metrics))
	for _, v := range c.metrics {
		tracked = append(tracked, v)
	}
	c.mu.Unlock()
	for _, t := range tracked {
		t.adapt(c.cfg.AdaptationRate)
	}
}

// deadSubsystemTick fires emergency_scream for any subsystem whose health
// has not been observed for at least DeadSubsystemTTL (spec §4.7).
func (c *Channel) deadSubsystemTick() {
	c.mu.Lock()
	now := time.Now()
	var dead []string
	for sub, last := range c.lastHealth {
		if now.Sub(last) >= c.cfg.DeadSubsystemTTL && !c.screamedDead[sub] {
			dead = append(dead, sub)
			c.screamedDead[sub] = true
		}
	}
	c.mu.Unlock()

	for _, sub := range dead {
		c.EmergencyScream(sub, "subsystem health stale")
	}
}
