// Package s4 implements S4 — Intelligence (spec §4.11): maintains an
// environmental model fed by S3's audit trail and its own periodic scans,
// and reports detected patterns, recommendations, and anomalies up to S5.
// The exponential-decay weighted-evidence model follows the teacher's
// striped-accumulator decay idiom in spirit (pkg/vsa keeps a running
// volatile delta rather than replaying history); here each pattern's weight
// is recomputed lazily from its last-touched timestamp instead of on a
// background ticker, since evidence decay has no natural "tick" of its own.
package s4

import (
	"math"
	"sync"
	"time"
)

// defaultHalfLife is the default decay half-life for learned evidence
// (spec §4.11).
const defaultHalfLife = time.Hour

// AuditOutcome is the subset of an S3 AuditEntry that S4's learning rule
// needs (decoupled from internal/vsm/s3 to avoid a reverse import: S4 reads
// audits, it does not control S3).
type AuditOutcome struct {
	Target  string
	Action  string
	Success bool
	At      time.Time
}

// pattern is one tracked (target, action) evidence accumulator.
type pattern struct {
	weight     float64
	lastUpdate time.Time
}

func (p *pattern) decayedWeight(now time.Time, halfLife time.Duration) float64 {
	if p.weight == 0 || halfLife <= 0 {
		return p.weight
	}
	elapsed := now.Sub(p.lastUpdate)
	decay := math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
	return p.weight * decay
}

// Report mirrors get_intelligence_report()/scan_environment()'s return
// shape (spec §4.11).
type Report struct {
	DetectedPatterns []string
	Recommendations  []string
	Anomalies        []string
}

// Scenario is one model_scenario(input) candidate outcome.
type Scenario struct {
	Description string
	Likelihood  float64
}

// Intelligence is S4's environmental-model actor.
type Intelligence struct {
	halfLife time.Duration

	mu       sync.Mutex
	patterns map[string]*pattern
	recent   []AuditOutcome
}

// New constructs an Intelligence model with the given evidence half-life
// (0 selects defaultHalfLife).
func New(halfLife time.Duration) *Intelligence {
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	return &Intelligence{halfLife: halfLife, patterns: make(map[string]*pattern)}
}

// LearnFromAudit implements learn_from_audit(entry) (spec §4.11): success
// weights the (target,action) pattern positively, failure negatively, and
// older evidence decays exponentially on every subsequent read.
func (in *Intelligence) LearnFromAudit(entry AuditOutcome) {
	key := entry.Target + ":" + entry.Action
	in.mu.Lock()
	defer in.mu.Unlock()

	p, ok := in.patterns[key]
	if !ok {
		p = &pattern{lastUpdate: entry.At}
		in.patterns[key] = p
	}
	p.weight = p.decayedWeight(entry.At, in.halfLife)
	if entry.Success {
		p.weight += 1
	} else {
		p.weight -= 1
	}
	p.lastUpdate = entry.At

	in.recent = append(in.recent, entry)
	if len(in.recent) > 500 {
		in.recent = in.recent[len(in.recent)-500:]
	}
}

// ScanEnvironment implements scan_environment() (spec §4.11): snapshots the
// current decayed pattern weights into a report.
func (in *Intelligence) ScanEnvironment() Report {
	return in.GetIntelligenceReport()
}

// GetIntelligenceReport implements get_intelligence_report() (spec §4.11).
func (in *Intelligence) GetIntelligenceReport() Report {
	now := time.Now()
	in.mu.Lock()
	defer in.mu.Unlock()

	var report Report
	for key, p := range in.patterns {
		w := p.decayedWeight(now, in.halfLife)
		switch {
		case w >= 3:
			report.DetectedPatterns = append(report.DetectedPatterns, key)
			report.Recommendations = append(report.Recommendations, "favor "+key)
		case w <= -3:
			report.Anomalies = append(report.Anomalies, key)
			report.Recommendations = append(report.Recommendations, "avoid "+key)
		}
	}
	return report
}

// ModelScenario implements model_scenario(input) (spec §4.11): projects the
// current pattern weight for input forward into a small set of candidate
// outcomes, ranked by the pattern's decayed evidence.
func (in *Intelligence) ModelScenario(input string) []Scenario {
	now := time.Now()
	in.mu.Lock()
	p, ok := in.patterns[input]
	in.mu.Unlock()

	if !ok {
		return []Scenario{{Description: "insufficient evidence for " + input, Likelihood: 0}}
	}
	w := p.decayedWeight(now, in.halfLife)
	likelihood := 1 / (1 + math.Exp(-w)) // logistic squash into (0,1)
	return []Scenario{
		{Description: input + " succeeds", Likelihood: likelihood},
		{Description: input + " fails", Likelihood: 1 - likelihood},
	}
}
