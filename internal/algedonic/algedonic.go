// Package algedonic implements the algedonic channel (spec §4.7): the
// cross-cutting bypass that computes pain and pleasure from real telemetry,
// applies hedonic adaptation to thresholds, and can scream past the entire
// hierarchy on critical severity. It is a supervised long-running actor in
// the teacher's Worker idiom (ticker-driven loop, stopChan+WaitGroup
// shutdown, internal/respool/worker.go), subscribing to the EventBus
// instead of watching a VSA store.
package algedonic

import (
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/obslog"
)

var log = obslog.Subsystem("algedonic")

// Severity classifies a Signal (spec §3).
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Signal is an immutable algedonic event, retained in a bounded ring.
type Signal struct {
	ID        uint64
	Source    string
	Metric    string
	Intensity float64
	Severity  Severity
	Timestamp hlc.Timestamp
}

// Thresholds holds the fixed pain/agony/pleasure levels (spec §4.7).
type Thresholds struct {
	Pain     float64
	Agony    float64
	Pleasure float64
}

// metricThresholds gives the metric-specific pain/agony pair; response_time
// is the only metric whose thresholds hedonic adaptation shifts.
var metricThresholds = map[string][2]float64{
	"response_time": {500, 2000},
	"error_rate":    {0.05, 0.20},
	"memory":        {0.80, 0.95},
	"queue_depth":   {1000, 5000},
}

const ringSize = 100

// State is the algedonic state machine's current phase (spec §4.7).
type State string

const (
	Neutral        State = "neutral"
	Pain           State = "pain"
	Agony          State = "agony"
	EmergencyState State = "emergency_active"
)

type sample struct {
	value float64
	at    time.Time
}

type metricTrack struct {
	mu       sync.Mutex
	samples  []sample
	baseline float64
	hasBase  bool
}

func (m *metricTrack) observe(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample{value: v, at: time.Now()})
	if len(m.samples) > 100 {
		m.samples = m.samples[len(m.samples)-100:]
	}
}

func (m *metricTrack) mean() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range m.samples {
		sum += s.value
	}
	return sum / float64(len(m.samples)), true
}

func (m *metricTrack) adapt(alpha float64) {
	cur, ok := m.mean()
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasBase {
		m.baseline = cur
		m.hasBase = true
		return
	}
	m.baseline = m.baseline + alpha*(cur-m.baseline)
}

func (m *metricTrack) getBaseline() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline, m.hasBase
}

// Config configures a Channel.
type Config struct {
	Thresholds        Thresholds
	AdaptationRate    float64       // default 0.1
	AdaptationPeriod  time.Duration // default 60s
	AssessmentPeriod  time.Duration // default 1s
	DeadSubsystemTTL  time.Duration // default 5s
}

// Channel is the running algedonic actor.
type Channel struct {
	cfg   Config
	bus   *eventbus.Bus
	clock *hlc.Clock

	mu          sync.Mutex
	state       State
	metrics     map[string]*metricTrack
	ring        []Signal
	nextID      uint64
	lastHealth  map[string]time.Time
	screamedDead map[string]bool
	critical60s []time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs an algedonic Channel wired to bus.
func New(cfg Config, bus *eventbus.Bus, clock *hlc.Clock) *Channel {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = Thresholds{Pain: 0.85, Agony: 0.95, Pleasure: 0.90}
	}
	if cfg.AdaptationRate <= 0 {
		cfg.AdaptationRate = 0.1
	}
	if cfg.AdaptationPeriod <= 0 {
		cfg.AdaptationPeriod = 60 * time.Second
	}
	if cfg.AssessmentPeriod <= 0 {
		cfg.AssessmentPeriod = time.Second
	}
	if cfg.DeadSubsystemTTL <= 0 {
		cfg.DeadSubsystemTTL = 5 * time.Second
	}
	return &Channel{
		cfg:        cfg,
		bus:        bus,
		clock:      clock,
		state:        Neutral,
		metrics:      make(map[string]*metricTrack),
		lastHealth:   make(map[string]time.Time),
		screamedDead: make(map[string]bool),
		stopChan:     make(chan struct{}),
	}
}

// Observe feeds one telemetry sample for a named metric (response_time,
// error_rate, memory, queue_depth, or a subsystem health score) into the
// channel's rolling window.
func (c *Channel) Observe(metric string, value float64) {
	c.mu.Lock()
	t, ok := c.metrics[metric]
	if !ok {
		t = &metricTrack{}
		c.metrics[metric] = t
	}
	c.mu.Unlock()
	t.observe(value)
}

// ObserveHealth records a subsystem health tick, used by the dead-subsystem
// detector. A fresh tick re-arms the detector for that subsystem.
func (c *Channel) ObserveHealth(subsystem string) {
	c.mu.Lock()
	c.lastHealth[subsystem] = time.Now()
	delete(c.screamedDead, subsystem)
	c.mu.Unlock()
}

// Start launches the 1s assessment loop, the 60s hedonic adaptation loop,
// and the dead-subsystem detector.
func (c *Channel) Start() {
	log.Info().Msg("starting algedonic channel")
	c.wg.Add(3)
	go c.runTicker(c.cfg.AssessmentPeriod, c.assessmentTick)
	go c.runTicker(c.cfg.AdaptationPeriod, c.adaptationTick)
	go c.runTicker(time.Second, c.deadSubsystemTick)
}

// Stop stops all background loops.
func (c *Channel) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Channel) runTicker(period time.Duration, fn func()) {
	defer c.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
