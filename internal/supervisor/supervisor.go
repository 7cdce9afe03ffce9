// Package supervisor implements the VSMSupervisor (spec §4.14): orders
// startup across the VSM's subsystems and channels, and restarts any
// subsystem that crashes (one-for-one, max 10 restarts/60s). No pack
// example implements process supervision; the goroutine+recover+restart
// loop is the standard Go idiom for an Erlang-style one-for-one supervisor,
// and the signal-driven shutdown path follows the teacher's
// cmd/ratelimiter-api/main.go (background worker start, graceful stop on
// signal).
package supervisor

import (
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/obslog"
)

var log = obslog.Subsystem("supervisor")

const (
	maxRestarts   = 10
	restartWindow = 60 * time.Second
)

// EmergencyScreamer is the algedonic bypass used on viability loss.
type EmergencyScreamer interface {
	EmergencyScream(source, reason string)
}

// Component is one supervised unit: a subsystem or a channel. Start should
// block until the component stops (Stop is called on shutdown) or until it
// crashes; returning nil means a clean stop, returning a non-nil error or panicking
// is treated as a crash warranting a one-for-one restart.
type Component struct {
	Name  string
	Start func() error // idempotent: (re)starts the component
	Stop  func()
	Alive func() bool // liveness probe used by the post-boot viability check
}

type restartTracker struct {
	mu    sync.Mutex
	times []time.Time
}

func (t *restartTracker) recordAndCheck() (allowed bool, count int) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = append(t.times, now)
	cutoff := now.Add(-restartWindow)
	kept := t.times[:0]
	for _, ts := range t.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.times = kept
	return len(t.times) <= maxRestarts, len(t.times)
}

// Supervisor runs Components in a fixed start order and restarts any that
// crash.
type Supervisor struct {
	bus    *eventbus.Bus
	scream EmergencyScreamer

	mu         sync.Mutex
	components []*Component
	trackers   map[string]*restartTracker
	stopped    bool
}

// New constructs a Supervisor. scream is called with
// ("vsm_supervisor", "VSM viability lost") when a component exceeds its
// restart budget.
func New(bus *eventbus.Bus, scream EmergencyScreamer) *Supervisor {
	return &Supervisor{bus: bus, scream: scream, trackers: make(map[string]*restartTracker)}
}

// Register adds c to the supervision set, in the order it should be
// started. Call Register in the enforced order (spec §4.14: Algedonic ->
// S5 -> S4 -> S3 -> S2 -> S1 -> channels) before calling Boot.
func (s *Supervisor) Register(c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, &c)
	s.trackers[c.Name] = &restartTracker{}
}

// Boot starts every registered component in registration order, supervising
// each with a watchdog goroutine that restarts it on crash.
func (s *Supervisor) Boot() {
	s.mu.Lock()
	components := append([]*Component(nil), s.components...)
	s.mu.Unlock()

	for _, c := range components {
		s.launch(c)
	}
}

func (s *Supervisor) launch(c *Component) {
	log.Info().Str("component", c.Name).Msg("starting component")
	go s.supervise(c)
}

func (s *Supervisor) supervise(c *Component) {
	for {
		err := s.runOnce(c)
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		if err == nil {
			return
		}

		tracker := s.trackerFor(c.Name)
		allowed, count := tracker.recordAndCheck()
		log.Warn().Str("component", c.Name).Int("restart_count", count).Err(err).Msg("component crashed, restarting")
		if !allowed {
			s.onViabilityLost(c.Name)
			return
		}
	}
}

func (s *Supervisor) trackerFor(name string) *restartTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackers[name]
}

// runOnce invokes c.Start and converts a panic into an error so the
// supervision loop can treat it as a crash (spec §4.14 "on any subsystem
// crash, restart only that subsystem").
func (s *Supervisor) runOnce(c *Component) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{c.Name, r}
		}
	}()
	return c.Start()
}

type panicError struct {
	component string
	value     any
}

func (p panicError) Error() string {
	return p.component + " panicked"
}

func (s *Supervisor) onViabilityLost(componentName string) {
	if s.bus != nil {
		_, _ = s.bus.Publish("vsm_failure", "vsm_supervisor", map[string]any{"component": componentName})
	}
	if s.scream != nil {
		s.scream.EmergencyScream("vsm_supervisor", "VSM viability lost")
	}
	log.Error().Str("component", componentName).Msg("restart budget exceeded, terminating")
	s.Shutdown()
}

// Shutdown stops every component in reverse registration order.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	components := append([]*Component(nil), s.components...)
	s.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		if components[i].Stop != nil {
			components[i].Stop()
		}
	}
}

// ViabilityReport mirrors the post-boot viability check (spec §4.14):
// liveness of every registered component.
type ViabilityReport struct {
	Viable bool
	Dead   []string
}

// CheckViability runs every component's Alive probe.
func (s *Supervisor) CheckViability() ViabilityReport {
	s.mu.Lock()
	components := append([]*Component(nil), s.components...)
	s.mu.Unlock()

	var dead []string
	for _, c := range components {
		if c.Alive != nil && !c.Alive() {
			dead = append(dead, c.Name)
		}
	}
	return ViabilityReport{Viable: len(dead) == 0, Dead: dead}
}
