package main

import (
	"strconv"
	"time"

	"github.com/etalazz/vsm/internal/algedonic"
	"github.com/etalazz/vsm/internal/beliefconsensus"
	"github.com/etalazz/vsm/internal/breaker"
	"github.com/etalazz/vsm/internal/config"
	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
	persistence "github.com/etalazz/vsm/internal/persist"
	"github.com/etalazz/vsm/internal/ratelimit"
	"github.com/etalazz/vsm/internal/respool"
	"github.com/etalazz/vsm/internal/supervisor"
	"github.com/etalazz/vsm/internal/variety"
	"github.com/etalazz/vsm/internal/vsm/s1"
	"github.com/etalazz/vsm/internal/vsm/s2"
	"github.com/etalazz/vsm/internal/vsm/s3"
	"github.com/etalazz/vsm/internal/vsm/s4"
	"github.com/etalazz/vsm/internal/vsm/s5"
)

const defaultPoolCapacity int64 = 1000

// runtime holds every constructed piece of a booted VSM, for the run and
// health commands to share.
type runtime struct {
	clock *hlc.Clock
	bus   *eventbus.Bus
	cfg   *config.Config

	algedonicCh *algedonic.Channel
	s5Policy    *s5.Policy
	s4Intel     *s4.Intelligence
	s3Control   *s3.Control
	s2Coord     *s2.Coordinator
	s1Unit      *s1.Unit
	s1Limiter   *ratelimit.Limiter
	consensus   *beliefconsensus.Consensus

	pool         *respool.Pool
	poolWorker   *respool.Worker
	beliefWorker *beliefconsensus.Worker

	channels map[variety.ChannelType]*variety.Channel

	sup *supervisor.Supervisor
}

// loadConfig reads the --config overlay onto the spec §6 defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if err := config.LoadYAML(cfg, path); err != nil {
		return nil, err
	}
	recordThresholds(cfg)
	return cfg, nil
}

func recordThresholds(cfg *config.Config) {
	config.Set("vsm.max_restarts", strconv.Itoa(cfg.VSM.MaxRestarts))
	config.Set("algedonic.pain", strconv.FormatFloat(cfg.Algedonic.Pain, 'f', -1, 64))
	config.Set("algedonic.agony", strconv.FormatFloat(cfg.Algedonic.Agony, 'f', -1, 64))
	config.Set("algedonic.pleasure", strconv.FormatFloat(cfg.Algedonic.Pleasure, 'f', -1, 64))
	config.Set("channel.capacity", strconv.Itoa(cfg.Channel.Capacity))
	config.Set("belief.max_per_level", strconv.Itoa(cfg.Belief.MaxPerLevel))
	config.Set("belief.ttl", cfg.Belief.TTL.String())
	config.Set("belief.byzantine_threshold", strconv.FormatFloat(cfg.Belief.ByzantineThreshold, 'f', -1, 64))
}

// buildRuntime constructs every subsystem and channel wired together the
// way spec §6's topic table describes, but does not start anything yet.
func buildRuntime(cfg *config.Config, nodeID string) *runtime {
	clock := hlc.New(nodeID)
	bus := eventbus.New(clock)

	algedonicCh := algedonic.New(algedonic.Config{
		Thresholds: algedonic.Thresholds{
			Pain:     cfg.Algedonic.Pain,
			Agony:    cfg.Algedonic.Agony,
			Pleasure: cfg.Algedonic.Pleasure,
		},
		AdaptationRate:   cfg.Algedonic.AdaptationRate,
		AdaptationPeriod: cfg.Algedonic.AdaptationInterval,
	}, bus, clock)

	s5Policy := s5.New(
		"keep the VSM operating within its resource and safety envelope",
		[]string{"availability", "safety", "variety_balance"},
		bus,
	)
	s4Intel := s4.New(0)
	pool := respool.New(defaultPoolCapacity)
	s3Control := s3.New(pool, bus)
	s2Sinks := s2.BusSinks{Bus: bus}
	s2Coord := s2.New(s2.PriorityBased, s2Sinks, s2Sinks)

	unitRoster := []string{"unit-1"}

	channels := make(map[variety.ChannelType]*variety.Channel, 6)
	channels[variety.S1ToS2] = variety.New(variety.Config{
		ChannelType: variety.S1ToS2, Capacity: cfg.Channel.Capacity, Pain: algedonicCh,
		Transform: variety.AttenuationTransform(5),
	})
	channels[variety.S2ToS3] = variety.New(variety.Config{
		ChannelType: variety.S2ToS3, Capacity: cfg.Channel.Capacity, Pain: algedonicCh,
		Transform: variety.AggregationTransform(),
	})
	channels[variety.S3ToS4] = variety.New(variety.Config{
		ChannelType: variety.S3ToS4, Capacity: cfg.Channel.Capacity, Pain: algedonicCh,
		Transform: variety.AuditSynthesisTransform(),
	})
	channels[variety.S4ToS5] = variety.New(variety.Config{
		ChannelType: variety.S4ToS5, Capacity: cfg.Channel.Capacity, Pain: algedonicCh,
		Transform: variety.IntelligenceDistillationTransform(),
	})
	channels[variety.S3ToS1] = variety.New(variety.Config{
		ChannelType: variety.S3ToS1, Capacity: cfg.Channel.Capacity, Pain: algedonicCh,
		Transform: variety.AmplificationTransform(unitRoster),
	})
	channels[variety.S5ToAll] = variety.New(variety.Config{
		ChannelType: variety.S5ToAll, Capacity: cfg.Channel.Capacity, Pain: algedonicCh,
		Transform: variety.ConstraintFanOutTransform(),
	})

	cb := breaker.New(breaker.Config{
		Name:             "s1",
		FailureThreshold: cfg.Circuit.FailureThreshold,
		RecoveryTime:     cfg.Circuit.RecoveryTime,
		Timeout:          cfg.Circuit.Timeout,
		HalfOpenMax:      cfg.Circuit.HalfOpenMax,
	}, nil)
	limiter := ratelimit.New("s1", ratelimit.Config{
		Capacity:   float64(cfg.RateLimiter.BucketSize),
		RefillRate: cfg.RateLimiter.RefillRate,
		Bus:        bus,
	})
	s1Unit := s1.New("unit-1", cb, limiter, channels[variety.S1ToS2], bus)

	consensus := beliefconsensus.New(clock, bus, algedonicCh, cfg.Belief.TTL)
	consensus.SetByzantineThreshold(cfg.Belief.ByzantineThreshold)
	transport := beliefconsensus.RedisTransport{Evaler: persistence.LoggingRedisEvaler{}}
	deltaLog := beliefconsensus.NewDeltaLog(transport, []string{nodeID})
	beliefWorker := beliefconsensus.NewWorker(consensus, deltaLog, 30*time.Second, 5*time.Second)

	persister, _ := persistence.BuildPersister("console", persistence.DemoOptions{})
	poolWorker := respool.NewWorker(pool, persister, 50, 0, 100*time.Millisecond, 0, time.Hour, 10*time.Minute)

	return &runtime{
		clock: clock, bus: bus, cfg: cfg,
		algedonicCh: algedonicCh, s5Policy: s5Policy, s4Intel: s4Intel,
		s3Control: s3Control, s2Coord: s2Coord, s1Unit: s1Unit, s1Limiter: limiter,
		consensus: consensus,
		pool:      pool, poolWorker: poolWorker, beliefWorker: beliefWorker,
		channels: channels,
	}
}

// boot registers every component with a fresh Supervisor in the enforced
// order (spec §4.14: Algedonic -> S5 -> S4 -> S3 -> S2 -> S1 -> channels),
// wires the cross-subsystem message-passing glue, and starts it.
func (r *runtime) boot() *supervisor.ViabilityReport {
	r.sup = supervisor.New(r.bus, r.algedonicCh)

	r.sup.Register(supervisor.Component{
		Name:  "algedonic",
		Start: func() error { r.algedonicCh.Start(); return nil },
		Stop:  r.algedonicCh.Stop,
		Alive: func() bool { return r.algedonicCh.State() != "" },
	})
	r.sup.Register(supervisor.Component{
		Name:  "s5",
		Start: func() error { return nil },
		Alive: func() bool { return true },
	})
	r.sup.Register(supervisor.Component{
		Name:  "s4",
		Start: func() error { return nil },
		Alive: func() bool { return true },
	})
	r.sup.Register(supervisor.Component{
		Name:  "s3",
		Start: func() error { return nil },
		Alive: func() bool { return true },
	})
	r.sup.Register(supervisor.Component{
		Name:  "s2",
		Start: func() error { return nil },
		Alive: func() bool { return true },
	})
	r.sup.Register(supervisor.Component{
		Name:  "s1",
		Start: func() error { r.s1Unit.Start(); return nil },
		Stop:  func() { r.s1Unit.Stop(); r.s1Limiter.Close() },
		Alive: func() bool { return true },
	})
	for ct, ch := range r.channels {
		ch := ch
		r.sup.Register(supervisor.Component{
			Name:  "channel:" + string(ct),
			Start: func() error { return nil },
			Stop:  ch.Close,
			Alive: func() bool { return true },
		})
	}
	r.sup.Register(supervisor.Component{
		Name:  "respool-worker",
		Start: func() error { r.poolWorker.Start(); return nil },
		Stop:  r.poolWorker.Stop,
		Alive: func() bool { return true },
	})
	r.sup.Register(supervisor.Component{
		Name:  "belief-eviction",
		Start: func() error { r.beliefWorker.Start(); return nil },
		Stop:  r.beliefWorker.Stop,
		Alive: func() bool { return true },
	})

	r.wireCrossLinks()
	r.sup.Boot()
	_, _ = r.bus.Publish("vsm_viable", "vsm_supervisor", nil)
	report := r.sup.CheckViability()
	return &report
}

func (r *runtime) shutdown() {
	_, _ = r.bus.Publish("vsm_shutdown", "vsm_supervisor", nil)
	r.sup.Shutdown()
}
