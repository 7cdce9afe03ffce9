// Package config loads the recognized runtime options of spec §6 from
// Default, overlaid by an optional YAML file (the path given by
// cmd/vsmctl's --config flag), and keeps a
// process-wide threshold registry so the CLI's `health` report and the
// persister's end-of-run summary (internal/respool/persistence.go) can print
// exactly what the process was configured with — grounded on the teacher's
// `core.SetThreshold*` call sites in cmd/ratelimiter-api/main.go.
package config

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option from spec §6.
type Config struct {
	VSM struct {
		MaxRestarts      int           `yaml:"max_restarts"`
		RestartWindowSec time.Duration `yaml:"restart_window_sec"`
	} `yaml:"vsm"`

	Algedonic struct {
		Pain               float64       `yaml:"pain"`
		Agony              float64       `yaml:"agony"`
		Pleasure           float64       `yaml:"pleasure"`
		AdaptationRate     float64       `yaml:"adaptation_rate"`
		AdaptationInterval time.Duration `yaml:"adaptation_recovery_ms"`
	} `yaml:"algedonic"`

	Channel struct {
		Capacity       int    `yaml:"capacity"`
		OverflowPolicy string `yaml:"overflow_policy"`
	} `yaml:"channel"`

	RateLimiter struct {
		BucketSize         int64         `yaml:"bucket_size"`
		RefillRate         float64       `yaml:"refill_rate"`
		RefillIntervalMs   time.Duration `yaml:"refill_interval_ms"`
	} `yaml:"ratelimiter"`

	Circuit struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		RecoveryTime     time.Duration `yaml:"recovery_time_ms"`
		Timeout          time.Duration `yaml:"timeout_ms"`
		HalfOpenMax      int           `yaml:"half_open_max"`
	} `yaml:"circuit"`

	Belief struct {
		MaxPerLevel        int           `yaml:"max_per_level"`
		TTL                time.Duration `yaml:"ttl_ms"`
		ByzantineThreshold float64       `yaml:"byzantine_threshold"`
	} `yaml:"belief"`

	Pools map[string]PoolConfig `yaml:"pools"`
}

// PoolConfig is a named connection pool's configuration (spec §6).
type PoolConfig struct {
	Size            int           `yaml:"size"`
	Overflow        int           `yaml:"overflow"`
	HealthCheckURL  string        `yaml:"health_check_url"`
	BreakerThreshold int          `yaml:"circuit_breaker_threshold"`
	BreakerTimeout  time.Duration `yaml:"circuit_breaker_timeout"`
}

// Default returns a Config populated with the spec §6 defaults.
func Default() *Config {
	c := &Config{}
	c.VSM.MaxRestarts = 10
	c.VSM.RestartWindowSec = 60 * time.Second
	c.Algedonic.Pain = 0.85
	c.Algedonic.Agony = 0.95
	c.Algedonic.Pleasure = 0.90
	c.Algedonic.AdaptationRate = 0.1
	c.Algedonic.AdaptationInterval = 60 * time.Second
	c.Channel.Capacity = 1000
	c.Channel.OverflowPolicy = "drop_oldest"
	c.Circuit.FailureThreshold = 5
	c.Circuit.RecoveryTime = 30 * time.Second
	c.Circuit.Timeout = 5 * time.Second
	c.Circuit.HalfOpenMax = 1
	c.Belief.MaxPerLevel = 100
	c.Belief.TTL = time.Hour
	c.Belief.ByzantineThreshold = 0.3
	return c
}

// LoadYAML overlays values from a YAML file onto c. A missing file is not an
// error: the process runs on the values already in c.
func LoadYAML(c *Config, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// thresholds is a process-wide registry of the effective configuration
// values, used only for the CLI's `health` report and the final persistence
// summary; it is not consulted by any hot path.
var thresholds = struct {
	mu sync.Mutex
	m  map[string]string
}{m: make(map[string]string)}

// Set records a human-readable value for a named threshold.
func Set(name, value string) {
	thresholds.mu.Lock()
	defer thresholds.mu.Unlock()
	thresholds.m[name] = value
}

// Snapshot returns a copy of the threshold registry, keys sorted.
func Snapshot() (keys []string, values map[string]string) {
	thresholds.mu.Lock()
	defer thresholds.mu.Unlock()
	values = make(map[string]string, len(thresholds.m))
	for k, v := range thresholds.m {
		values[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, values
}
