// Package metrics is the process-wide, append-only counter/histogram store
// required by spec §5 ("Metrics uses an append-only counter/histogram store
// with single-writer-per-key; cross-task reads are snapshot copies"). It is
// backed by Prometheus, generalizing the teacher's
// internal/ratelimiter/telemetry/churn package from a single rate-limiter
// demo concern into the shared sink every subsystem, channel, breaker and
// rate limiter bucket publishes into.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsm_events_total",
		Help: "Total EventBus publishes, by topic.",
	}, []string{"topic"})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsm_deliveries_total",
		Help: "Total EventBus deliveries, by topic and outcome (ok|dropped|error).",
	}, []string{"topic", "outcome"})

	signalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsm_algedonic_signals_total",
		Help: "Total algedonic signals emitted, by severity.",
	}, []string{"severity"})

	subsystemHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vsm_subsystem_health",
		Help: "Most recently reported health score per subsystem, in [0,1].",
	}, []string{"subsystem"})

	channelFlow = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vsm_channel_current_flow",
		Help: "Current queued packet count per VarietyChannel.",
	}, []string{"channel"})

	channelDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsm_channel_dropped_total",
		Help: "Total packets dropped (overflow) per VarietyChannel.",
	}, []string{"channel"})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vsm_circuit_breaker_state",
		Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open.",
	}, []string{"breaker"})

	rateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsm_rate_limit_decisions_total",
		Help: "Rate limiter decisions, by bucket and outcome (allowed|limited).",
	}, []string{"bucket", "outcome"})

	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vsm_request_latency_ms",
		Help:    "Observed request latency in milliseconds, by subsystem.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
	}, []string{"subsystem"})

	beliefsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vsm_beliefs_active",
		Help: "Active (non-expired) beliefs held per level.",
	}, []string{"level"})

	quarantinedNodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vsm_quarantined_nodes",
		Help: "Count of nodes currently quarantined per level.",
	}, []string{"level"})

	reservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vsm_resource_reservations_total",
		Help: "S3 resource pool reserve/release/deny decisions, by resource type and outcome.",
	}, []string{"resource", "outcome"})
)

func init() {
	prometheus.MustRegister(
		eventsTotal, deliveriesTotal, signalsTotal, subsystemHealth,
		channelFlow, channelDropped, breakerState, rateLimitDecisions,
		requestLatency, beliefsActive, quarantinedNodes, reservationsTotal,
	)
}

// RecordPublish increments the per-topic publish counter.
func RecordPublish(topic string) { eventsTotal.WithLabelValues(topic).Inc() }

// RecordDelivery increments the per-topic, per-outcome delivery counter.
func RecordDelivery(topic, outcome string) { deliveriesTotal.WithLabelValues(topic, outcome).Inc() }

// RecordSignal increments the algedonic signal counter for a severity.
func RecordSignal(severity string) { signalsTotal.WithLabelValues(severity).Inc() }

// SetSubsystemHealth records the latest health score for a subsystem.
func SetSubsystemHealth(subsystem string, health float64) {
	subsystemHealth.WithLabelValues(subsystem).Set(health)
}

// SetChannelFlow records a VarietyChannel's current queued packet count.
func SetChannelFlow(channel string, flow int) {
	channelFlow.WithLabelValues(channel).Set(float64(flow))
}

// RecordChannelDrop increments a VarietyChannel's overflow-drop counter.
func RecordChannelDrop(channel string) { channelDropped.WithLabelValues(channel).Inc() }

// SetBreakerState records a circuit breaker's current state (0/1/2).
func SetBreakerState(breaker string, state int) {
	breakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordRateLimitDecision increments a bucket's allowed/limited counter.
func RecordRateLimitDecision(bucket, outcome string) {
	rateLimitDecisions.WithLabelValues(bucket, outcome).Inc()
}

// ObserveLatency records a latency observation in milliseconds for a subsystem.
func ObserveLatency(subsystem string, d time.Duration) {
	requestLatency.WithLabelValues(subsystem).Observe(float64(d.Milliseconds()))
}

// SetBeliefsActive records the active belief count for a level.
func SetBeliefsActive(level string, n int) { beliefsActive.WithLabelValues(level).Set(float64(n)) }

// SetQuarantinedNodes records the quarantined node count for a level.
func SetQuarantinedNodes(level string, n int) {
	quarantinedNodes.WithLabelValues(level).Set(float64(n))
}

// RecordReservation increments an S3 resource pool's reserve/release/deny counter.
func RecordReservation(resourceType, outcome string) {
	reservationsTotal.WithLabelValues(resourceType, outcome).Inc()
}

// ServeHTTP exposes the registry on /metrics at addr, serving from a
// background goroutine.
func ServeHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
