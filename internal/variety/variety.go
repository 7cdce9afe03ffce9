// Package variety implements the VarietyChannel (spec §4.6): a directed,
// named, capacity-bounded queue between two subsystem endpoints, applying a
// direction-specific transform and emitting a pain signal through the
// algedonic channel when sustained full.
//
// The bounded-queue-with-drop-oldest-overflow and running-counter shape
// follows internal/eventbus (itself grounded on the pack's pub/sub
// reference); capacity accounting is the queue's length checked against
// capacity under the channel's mutex (pkg/vsa is not used here).
package variety

import (
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/obslog"
	"github.com/etalazz/vsm/internal/vsmerr"
)

var log = obslog.Subsystem("variety")

// ChannelType names one of the six fixed VSM channel directions.
type ChannelType string

const (
	S1ToS2  ChannelType = "s1->s2"
	S2ToS3  ChannelType = "s2->s3"
	S3ToS4  ChannelType = "s3->s4"
	S4ToS5  ChannelType = "s4->s5"
	S3ToS1  ChannelType = "s3->s1"
	S5ToAll ChannelType = "s5->all"
)

// PacketType classifies a VarietyPacket's payload kind (spec §3).
type PacketType string

const (
	Operational  PacketType = "operational"
	Coordinated  PacketType = "coordinated"
	Audit        PacketType = "audit"
	Intelligence PacketType = "intelligence"
	Policy       PacketType = "policy"
	Control      PacketType = "control"
)

// Packet is one unit of variety flowing through a channel.
type Packet struct {
	Type      PacketType
	Volume    int
	Patterns  []string
	Payload   any
	Timestamp time.Time
}

// Transform reduces a batch of inbound packets to the packets actually
// delivered downstream, implementing one of the six direction-specific
// rules in spec §4.6 (attenuation, aggregation, audit synthesis,
// intelligence distillation, amplification, constraint fan-out).
type Transform func(in []Packet) []Packet

// Stats mirrors spec §3's channel state running counters.
type Stats struct {
	ChannelType         ChannelType
	Capacity            int
	MessagesTransmitted int64
	CurrentFlow         int
	Dropped             int64
}

// PainSink receives an overflow-driven pain signal. internal/algedonic
// implements this; tests may stub it.
type PainSink interface {
	ReportOverflow(channel ChannelType, intensity float64)
}

// Channel is one directed VarietyChannel instance.
type Channel struct {
	channelType ChannelType
	capacity    int
	transform   Transform
	pain        PainSink
	overflowT   time.Duration

	mu        sync.Mutex
	queue     []Packet
	delivered int64
	dropped   int64

	fullSince time.Time
	wasFull   bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Config configures a Channel.
type Config struct {
	ChannelType ChannelType
	Capacity    int           // default 1000, spec §3
	Transform   Transform     // required
	Pain        PainSink      // optional
	OverflowT   time.Duration // default 1s, spec §4.6
}

// New constructs a Channel and starts its overflow-watch loop.
func New(cfg Config) *Channel {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.OverflowT <= 0 {
		cfg.OverflowT = time.Second
	}
	c := &Channel{
		channelType: cfg.ChannelType,
		capacity:    cfg.Capacity,
		transform:   cfg.Transform,
		pain:        cfg.Pain,
		overflowT:   cfg.OverflowT,
		stopChan:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.overflowWatchLoop()
	return c
}

// Close stops the overflow-watch loop.
func (c *Channel) Close() {
	close(c.stopChan)
	c.wg.Wait()
}

// Transmit applies the channel's transform to in and enqueues the result,
// dropping the oldest queued packet on overflow (spec §4.6).
func (c *Channel) Transmit(in ...Packet) error {
	if len(in) == 0 {
		return vsmerr.ErrInvalidInput
	}
	out := c.transform(in)

	c.mu.Lock()
	for _, p := range out {
		if len(c.queue) >= c.capacity {
			c.queue = c.queue[1:]
			c.dropped++
			metrics.RecordChannelDrop(string(c.channelType))
		}
		c.queue = append(c.queue, p)
		c.delivered++
	}
	flow := len(c.queue)
	c.mu.Unlock()

	metrics.SetChannelFlow(string(c.channelType), flow)
	return nil
}

// Receive dequeues the oldest packet for the downstream consumer. Returns
// ErrNotFound if the channel is empty.
func (c *Channel) Receive() (Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Packet{}, vsmerr.ErrNotFound
	}
	p := c.queue[0]
	c.queue = c.queue[1:]
	metrics.SetChannelFlow(string(c.channelType), len(c.queue))
	return p, nil
}

// GetChannelStats returns a snapshot of the channel's counters.
func (c *Channel) GetChannelStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ChannelType:         c.channelType,
		Capacity:            c.capacity,
		MessagesTransmitted: c.delivered,
		CurrentFlow:         len(c.queue),
		Dropped:             c.dropped,
	}
}

// overflowWatchLoop polls the queue every 100ms; if it has remained at
// capacity continuously for more than overflowT, it reports pain scaled by
// the overflow (drop) rate, per spec §4.6.
func (c *Channel) overflowWatchLoop() {
	defer c.wg.Done()
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	var lastDropped int64
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			full := len(c.queue) >= c.capacity
			dropped := c.dropped
			c.mu.Unlock()

			if full {
				if !c.wasFull {
					c.wasFull = true
					c.fullSince = time.Now()
				} else if time.Since(c.fullSince) > c.overflowT && c.pain != nil {
					rate := float64(dropped-lastDropped) * 10.0 // drops per second at 100ms poll
					intensity := rate
					if intensity > 1 {
						intensity = 1
					}
					c.pain.ReportOverflow(c.channelType, intensity)
				}
			} else {
				c.wasFull = false
			}
			lastDropped = dropped
		case <-c.stopChan:
			return
		}
	}
}
