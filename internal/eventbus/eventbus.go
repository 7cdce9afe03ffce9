// Package eventbus implements the process-wide, topic-keyed publish/subscribe
// bus (spec §4.2). Every publish allocates a fresh HLC timestamp and fans out
// asynchronously to subscribers of the topic and of the wildcard topic
// ":all". Delivery preserves per-subscriber, per-topic order; there is no
// cross-topic ordering guarantee (consumers needing causality compare HLC
// timestamps directly).
//
// The bounded-queue-per-subscriber, drop-oldest-on-overflow shape is
// grounded on the pack's pub/sub reference implementation
// (zJUNAIDz-vibe-learning-dump/go-concurrency/projects/pub-sub/final), the
// subscriber registry on the teacher's sync.Map-based Store
// (internal/respool/store.go).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/etalazz/vsm/internal/hlc"
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/vsmerr"
)

// WildcardTopic receives a copy of every published event regardless of topic.
const WildcardTopic = ":all"

// defaultQueueSize is the per-subscriber bounded queue depth (spec §4.2).
const defaultQueueSize = 4096

// maxDeliveryErrors is K: subscribers are auto-removed after this many
// consecutive delivery errors (spec §4.2).
const maxDeliveryErrors = 5

// Event is an immutable published event (spec §3).
type Event struct {
	ID        uint64
	Type      string
	Subsystem string
	Data      map[string]any
	Timestamp hlc.Timestamp
	CreatedAt string // ISO-8601 mirror of Timestamp.PhysicalMS
}

// Subscription is an opaque handle returned by Subscribe; pass it to
// Unsubscribe to stop delivery.
type Subscription struct {
	id    uint64
	topic string
	ch    chan Event
	bus   *Bus
}

// Events returns the channel a subscriber should range over to receive
// events in HLC order for its topic.
func (s *Subscription) Events() <-chan Event { return s.ch }

type subscriber struct {
	id      uint64
	ch      chan Event
	errors  atomic.Int32
	removed atomic.Bool
}

// Bus is the process-wide event bus singleton.
type Bus struct {
	clock    *hlc.Clock
	mu       sync.RWMutex
	topics   map[string][]*subscriber
	nextID   atomic.Uint64
	nextEvID atomic.Uint64
}

// New creates an EventBus driven by the given (process-wide) HLC clock.
func New(clock *hlc.Clock) *Bus {
	return &Bus{clock: clock, topics: make(map[string][]*subscriber)}
}

// Subscribe registers a new subscriber for topic, returning a Subscription
// whose channel delivers events in HLC order for that topic only.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	if topic == "" {
		return nil, vsmerr.ErrInvalidTopic
	}
	id := b.nextID.Add(1)
	sub := &subscriber{id: id, ch: make(chan Event, defaultQueueSize)}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	return &Subscription{id: id, topic: topic, ch: sub.ch, bus: b}, nil
}

// Unsubscribe removes a subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.topic, sub.id)
}

func (b *Bus) removeLocked(topic string, id uint64) {
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish allocates an HLC timestamp, builds an Event, and fans it out
// asynchronously to subscribers of topic and of WildcardTopic. It records
// publish/deliver counters into internal/metrics and never blocks on slow
// subscribers: a full subscriber queue drops its oldest entry and the bus
// emits a "bus_overflow" event to WildcardTopic.
func (b *Bus) Publish(topic, subsystem string, data map[string]any) (Event, error) {
	if topic == "" {
		return Event{}, vsmerr.ErrInvalidTopic
	}
	ev := Event{
		ID:        b.nextEvID.Add(1),
		Type:      topic,
		Subsystem: subsystem,
		Data:      data,
		Timestamp: b.clock.Now(),
	}
	ev.CreatedAt = isoFromMillis(ev.Timestamp.PhysicalMS)

	metrics.RecordPublish(topic)

	b.deliverTo(topic, ev)
	if topic != WildcardTopic {
		b.deliverTo(WildcardTopic, ev)
	}
	return ev, nil
}

func (b *Bus) deliverTo(topic string, ev Event) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.topics[topic]...)
	b.mu.RUnlock()

	var toRemove []uint64
	for _, s := range subs {
		if s.removed.Load() {
			continue
		}
		if !b.trySend(s, ev) {
			toRemove = append(toRemove, s.id)
		}
	}
	if len(toRemove) > 0 {
		b.mu.Lock()
		for _, id := range toRemove {
			b.removeLocked(topic, id)
		}
		b.mu.Unlock()
	}
}

// trySend enqueues ev on s.ch, dropping the oldest queued event on overflow
// and tracking consecutive failures so the subscriber can be auto-removed
// after maxDeliveryErrors. Returns false when the subscriber should be
// removed (ErrSubscriberUnreachable condition, spec §4.2).
func (b *Bus) trySend(s *subscriber, ev Event) bool {
	select {
	case s.ch <- ev:
		s.errors.Store(0)
		metrics.RecordDelivery(ev.Type, "ok")
		return true
	default:
		// Queue full: drop the oldest entry and retry once, emitting the
		// bus_overflow signal per spec §4.2.
		select {
		case <-s.ch:
			metrics.RecordDelivery(ev.Type, "dropped")
		default:
		}
		select {
		case s.ch <- ev:
			if ev.Type != "bus_overflow" {
				b.emitOverflow(ev.Type)
			}
			return true
		default:
			n := s.errors.Add(1)
			metrics.RecordDelivery(ev.Type, "error")
			if n >= maxDeliveryErrors {
				s.removed.Store(true)
				return false
			}
			return true
		}
	}
}

func (b *Bus) emitOverflow(topic string) {
	ev := Event{
		ID:        b.nextEvID.Add(1),
		Type:      "bus_overflow",
		Subsystem: "eventbus",
		Data:      map[string]any{"topic": topic},
		Timestamp: b.clock.Now(),
	}
	ev.CreatedAt = isoFromMillis(ev.Timestamp.PhysicalMS)
	b.deliverTo(WildcardTopic, ev)
}

func isoFromMillis(ms uint64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339Nano)
}
