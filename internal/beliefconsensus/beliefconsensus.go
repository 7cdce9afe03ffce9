// Package beliefconsensus implements per-VSM-level belief consensus (spec
// §4.13): reputation-weighted voting over a capped, TTL'd belief set, with
// Byzantine-node quarantine and CRDT-style delta sync across peers. The
// capped-registry-with-TTL-eviction shape follows the teacher's
// internal/respool.Pool + eviction worker (a sync.Map of live entries, swept
// by a background loop); voting/quarantine math is transcribed from spec
// §4.13 directly, since no pack example implements Byzantine vote filtering.
package beliefconsensus

import (
	"strconv"
	"sync"
	"time"

	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/vsmerr"
)

const (
	maxBeliefsPerLevel   = 100
	defaultTTL           = 10 * time.Minute
	defaultThreshold     = 2.0 / 3.0
	urgencyBypassAt      = 0.95
	byzantineMsgRateCap  = 100 // messages/sec sustained
	byzantineDecayFactor = 0.5
	byzantineThreshold   = 0.3 // spec §4.13: score below this quarantines the node
)

// Belief is one proposed statement at a VSM level.
type Belief struct {
	ID        string
	Level     string
	Content   any
	Meta      map[string]any
	Weight    float64
	CreatedAt time.Time
	UpdatedAt hlc.Timestamp
	Urgency   float64
}

// vote records one node's weighted vote on a belief.
type vote struct {
	nodeID string
	weight float64
	value  any // the voted-for content, for contradiction detection
}

type levelState struct {
	mu        sync.Mutex
	beliefs   map[string]*Belief
	votes     map[string][]vote // beliefID -> votes
	order     []string          // insertion order, for TTL + cap eviction
}

// Reputation tracks a node's standing for weighted voting and Byzantine
// detection (spec §4.13).
type Reputation struct {
	Score        float64
	MsgTimes     []time.Time
	Quarantined  bool
	contradicted map[string]any // beliefID -> last voted value, to detect flip-flop
}

// PainSink routes urgency>0.95 proposals through the algedonic bypass.
type PainSink interface {
	EmergencyScream(source, reason string)
}

// Consensus is the per-process belief-consensus actor, holding state for
// every VSM level it has seen.
type Consensus struct {
	clock *hlc.Clock
	bus   *eventbus.Bus
	pain  PainSink
	ttl   time.Duration

	mu                 sync.Mutex
	levels             map[string]*levelState
	reputation         map[string]*Reputation
	byzantineThreshold float64
}

// New constructs a Consensus actor. ttl<=0 selects defaultTTL. The
// Byzantine quarantine threshold defaults to byzantineThreshold (spec
// §4.13's 0.3); SetByzantineThreshold overrides it from config, mirroring
// the teacher's SetThreshold* configuration convention.
func New(clock *hlc.Clock, bus *eventbus.Bus, pain PainSink, ttl time.Duration) *Consensus {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Consensus{
		byzantineThreshold: byzantineThreshold,
		clock:              clock,
		bus:                bus,
		pain:               pain,
		ttl:                ttl,
		levels:             make(map[string]*levelState),
		reputation:         make(map[string]*Reputation),
	}
}

// SetByzantineThreshold overrides the reputation score below which a node is
// quarantined (spec §4.13, config.go's belief.byzantine_threshold).
func (c *Consensus) SetByzantineThreshold(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byzantineThreshold = v
}

func (c *Consensus) level(level string) *levelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls, ok := c.levels[level]
	if !ok {
		ls = &levelState{beliefs: make(map[string]*Belief), votes: make(map[string][]vote)}
		c.levels[level] = ls
	}
	return ls
}

func (c *Consensus) reputationFor(nodeID string) *Reputation {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reputation[nodeID]
	if !ok {
		r = &Reputation{Score: 1.0, contradicted: make(map[string]any)}
		c.reputation[nodeID] = r
	}
	return r
}

// ProposeBelief implements propose_belief(level, content, meta) (spec
// §4.13). Evicts the oldest belief if the level is at capacity.
func (c *Consensus) ProposeBelief(level string, content any, meta map[string]any) (string, error) {
	ls := c.level(level)
	id := c.nextID(level)
	urgency, _ := meta["urgency"].(float64)

	ls.mu.Lock()
	if len(ls.order) >= maxBeliefsPerLevel {
		oldest := ls.order[0]
		ls.order = ls.order[1:]
		delete(ls.beliefs, oldest)
		delete(ls.votes, oldest)
	}
	b := &Belief{
		ID: id, Level: level, Content: content, Meta: meta,
		CreatedAt: time.Now(), UpdatedAt: c.now(), Urgency: urgency,
	}
	ls.beliefs[id] = b
	ls.order = append(ls.order, id)
	ls.mu.Unlock()

	metrics.SetBeliefsActive(level, len(ls.order))

	if urgency > urgencyBypassAt && c.pain != nil {
		c.pain.EmergencyScream("belief_consensus", "urgent belief proposed")
	}
	return id, nil
}

func (c *Consensus) now() hlc.Timestamp {
	if c.clock == nil {
		return hlc.Fallback(time.Now())
	}
	return c.clock.Now()
}

func (c *Consensus) nextID(level string) string {
	ts := c.now()
	return level + ":" + ts.NodeID + ":" + strconv.FormatUint(ts.PhysicalMS, 10) + ":" + strconv.FormatUint(uint64(ts.Logical), 10)
}

// VoteOnBelief implements vote_on_belief(level, id, weight) (spec §4.13).
// The nodeID is the caller's identity (used for reputation and Byzantine
// detection); value is what the node asserts the belief's content should
// be, used to detect contradictory votes from the same node.
func (c *Consensus) VoteOnBelief(level, id, nodeID string, weight float64, value any) error {
	rep := c.reputationFor(nodeID)
	c.trackMessage(rep)
	metrics.SetQuarantinedNodes(level, c.countQuarantined())
	if rep.Quarantined {
		return vsmerr.ErrByzantineQuarantined
	}

	ls := c.level(level)
	ls.mu.Lock()
	if _, ok := ls.beliefs[id]; !ok {
		ls.mu.Unlock()
		return vsmerr.ErrNotFound
	}
	if prior, ok := rep.contradicted[id]; ok && prior != nil && value != nil && prior != value {
		c.mu.Lock()
		rep.Score *= byzantineDecayFactor
		if rep.Score < c.byzantineThreshold {
			rep.Quarantined = true
		}
		c.mu.Unlock()
	}
	rep.contradicted[id] = value

	weighted := weight * rep.Score
	ls.votes[id] = append(ls.votes[id], vote{nodeID: nodeID, weight: weighted, value: value})
	ls.mu.Unlock()
	return nil
}

func (c *Consensus) trackMessage(rep *Reputation) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	rep.MsgTimes = append(rep.MsgTimes, now)
	cutoff := now.Add(-time.Second)
	kept := rep.MsgTimes[:0]
	for _, t := range rep.MsgTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rep.MsgTimes = kept
	if len(rep.MsgTimes) > byzantineMsgRateCap {
		rep.Score *= byzantineDecayFactor
		if rep.Score < c.byzantineThreshold {
			rep.Quarantined = true
		}
	}
}

// isQuarantined reports a node's current quarantine status, re-checked on
// every GetConsensus call rather than cached at vote time: a node
// quarantined after casting votes must have those votes excluded from every
// subsequent tally (spec §4.13).
func (c *Consensus) isQuarantined(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reputation[nodeID]
	return ok && r.Quarantined
}

func (c *Consensus) countQuarantined() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.reputation {
		if r.Quarantined {
			n++
		}
	}
	return n
}

// FlagOscillationMember decays reputation for a node S2 has associated with
// an oscillating unit pair (spec §4.13 Byzantine detection condition c).
func (c *Consensus) FlagOscillationMember(nodeID string) {
	rep := c.reputationFor(nodeID)
	c.mu.Lock()
	rep.Score *= byzantineDecayFactor
	if rep.Score < c.byzantineThreshold {
		rep.Quarantined = true
	}
	c.mu.Unlock()
}

// ConsensusResult mirrors get_consensus(level)'s return shape.
type ConsensusResult struct {
	BeliefID string
	Content  any
	Weight   float64
	Reached  bool
}

// GetConsensus implements get_consensus(level) (spec §4.13): for every
// belief at level, sums quarantine-filtered weighted votes and reports
// whether the default 2/3 threshold of total cast weight was reached.
func (c *Consensus) GetConsensus(level string) []ConsensusResult {
	ls := c.level(level)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var out []ConsensusResult
	for id, b := range ls.beliefs {
		votes := ls.votes[id]
		var total float64
		tally := make(map[any]float64)
		for _, v := range votes {
			if c.isQuarantined(v.nodeID) {
				continue
			}
			total += v.weight
			tally[v.value] += v.weight
		}
		var bestValue any
		var bestWeight float64
		for val, w := range tally {
			if w > bestWeight {
				bestWeight = w
				bestValue = val
			}
		}
		reached := total > 0 && bestWeight/total >= defaultThreshold
		content := b.Content
		if reached {
			content = bestValue
		}
		out = append(out, ConsensusResult{BeliefID: id, Content: content, Weight: bestWeight, Reached: reached})
	}
	return out
}

// ForceConsensus implements force_consensus(level, beliefs) (spec §4.13,
// Open Question #2): overwrites the level's belief set with the given
// content, tagging each as superseded_by_force in its meta. Per-node
// reputations are left untouched; only the resulting belief content/weight
// is replaced.
func (c *Consensus) ForceConsensus(level string, beliefs map[string]any) {
	ls := c.level(level)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.beliefs = make(map[string]*Belief, len(beliefs))
	ls.votes = make(map[string][]vote, len(beliefs))
	ls.order = ls.order[:0]
	for id, content := range beliefs {
		ls.beliefs[id] = &Belief{
			ID: id, Level: level, Content: content,
			Meta:      map[string]any{"superseded_by_force": true},
			CreatedAt: time.Now(), UpdatedAt: c.now(),
		}
		ls.order = append(ls.order, id)
	}
}
