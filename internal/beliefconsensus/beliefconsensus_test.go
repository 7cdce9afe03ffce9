package beliefconsensus

import (
	"testing"
	"time"

	"github.com/etalazz/vsm/internal/hlc"
)

func TestProposeBelief_ReturnsUniqueID(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id1, err := c.ProposeBelief("s4", "pattern-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := c.ProposeBelief("s4", "pattern-b", nil)
	if id1 == id2 {
		t.Fatal("expected distinct belief ids")
	}
}

func TestVoteOnBelief_UnknownBeliefReturnsNotFound(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	err := c.VoteOnBelief("s4", "missing", "node-a", 1, "x")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestGetConsensus_ReachesThresholdAtTwoThirds(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id, _ := c.ProposeBelief("s4", "initial", nil)
	c.VoteOnBelief("s4", id, "node-a", 2, "agreed")
	c.VoteOnBelief("s4", id, "node-b", 1, "disagreed")

	results := c.GetConsensus("s4")
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	if !results[0].Reached {
		t.Fatalf("expected 2/3 threshold reached (2 of 3 weight), got %+v", results[0])
	}
	if results[0].Content != "agreed" {
		t.Fatalf("expected winning content 'agreed', got %v", results[0].Content)
	}
}

func TestGetConsensus_BelowThresholdNotReached(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id, _ := c.ProposeBelief("s4", "initial", nil)
	c.VoteOnBelief("s4", id, "node-a", 1, "a")
	c.VoteOnBelief("s4", id, "node-b", 1, "b")

	results := c.GetConsensus("s4")
	if results[0].Reached {
		t.Fatalf("expected a 1-1 split to not reach 2/3, got %+v", results[0])
	}
}

func TestByzantineDetection_ContradictoryVotesDecayReputation(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id, _ := c.ProposeBelief("s4", "initial", nil)
	c.VoteOnBelief("s4", id, "node-a", 1, "x")
	c.VoteOnBelief("s4", id, "node-a", 1, "y") // contradicts its own prior vote

	rep := c.reputationFor("node-a")
	if rep.Score >= 1.0 {
		t.Fatalf("expected reputation to decay after contradictory votes, got %v", rep.Score)
	}
}

func TestByzantineDetection_MessageFloodQuarantines(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id, _ := c.ProposeBelief("s4", "initial", nil)
	for i := 0; i < 200; i++ {
		c.VoteOnBelief("s4", id, "flooder", 0.01, "x")
	}
	rep := c.reputationFor("flooder")
	if !rep.Quarantined {
		t.Fatal("expected sustained message flood to quarantine the node")
	}
	if err := c.VoteOnBelief("s4", id, "flooder", 1, "x"); err == nil {
		t.Fatal("expected quarantined node's votes to be rejected")
	}
}

func TestProposeBelief_EvictsOldestAtCapacity(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	var firstID string
	for i := 0; i < maxBeliefsPerLevel+1; i++ {
		id, _ := c.ProposeBelief("s4", i, nil)
		if i == 0 {
			firstID = id
		}
	}
	if err := c.VoteOnBelief("s4", firstID, "node-a", 1, "x"); err == nil {
		t.Fatal("expected the oldest belief to have been evicted at capacity")
	}
}

type fakePain struct{ screamed []string }

func (f *fakePain) EmergencyScream(source, reason string) {
	f.screamed = append(f.screamed, source+":"+reason)
}

func TestProposeBelief_HighUrgencyTriggersAlgedonicBypass(t *testing.T) {
	pain := &fakePain{}
	c := New(hlc.New("n1"), nil, pain, 0)
	c.ProposeBelief("s5", "critical constraint change", map[string]any{"urgency": 0.99})
	if len(pain.screamed) != 1 {
		t.Fatalf("expected urgency>0.95 to trigger emergency scream, got %d", len(pain.screamed))
	}
}

func TestForceConsensus_OverwritesBeliefSet(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	c.ProposeBelief("s4", "old", nil)
	c.ForceConsensus("s4", map[string]any{"forced-1": "new-content"})

	results := c.GetConsensus("s4")
	if len(results) != 1 || results[0].BeliefID != "forced-1" {
		t.Fatalf("expected force_consensus to overwrite the belief set, got %+v", results)
	}
}

func TestEvictExpired_RemovesBeliefsPastTTL(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 10*time.Millisecond)
	id, _ := c.ProposeBelief("s4", "ephemeral", nil)
	time.Sleep(20 * time.Millisecond)
	c.evictExpired()

	if err := c.VoteOnBelief("s4", id, "node-a", 1, "x"); err == nil {
		t.Fatal("expected expired belief to be evicted")
	}
}

func TestApplyRemote_LastWriterWinsByHLC(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id, _ := c.ProposeBelief("s4", "local", nil)

	ls := c.level("s4")
	ls.mu.Lock()
	existingTS := ls.beliefs[id].UpdatedAt
	ls.mu.Unlock()

	newer := hlcTriple{PhysicalMS: existingTS.PhysicalMS + 1000, Logical: 0, NodeID: "remote"}
	c.ApplyRemote(DeltaOp{BeliefID: id, Level: "s4", Kind: "update", Content: "remote-wins", Weight: 1, Timestamp: newer})

	ls.mu.Lock()
	got := ls.beliefs[id].Content
	ls.mu.Unlock()
	if got != "remote-wins" {
		t.Fatalf("expected newer remote timestamp to win, got %v", got)
	}
}

func TestApplyRemote_OlderTimestampKeepsLocalContentButMaxesWeight(t *testing.T) {
	c := New(hlc.New("n1"), nil, nil, 0)
	id, _ := c.ProposeBelief("s4", "local", nil)

	older := hlcTriple{PhysicalMS: 1, Logical: 0, NodeID: "remote"}
	c.ApplyRemote(DeltaOp{BeliefID: id, Level: "s4", Kind: "update", Content: "stale", Weight: 99, Timestamp: older})

	ls := c.level("s4")
	ls.mu.Lock()
	b := ls.beliefs[id]
	ls.mu.Unlock()
	if b.Content != "local" {
		t.Fatalf("expected older remote write to not overwrite local content, got %v", b.Content)
	}
	if b.Weight != 99 {
		t.Fatalf("expected weight to take the max even when content is rejected, got %v", b.Weight)
	}
}
