package beliefconsensus

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    map[string]int
	failFor string
}

func (f *fakeTransport) Send(peer string, batch []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string]int)
	}
	if peer == f.failFor {
		return errTransportFail
	}
	f.sent[peer]++
	return nil
}

var errTransportFail = errors.New("transport failure")

func TestDeltaLog_RecordAndFlushRoutesByRendezvous(t *testing.T) {
	transport := &fakeTransport{}
	dl := NewDeltaLog(transport, []string{"peer-a", "peer-b", "peer-c"})
	dl.Record(DeltaOp{BeliefID: "belief-1", Level: "s4", Kind: "add", Content: "x"})
	dl.Flush()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	total := 0
	for _, n := range transport.sent {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected exactly one peer to receive the batch, got %+v", transport.sent)
	}
}

func TestDeltaLog_FailedSendRequeuesWithBackoff(t *testing.T) {
	transport := &fakeTransport{failFor: "peer-a"}
	dl := NewDeltaLog(transport, []string{"peer-a"})
	dl.Record(DeltaOp{BeliefID: "belief-1", Level: "s4", Kind: "add", Content: "x"})
	dl.Flush()

	dl.mu.Lock()
	pending := len(dl.pending["peer-a"])
	backoff := dl.backoff["peer-a"]
	dl.mu.Unlock()

	if pending != 1 {
		t.Fatalf("expected the failed op to be requeued, got %d pending", pending)
	}
	if backoff <= 0 {
		t.Fatal("expected a positive backoff after a failed send")
	}
}

func TestWorker_SweepEvictsAndStops(t *testing.T) {
	c := New(nil, nil, nil, 5*time.Millisecond)
	id, _ := c.ProposeBelief("s4", "ephemeral", nil)
	w := NewWorker(c, nil, 10*time.Millisecond, 0)
	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if err := c.VoteOnBelief("s4", id, "node-a", 1, "x"); err == nil {
		t.Fatal("expected the sweep loop to have evicted the expired belief")
	}
}
