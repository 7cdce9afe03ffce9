// Delta sync: CRDT-style eventually-consistent replication of belief state
// across peers (spec §4.13). Operations are commutative by (belief_id, HLC
// timestamp); last-writer-wins on content, max on weight. Batches over 5KB
// are compressed before shipping. A batch whose send fails is requeued and
// retried on the next Flush; the per-peer backoff duration is recorded but
// Flush does not wait on it. Peer ownership for a given belief is resolved via
// rendezvous hashing (github.com/dgryski/go-rendezvous), so every node
// computes the same replica set without a coordinator.
package beliefconsensus

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"
	"github.com/etalazz/vsm/internal/hlc"
)

const compressThresholdBytes = 5 * 1024

// DeltaOp is one CRDT operation in the per-level delta log.
type DeltaOp struct {
	BeliefID  string
	Level     string
	Kind      string // add | remove | update
	Content   any
	Weight    float64
	Timestamp hlcTriple
}

// hlcTriple is the wire-friendly projection of hlc.Timestamp used for
// ordering deltas without importing the hlc package's Clock machinery into
// the wire format.
type hlcTriple struct {
	PhysicalMS uint64
	Logical    uint32
	NodeID     string
}

func (a hlcTriple) less(b hlcTriple) bool {
	if a.PhysicalMS != b.PhysicalMS {
		return a.PhysicalMS < b.PhysicalMS
	}
	if a.Logical != b.Logical {
		return a.Logical < b.Logical
	}
	return a.NodeID < b.NodeID
}

// PeerTransport ships a (possibly compressed) batch to a peer.
type PeerTransport interface {
	Send(peer string, batch []byte) error
}

// DeltaLog accumulates per-level operations and syncs them to peers.
type DeltaLog struct {
	transport PeerTransport
	ring      *rendezvous.Rendezvous

	mu      sync.Mutex
	pending map[string][]DeltaOp // peer -> ops awaiting send
	backoff map[string]time.Duration
}

// NewDeltaLog constructs a DeltaLog that routes ops to peers via rendezvous
// hashing over peerIDs.
func NewDeltaLog(transport PeerTransport, peerIDs []string) *DeltaLog {
	return &DeltaLog{
		transport: transport,
		ring:      rendezvous.New(peerIDs, fnvHash),
		pending:   make(map[string][]DeltaOp),
		backoff:   make(map[string]time.Duration),
	}
}

func fnvHash(s string, seed uint64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	var seedBuf [8]byte
	for i := range seedBuf {
		seedBuf[i] = byte(seed >> (8 * i))
	}
	_, _ = h.Write(seedBuf[:])
	return h.Sum64()
}

// Record appends op to the owning peer's pending batch (spec §4.13
// "each level records per-operation deltas").
func (d *DeltaLog) Record(op DeltaOp) {
	owner := d.ring.Lookup(op.BeliefID)
	d.mu.Lock()
	d.pending[owner] = append(d.pending[owner], op)
	d.mu.Unlock()
}

// Flush ships every peer's pending batch, compressing batches over 5KB. A
// failed send requeues the batch for the next Flush and doubles that peer's
// recorded backoff duration (from 100ms, until it passes 30s); Flush does
// not consult that duration, so every Flush retries every pending peer.
func (d *DeltaLog) Flush() {
	d.mu.Lock()
	batches := d.pending
	d.pending = make(map[string][]DeltaOp)
	d.mu.Unlock()

	for peer, ops := range batches {
		if len(ops) == 0 {
			continue
		}
		raw, err := json.Marshal(ops)
		if err != nil {
			continue
		}
		payload := raw
		if len(raw) > compressThresholdBytes {
			payload = gzipBytes(raw)
		}
		if err := d.transport.Send(peer, payload); err != nil {
			d.requeueWithBackoff(peer, ops)
		} else {
			d.clearBackoff(peer)
		}
	}
}

func (d *DeltaLog) requeueWithBackoff(peer string, ops []DeltaOp) {
	d.mu.Lock()
	cur := d.backoff[peer]
	if cur <= 0 {
		cur = 100 * time.Millisecond
	} else if cur < 30*time.Second {
		cur *= 2
	}
	d.backoff[peer] = cur
	d.pending[peer] = append(d.pending[peer], ops...)
	d.mu.Unlock()
}

func (d *DeltaLog) clearBackoff(peer string) {
	d.mu.Lock()
	delete(d.backoff, peer)
	d.mu.Unlock()
}

func gzipBytes(raw []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(raw)
	_ = w.Close()
	return buf.Bytes()
}

// ApplyRemote merges a remote DeltaOp into the local level state: last-
// writer-wins on content by HLC timestamp, max on weight (spec §4.13).
func (c *Consensus) ApplyRemote(op DeltaOp) {
	ls := c.level(op.Level)
	remoteTS := hlc.Timestamp{PhysicalMS: op.Timestamp.PhysicalMS, Logical: op.Timestamp.Logical, NodeID: op.Timestamp.NodeID}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	existing, ok := ls.beliefs[op.BeliefID]
	switch op.Kind {
	case "remove":
		if ok {
			delete(ls.beliefs, op.BeliefID)
			delete(ls.votes, op.BeliefID)
		}
		return
	}

	if !ok {
		ls.beliefs[op.BeliefID] = &Belief{
			ID: op.BeliefID, Level: op.Level, Content: op.Content,
			Weight: op.Weight, UpdatedAt: remoteTS, CreatedAt: time.Now(),
		}
		ls.order = append(ls.order, op.BeliefID)
		return
	}

	if remoteTS.Less(existing.UpdatedAt) {
		// Local write is newer; only adopt the weight if remote's is larger.
		if op.Weight > existing.Weight {
			existing.Weight = op.Weight
		}
		return
	}
	existing.Content = op.Content
	existing.UpdatedAt = remoteTS
	if op.Weight > existing.Weight {
		existing.Weight = op.Weight
	}
}
