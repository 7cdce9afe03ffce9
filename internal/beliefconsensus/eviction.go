package beliefconsensus

import (
	"sync"
	"time"
)

// Worker runs the TTL eviction sweep and periodic delta-sync flush, mirroring
// internal/respool.Worker's separate commit/eviction loop shape.
type Worker struct {
	consensus *Consensus
	deltaLog  *DeltaLog

	sweepInterval time.Duration
	flushInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker constructs a Worker. deltaLog may be nil if sync is disabled.
func NewWorker(c *Consensus, deltaLog *DeltaLog, sweepInterval, flushInterval time.Duration) *Worker {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Worker{consensus: c, deltaLog: deltaLog, sweepInterval: sweepInterval, flushInterval: flushInterval, stopChan: make(chan struct{})}
}

// Start launches the sweep and flush loops.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.sweepLoop()
	if w.deltaLog != nil {
		w.wg.Add(1)
		go w.flushLoop()
	}
}

// Stop halts both loops and waits for them to exit.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) sweepLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.consensus.evictExpired()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Worker) flushLoop() {
	defer w.wg.Done()
	t := time.NewTicker(w.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.deltaLog.Flush()
		case <-w.stopChan:
			return
		}
	}
}

// evictExpired removes beliefs older than the Consensus's TTL from every
// tracked level (spec §4.13 "each level maintains <=100 beliefs with TTL").
func (c *Consensus) evictExpired() {
	c.mu.Lock()
	levels := make([]*levelState, 0, len(c.levels))
	for _, ls := range c.levels {
		levels = append(levels, ls)
	}
	c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	for _, ls := range levels {
		ls.mu.Lock()
		kept := ls.order[:0]
		for _, id := range ls.order {
			b := ls.beliefs[id]
			if b != nil && b.CreatedAt.Before(cutoff) {
				delete(ls.beliefs, id)
				delete(ls.votes, id)
				continue
			}
			kept = append(kept, id)
		}
		ls.order = kept
		ls.mu.Unlock()
	}
}
