// This file implements the background worker that settles resource pool
// reservations into the audit trail and reclaims idle resource-type
// bookkeeping. Shape (commit loop with high/low-watermark hysteresis,
// max-age flush, separate eviction loop, graceful-stop final flush) is
// grounded on the teacher's rate-limiter Worker
// (internal/ratelimiter/core/worker.go).
package respool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/etalazz/vsm/internal/obslog"
	"github.com/etalazz/vsm/pkg/vsa"
)

var workerLog = obslog.Subsystem("respool.worker")

// Worker periodically settles a Pool's reservations into its audit sink and
// evicts resource types that have gone fully idle.
type Worker struct {
	pool               *Pool
	sink               AuditSink
	commitThreshold    int64
	lowCommitThreshold int64
	commitInterval     time.Duration
	commitMaxAge       time.Duration
	evictionAge        time.Duration
	evictionInterval   time.Duration
	stopChan           chan struct{}
	wg                 sync.WaitGroup
	stopped            uint32
}

// NewWorker configures a settlement/eviction worker for pool.
//
// commitThreshold is the high watermark: once |net reservations| for a
// resource type reaches this, the worker settles it to the audit sink.
// lowCommitThreshold re-arms the watermark once net reservations fall back
// below it, avoiding flapping commits near the threshold. commitMaxAge
// forces a settlement of any non-zero remainder that has gone stale.
func NewWorker(pool *Pool, sink AuditSink, commitThreshold, lowCommitThreshold int64, commitInterval, commitMaxAge, evictionAge, evictionInterval time.Duration) *Worker {
	return &Worker{
		pool:               pool,
		sink:               sink,
		commitThreshold:    commitThreshold,
		lowCommitThreshold: lowCommitThreshold,
		commitInterval:     commitInterval,
		commitMaxAge:       commitMaxAge,
		evictionAge:        evictionAge,
		evictionInterval:   evictionInterval,
		stopChan:           make(chan struct{}),
	}
}

// Start launches the worker's background goroutines.
func (w *Worker) Start() {
	workerLog.Info().Msg("starting resource pool settlement worker")
	w.wg.Add(2)
	go func() { defer w.wg.Done(); w.commitLoop() }()
	go func() { defer w.wg.Done(); w.evictionLoop() }()
}

// Stop gracefully stops the worker, performing a final flush first.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	workerLog.Info().Msg("stopping resource pool settlement worker")
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) commitLoop() {
	ticker := time.NewTicker(w.commitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.runCommitCycle(false)
		case <-w.stopChan:
			w.runCommitCycle(true)
			return
		}
	}
}

// runCommitCycle settles eligible resource types. When final is true it
// settles every non-zero remainder regardless of threshold, for shutdown.
func (w *Worker) runCommitCycle(final bool) {
	var entries []AuditEntry
	var instances []*vsa.VSA
	var amounts []int64

	now := time.Now()
	w.pool.ForEach(func(resourceType string, r *reservation) {
		_, vec := r.instance.State()
		absVec := vec
		if absVec < 0 {
			absVec = -absVec
		}

		shouldCommit := final && vec != 0
		if !shouldCommit {
			byThreshold := absVec >= w.commitThreshold
			last := atomic.LoadInt64(&r.lastAccessed)
			byMaxAge := w.commitMaxAge > 0 && vec != 0 && now.Sub(time.Unix(0, last)) >= w.commitMaxAge

			if byThreshold {
				if w.lowCommitThreshold <= 0 || r.armed.Load() {
					shouldCommit = true
				}
			} else if w.lowCommitThreshold > 0 && !r.armed.Load() && absVec <= w.lowCommitThreshold {
				r.armed.Store(true)
			}
			if byMaxAge {
				shouldCommit = true
			}
		}

		if shouldCommit {
			entries = append(entries, AuditEntry{ResourceType: resourceType, NetReserved: vec})
			instances = append(instances, r.instance)
			amounts = append(amounts, vec)
			r.armed.Store(false)
		}
	})

	if len(entries) == 0 {
		return
	}
	if err := w.sink.CommitBatch(entries); err != nil {
		workerLog.Error().Err(err).Int("entries", len(entries)).Msg("failed to settle resource pool batch")
		return
	}
	for i := range instances {
		instances[i].Commit(amounts[i])
	}
}

func (w *Worker) evictionLoop() {
	ticker := time.NewTicker(w.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.runEvictionCycle()
		case <-w.stopChan:
			return
		}
	}
}

// runEvictionCycle reclaims resource types that have been idle (no
// Reserve/Release touches) and fully settled (zero net reservation) for
// longer than evictionAge. A pool normally tracks a fixed small set of
// resource types, so eviction mainly guards against transient/ad-hoc types.
func (w *Worker) runEvictionCycle() {
	var toEvict []string
	now := time.Now()
	w.pool.ForEach(func(resourceType string, r *reservation) {
		last := atomic.LoadInt64(&r.lastAccessed)
		_, vec := r.instance.State()
		if vec == 0 && now.Sub(time.Unix(0, last)) > w.evictionAge {
			toEvict = append(toEvict, resourceType)
		}
	})
	for _, rt := range toEvict {
		w.pool.delete(rt)
	}
}
