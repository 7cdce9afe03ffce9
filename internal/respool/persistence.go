// This file defines the audit trail sink for settled resource pool
// reservations. Shape grounded on the teacher's Persister interface and
// mockPersister summary (internal/ratelimiter/core/persistence.go), with
// console output routed through internal/obslog instead of raw ANSI
// escapes, and the real backend delegated to internal/persist (adapted
// from the teacher's internal/ratelimiter/persistence package).
package respool

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// AuditEntry is one resource type's settled net reservation.
type AuditEntry struct {
	ResourceType string
	NetReserved  int64
}

// AuditSink receives settled batches from the Worker. Implementations may
// write to a database, a message broker, or (as in NewConsoleSink) stdout.
type AuditSink interface {
	CommitBatch(entries []AuditEntry) error
	Summary() map[string]string
}

// NewConsoleSink creates an AuditSink that logs settlements through
// internal/obslog and keeps running totals for an end-of-run summary,
// mirroring the teacher's end-of-process metrics banner.
func NewConsoleSink() AuditSink {
	return &consoleSink{}
}

type consoleSink struct {
	mu            sync.Mutex
	totalReserved int64
	totalBatches  int64
	byResource    map[string]int64
}

func (s *consoleSink) CommitBatch(entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	workerLog.Info().Int("entries", len(entries)).Msg("settling resource pool batch")

	s.mu.Lock()
	if s.byResource == nil {
		s.byResource = make(map[string]int64)
	}
	for _, e := range entries {
		mag := e.NetReserved
		if mag < 0 {
			mag = -mag
		}
		s.totalReserved += mag
		s.byResource[e.ResourceType] += e.NetReserved
		workerLog.Debug().Str("resource", e.ResourceType).Int64("net_reserved", e.NetReserved).Send()
	}
	s.totalBatches++
	s.mu.Unlock()
	return nil
}

// Summary returns a label->value map suitable for obslog.Section, showing
// per-resource-type running totals plus aggregate batch counts.
func (s *consoleSink) Summary() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := map[string]string{
		"total_settled": itoa(s.totalReserved),
		"batches":       itoa(s.totalBatches),
		"generated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	keys := make([]string, 0, len(s.byResource))
	for k := range s.byResource {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows["resource:"+k] = itoa(s.byResource[k])
	}
	return rows
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
