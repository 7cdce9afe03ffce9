// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persistence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/etalazz/vsm/internal/respool"
)

// IdemShim adapts an IdempotentPersister to respool.AuditSink, the interface
// internal/respool.Worker settles batches through. It generates a fresh
// idempotency CommitID per entry.
//
// Note: in production, prefer stable IDs across retries. This shim
// generates random IDs per call, sufficient since AuditEntry carries no
// natural key to derive one from.
type IdemShim struct {
	impl IdempotentPersister

	mu      sync.Mutex
	batches int64
	last    map[string]int64
}

func NewIdemShim(impl IdempotentPersister) *IdemShim {
	return &IdemShim{impl: impl, last: make(map[string]int64)}
}

// CommitBatch maps respool.AuditEntry -> CommitEntry and forwards to the
// idempotent persister.
func (s *IdemShim) CommitBatch(entries []respool.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	mapped := make([]CommitEntry, len(entries))
	for i, e := range entries {
		mapped[i] = CommitEntry{Key: e.ResourceType, Vector: e.NetReserved, CommitID: randomID()}
	}
	if err := s.impl.CommitBatch(context.Background(), mapped); err != nil {
		return err
	}
	s.mu.Lock()
	atomic.AddInt64(&s.batches, 1)
	for _, e := range entries {
		s.last[e.ResourceType] = e.NetReserved
	}
	s.mu.Unlock()
	return nil
}

// Summary implements respool.AuditSink.
func (s *IdemShim) Summary() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{"batches": itoa(atomic.LoadInt64(&s.batches))}
	for k, v := range s.last {
		out["last:"+k] = itoa(v)
	}
	return out
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
