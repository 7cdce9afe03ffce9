package respool

import (
	"github.com/etalazz/vsm/internal/metrics"
	"github.com/etalazz/vsm/internal/vsmerr"
)

// Reserve attempts to reserve amount units of resourceType for unit (the S1
// operational unit, or any caller-chosen identifier). It atomically
// check-and-consumes against the pool's VSA, the same TryConsume-guarded
// admission the teacher's HTTP handler uses per request
// (internal/ratelimiter/api/server.go handleCheckRateLimit), generalized
// from "1 request" to "amount resource units".
func (p *Pool) Reserve(resourceType, unit string, amount int64) error {
	if amount <= 0 {
		return vsmerr.ErrInvalidInput
	}
	r := p.getOrCreate(resourceType)
	if !r.instance.TryConsume(amount) {
		metrics.RecordReservation(resourceType, "denied")
		return vsmerr.ErrOverflow
	}
	r.ledgerMu.Lock()
	r.ledger[unit] += amount
	r.ledgerMu.Unlock()
	metrics.RecordReservation(resourceType, "reserved")
	return nil
}

// Release refunds amount units of resourceType previously reserved by unit.
// Releasing more than unit currently holds clamps to what it holds, mirroring
// TryRefund's clamp-at-zero behavior in pkg/vsa.
func (p *Pool) Release(resourceType, unit string, amount int64) error {
	if amount <= 0 {
		return vsmerr.ErrInvalidInput
	}
	r := p.getOrCreate(resourceType)

	r.ledgerMu.Lock()
	held := r.ledger[unit]
	if amount > held {
		amount = held
	}
	if amount <= 0 {
		r.ledgerMu.Unlock()
		return nil
	}
	r.ledger[unit] = held - amount
	if r.ledger[unit] == 0 {
		delete(r.ledger, unit)
	}
	r.ledgerMu.Unlock()

	r.instance.TryRefund(amount)
	metrics.RecordReservation(resourceType, "released")
	return nil
}

// Held returns the amount of resourceType currently reserved by unit.
func (p *Pool) Held(resourceType, unit string) int64 {
	r := p.getOrCreate(resourceType)
	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()
	return r.ledger[unit]
}
