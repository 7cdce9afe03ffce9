package s3

import (
	"fmt"
	"time"

	"github.com/etalazz/vsm/internal/vsmerr"
)

// Action is one of the interventions S3 can apply to a unit (spec §4.10
// "intervene(target, action)"; the concrete verbs below are the pack's
// resource-pool vocabulary, the only actions S3 actually has levers for).
type Action string

const (
	ActionThrottle   Action = "throttle"
	ActionResume     Action = "resume"
	ActionReallocate Action = "reallocate"
	ActionReserve    Action = "reserve"
	ActionRelease    Action = "release"
)

// InterventionRequest is one intervene() call.
type InterventionRequest struct {
	Target       string // unit id
	Action       Action
	ResourceType string
	Amount       int64
}

// Intervene implements intervene(target, action) (spec §4.10). Identical
// (target, action, resourceType) calls within debounceWindow are collapsed:
// the second call is recorded as a no-op outcome rather than re-applied.
func (c *Control) Intervene(req InterventionRequest) error {
	key := fmt.Sprintf("%s:%s:%s", req.Target, req.Action, req.ResourceType)

	c.mu.Lock()
	if last, ok := c.lastIntervened[key]; ok && time.Since(last) < debounceWindow {
		c.mu.Unlock()
		c.recordAudit(req, "debounced", nil)
		return nil
	}
	c.lastIntervened[key] = time.Now()
	if c.mode == ModeNormal || c.mode == ModeMonitoring {
		c.mode = ModeIntervening
	}
	c.mu.Unlock()

	err := c.applyIntervention(req)
	c.recordAudit(req, string(req.Action), err)
	c.publishControl()
	return err
}

func (c *Control) applyIntervention(req InterventionRequest) error {
	switch req.Action {
	case ActionReserve:
		if c.pool == nil {
			return vsmerr.ErrInvalidInput
		}
		return c.pool.Reserve(req.ResourceType, req.Target, req.Amount)
	case ActionRelease:
		if c.pool == nil {
			return vsmerr.ErrInvalidInput
		}
		return c.pool.Release(req.ResourceType, req.Target, req.Amount)
	case ActionThrottle, ActionResume, ActionReallocate:
		// These are control-plane signals for S1 to act on; S3 only
		// records the decision and publishes it on s3_control. The
		// units themselves apply Throttle()/Resume() upon receipt.
		return nil
	default:
		return vsmerr.ErrInvalidInput
	}
}

func (c *Control) recordAudit(req InterventionRequest, decision string, outcome error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = append(c.audit, AuditEntry{
		Target:    req.Target,
		Action:    string(req.Action),
		Inputs:    map[string]any{"resource_type": req.ResourceType, "amount": req.Amount},
		Decision:  decision,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
	if len(c.audit) > auditRingCap {
		c.audit = c.audit[len(c.audit)-auditRingCap:]
	}
}

// OptimizeResources implements optimize_resources() (spec §4.10): scans
// every tracked resource type and, for any pool running hot (>90% of
// capacity allocated), records a reallocate intervention targeted at the
// pool itself ("pool:<type>") and publishes it on s3_control. No individual
// holder is chosen and no reservation is moved.
func (c *Control) OptimizeResources() []AuditEntry {
	if c.pool == nil {
		return nil
	}
	var touched []AuditEntry
	for _, resourceType := range c.pool.ResourceTypes() {
		total := c.pool.Total(resourceType)
		if total <= 0 {
			continue
		}
		allocated := c.pool.Allocated(resourceType)
		if float64(allocated)/float64(total) <= 0.90 {
			continue
		}
		req := InterventionRequest{Target: "pool:" + resourceType, Action: ActionReallocate, ResourceType: resourceType}
		_ = c.Intervene(req)
		c.mu.Lock()
		if n := len(c.audit); n > 0 {
			touched = append(touched, c.audit[n-1])
		}
		c.mu.Unlock()
	}
	return touched
}
