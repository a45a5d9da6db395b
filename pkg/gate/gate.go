// Package gate performs admission control: given a tenant's
// subscription tier and current resource usage, it decides whether an
// operation may proceed and computes the tenant's scheduling priority.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

// ErrQuotaExceeded is returned by Reserve when capacity is exhausted
var ErrQuotaExceeded = errors.New("quota exceeded")

// Decision is the outcome of a quota check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate is the admission controller. Usage counters and their checks
// share one mutex: a check followed by a reservation is a single
// critical section, so two concurrent submissions cannot both pass a
// check against the last unit of capacity.
type Gate struct {
	registry SubscriptionRegistry
	sink     audit.Sink

	mu    sync.Mutex
	usage map[string]map[models.Resource]int
}

// New creates a gate over a subscription registry
func New(registry SubscriptionRegistry, sink audit.Sink) *Gate {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Gate{
		registry: registry,
		sink:     sink,
		usage:    map[string]map[models.Resource]int{},
	}
}

func limitFor(tier models.SubscriptionTier, resource models.Resource) (int, bool) {
	switch resource {
	case models.ResourceAgents:
		return tier.MaxAgents, true
	case models.ResourceBatchSize:
		return tier.MaxBatchOperationSize, true
	case models.ResourceBatches:
		return tier.MaxConcurrentBatches, true
	}
	return 0, false
}

// usageOf reads a counter; callers hold g.mu
func (g *Gate) usageOf(tenantID string, resource models.Resource) int {
	if counters, ok := g.usage[tenantID]; ok {
		return counters[resource]
	}
	return 0
}

func (g *Gate) decide(tenantID string, resource models.Resource, delta int) Decision {
	tier := g.registry.GetTier(tenantID)
	limit, known := limitFor(tier, resource)
	if !known {
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown resource %q", resource)}
	}

	current := g.usageOf(tenantID, resource)
	if current+delta > limit {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("%s limit reached for tier %s: %d in use, %d requested, limit %d",
				resource, tier.Name, current, delta, limit),
		}
	}
	return Decision{Allowed: true}
}

// CheckQuota compares current usage plus the requested delta against
// the tenant's tier limit. Pure with respect to counters: no usage is
// recorded.
func (g *Gate) CheckQuota(ctx context.Context, tenantID string, resource models.Resource, delta int) Decision {
	g.mu.Lock()
	decision := g.decide(tenantID, resource, delta)
	g.mu.Unlock()

	g.auditDecision(ctx, tenantID, resource, delta, decision)
	return decision
}

// Reserve runs the quota check and, when allowed, records the usage
// delta in the same critical section
func (g *Gate) Reserve(ctx context.Context, tenantID string, resource models.Resource, delta int) error {
	g.mu.Lock()
	decision := g.decide(tenantID, resource, delta)
	if decision.Allowed {
		g.record(tenantID, resource, delta)
	}
	g.mu.Unlock()

	g.auditDecision(ctx, tenantID, resource, delta, decision)
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, decision.Reason)
	}
	return nil
}

// Release undoes a reservation
func (g *Gate) Release(tenantID string, resource models.Resource, delta int) {
	g.RecordUsageDelta(tenantID, resource, -delta)
}

// RecordUsageDelta applies a usage change. Counters never go negative.
func (g *Gate) RecordUsageDelta(tenantID string, resource models.Resource, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record(tenantID, resource, delta)
}

// record applies a delta; callers hold g.mu
func (g *Gate) record(tenantID string, resource models.Resource, delta int) {
	counters, ok := g.usage[tenantID]
	if !ok {
		counters = map[models.Resource]int{}
		g.usage[tenantID] = counters
	}
	counters[resource] += delta
	if counters[resource] < 0 {
		counters[resource] = 0
	}
}

// Usage reports a tenant's current counter for one resource
func (g *Gate) Usage(tenantID string, resource models.Resource) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usageOf(tenantID, resource)
}

// PriorityOf returns the tenant's scheduling weight, used as the batch
// queue sort key and never as an execution guarantee
func (g *Gate) PriorityOf(tenantID string) int {
	return g.registry.GetTier(tenantID).Weight()
}

// RateLimitOverride resolves a tier-level rate limit override for a
// tenant and class, when the tier defines one
func (g *Gate) RateLimitOverride(tenantID string, class models.RateLimitClass) (models.RateLimit, bool) {
	tier := g.registry.GetTier(tenantID)
	rl, ok := tier.RateLimits[class]
	return rl, ok
}

func (g *Gate) auditDecision(ctx context.Context, tenantID string, resource models.Resource, delta int, decision Decision) {
	outcome := audit.OutcomeSuccess
	if !decision.Allowed {
		outcome = audit.OutcomeDenied
	}
	g.sink.Record(ctx, audit.EventQuotaChecked, "check_quota", string(resource), outcome, map[string]interface{}{
		"tenant_id": tenantID,
		"delta":     delta,
		"reason":    decision.Reason,
	})
}
