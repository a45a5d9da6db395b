package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

func testTable() TierTable {
	return TierTable{
		Tiers: map[string]models.SubscriptionTier{
			"free": {
				Name:                  "free",
				MaxAgents:             2,
				MaxBatchOperationSize: 5,
				MaxConcurrentBatches:  1,
			},
			"pro": {
				Name:                  "pro",
				MaxAgents:             50,
				MaxBatchOperationSize: 100,
				MaxConcurrentBatches:  10,
				PriorityQueue:         true,
				PriorityWeight:        10,
				RateLimits: map[models.RateLimitClass]models.RateLimit{
					models.ClassDirect: {Limit: 600, Window: time.Minute},
				},
			},
		},
		Tenants:     map[string]string{"acme": "pro"},
		DefaultTier: "free",
	}
}

func newGate(t *testing.T, sink audit.Sink) *Gate {
	t.Helper()
	registry, err := NewStaticRegistry(testTable())
	if err != nil {
		t.Fatalf("NewStaticRegistry failed: %v", err)
	}
	return New(registry, sink)
}

func TestGateCheckQuota(t *testing.T) {
	g := newGate(t, nil)
	ctx := context.Background()

	t.Run("Within Limit", func(t *testing.T) {
		decision := g.CheckQuota(ctx, "tenant-1", models.ResourceAgents, 2)
		if !decision.Allowed {
			t.Errorf("Expected allowed, got %s", decision.Reason)
		}
	})

	t.Run("Over Limit", func(t *testing.T) {
		decision := g.CheckQuota(ctx, "tenant-1", models.ResourceAgents, 3)
		if decision.Allowed {
			t.Error("Expected denial: free tier allows 2 agents")
		}
		if decision.Reason == "" {
			t.Error("Expected a denial reason")
		}
	})

	t.Run("Does Not Consume", func(t *testing.T) {
		g.CheckQuota(ctx, "tenant-1", models.ResourceAgents, 2)
		if usage := g.Usage("tenant-1", models.ResourceAgents); usage != 0 {
			t.Errorf("CheckQuota must not record usage, got %d", usage)
		}
	})
}

func TestGateReserveAndRelease(t *testing.T) {
	g := newGate(t, nil)
	ctx := context.Background()

	if err := g.Reserve(ctx, "tenant-1", models.ResourceAgents, 2); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if usage := g.Usage("tenant-1", models.ResourceAgents); usage != 2 {
		t.Errorf("Expected usage 2, got %d", usage)
	}

	err := g.Reserve(ctx, "tenant-1", models.ResourceAgents, 1)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Expected ErrQuotaExceeded at capacity, got %v", err)
	}

	g.Release("tenant-1", models.ResourceAgents, 1)
	if err := g.Reserve(ctx, "tenant-1", models.ResourceAgents, 1); err != nil {
		t.Errorf("Expected reserve after release to succeed, got %v", err)
	}
}

func TestGateUsageNeverNegative(t *testing.T) {
	g := newGate(t, nil)

	g.Release("tenant-1", models.ResourceAgents, 5)
	if usage := g.Usage("tenant-1", models.ResourceAgents); usage != 0 {
		t.Errorf("Expected usage floored at 0, got %d", usage)
	}
}

// Two goroutines racing for the last unit of capacity: exactly one may win.
func TestGateConcurrentReserve(t *testing.T) {
	g := newGate(t, nil)
	ctx := context.Background()

	// free tier: 1 concurrent batch
	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Reserve(ctx, "tenant-1", models.ResourceBatches, 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("Expected exactly 1 successful reservation, got %d", granted)
	}
	if usage := g.Usage("tenant-1", models.ResourceBatches); usage != 1 {
		t.Errorf("Expected usage 1, got %d", usage)
	}
}

func TestGateTenantsAreIsolated(t *testing.T) {
	g := newGate(t, nil)
	ctx := context.Background()

	if err := g.Reserve(ctx, "tenant-1", models.ResourceBatches, 1); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := g.Reserve(ctx, "tenant-2", models.ResourceBatches, 1); err != nil {
		t.Errorf("tenant-2 must have its own counters, got %v", err)
	}
}

func TestGatePriorityOf(t *testing.T) {
	g := newGate(t, nil)

	if w := g.PriorityOf("acme"); w != 10 {
		t.Errorf("Expected pro weight 10, got %d", w)
	}
	if w := g.PriorityOf("unknown-tenant"); w != 1 {
		t.Errorf("Expected default tier weight 1, got %d", w)
	}
}

func TestGateRateLimitOverride(t *testing.T) {
	g := newGate(t, nil)

	rl, ok := g.RateLimitOverride("acme", models.ClassDirect)
	if !ok {
		t.Fatal("Expected a direct-class override for the pro tier")
	}
	if rl.Limit != 600 {
		t.Errorf("Expected limit 600, got %d", rl.Limit)
	}

	if _, ok := g.RateLimitOverride("acme", models.ClassBroadcast); ok {
		t.Error("Expected no broadcast override")
	}
	if _, ok := g.RateLimitOverride("unknown-tenant", models.ClassDirect); ok {
		t.Error("Expected no override for default tier")
	}
}

func TestGateAuditsDecisions(t *testing.T) {
	sink := audit.NewMemorySink()
	g := newGate(t, sink)
	ctx := context.Background()

	g.CheckQuota(ctx, "tenant-1", models.ResourceAgents, 1)
	_ = g.Reserve(ctx, "tenant-1", models.ResourceAgents, 100)

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("Expected 2 audit events, got %d", len(events))
	}
	if events[0].Outcome != audit.OutcomeSuccess {
		t.Errorf("Expected first event success, got %s", events[0].Outcome)
	}
	if events[1].Outcome != audit.OutcomeDenied {
		t.Errorf("Expected second event denied, got %s", events[1].Outcome)
	}
}
