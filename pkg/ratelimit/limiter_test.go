package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

func newLimiter(t *testing.T, config Config) *Limiter {
	t.Helper()
	store := transport.NewMemoryTransport()
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return NewLimiter(store, config)
}

func TestLimiterAllowsUnderLimit(t *testing.T) {
	limiter := newLimiter(t, Config{
		Limits: map[models.RateLimitClass]models.RateLimit{
			models.ClassDirect: {Limit: 3, Window: time.Minute},
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); err != nil {
			t.Fatalf("Call %d should be allowed, got %v", i+1, err)
		}
	}
	if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected ErrRateLimitExceeded on call 4, got %v", err)
	}
}

func TestLimiterIsolatesAgentsAndClasses(t *testing.T) {
	limiter := newLimiter(t, Config{
		Limits: map[models.RateLimitClass]models.RateLimit{
			models.ClassDirect:    {Limit: 1, Window: time.Minute},
			models.ClassBroadcast: {Limit: 1, Window: time.Minute},
		},
	})
	ctx := context.Background()

	if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); err != nil {
		t.Fatalf("First direct call failed: %v", err)
	}
	if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Expected agent-a direct to be exhausted, got %v", err)
	}

	// Exhausting one class does not consume the other.
	if err := limiter.Allow(ctx, "agent-a", models.ClassBroadcast); err != nil {
		t.Errorf("Broadcast window should be independent, got %v", err)
	}
	// Another agent has its own window.
	if err := limiter.Allow(ctx, "agent-b", models.ClassDirect); err != nil {
		t.Errorf("agent-b window should be independent, got %v", err)
	}
}

func TestLimiterWindowReset(t *testing.T) {
	limiter := newLimiter(t, Config{
		Limits: map[models.RateLimitClass]models.RateLimit{
			models.ClassDirect: {Limit: 1, Window: 10 * time.Millisecond},
		},
	})
	ctx := context.Background()

	if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); err != nil {
		t.Fatalf("First call failed: %v", err)
	}
	if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Expected exhausted window, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); err != nil {
		t.Errorf("Expected fresh window after expiry, got %v", err)
	}
}

func TestLimiterResolverOverride(t *testing.T) {
	limiter := newLimiter(t, Config{
		Limits: map[models.RateLimitClass]models.RateLimit{
			models.ClassDirect: {Limit: 1, Window: time.Minute},
		},
	})
	limiter.SetResolver(func(agentID string, class models.RateLimitClass) (models.RateLimit, bool) {
		if agentID == "vip" {
			return models.RateLimit{Limit: 5, Window: time.Minute}, true
		}
		return models.RateLimit{}, false
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.Allow(ctx, "vip", models.ClassDirect); err != nil {
			t.Fatalf("vip call %d should be allowed, got %v", i+1, err)
		}
	}
	if err := limiter.Allow(ctx, "vip", models.ClassDirect); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected vip limit of 5, got %v", err)
	}

	// Non-overridden agents keep the default limit.
	if err := limiter.Allow(ctx, "plain", models.ClassDirect); err != nil {
		t.Fatalf("plain call 1 should be allowed, got %v", err)
	}
	if err := limiter.Allow(ctx, "plain", models.ClassDirect); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected plain limit of 1, got %v", err)
	}
}

func TestDefaultConfigWindows(t *testing.T) {
	config := DefaultConfig()

	direct := config.Limits[models.ClassDirect]
	if direct.Limit != 60 || direct.Window != time.Minute {
		t.Errorf("Unexpected direct defaults: %+v", direct)
	}
	broadcast := config.Limits[models.ClassBroadcast]
	if broadcast.Limit != 10 || broadcast.Window != time.Minute {
		t.Errorf("Unexpected broadcast defaults: %+v", broadcast)
	}
}
