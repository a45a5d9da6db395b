// +build property

package property

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/ratelimit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newLimiter(t *testing.T, limit int) *ratelimit.Limiter {
	t.Helper()

	store := transport.NewMemoryTransport()
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return ratelimit.NewLimiter(store, ratelimit.Config{
		Limits: map[models.RateLimitClass]models.RateLimit{
			models.ClassDirect: {Limit: limit, Window: time.Minute},
		},
	})
}

// TestRateWindowAdmission checks that a window admits exactly
// min(calls, limit) operations no matter how many are attempted.
func TestRateWindowAdmission(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = MinTestIterations
	properties := gopter.NewProperties(parameters)

	ctx := context.Background()

	properties.Property("admitted count equals min(calls, limit)", prop.ForAll(
		func(limit int, calls int) bool {
			limiter := newLimiter(t, limit)

			admitted := 0
			for i := 0; i < calls; i++ {
				err := limiter.Allow(ctx, "agent-a", models.ClassDirect)
				if err == nil {
					admitted++
				} else if !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
					return false
				}
			}

			expected := calls
			if limit < calls {
				expected = limit
			}
			return admitted == expected
		},
		gen.IntRange(1, 50),
		gen.IntRange(0, 120),
	))

	properties.Property("rejection is permanent within a window", prop.ForAll(
		func(limit int, extra int) bool {
			limiter := newLimiter(t, limit)

			for i := 0; i < limit; i++ {
				if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); err != nil {
					return false
				}
			}
			for i := 0; i < extra; i++ {
				if err := limiter.Allow(ctx, "agent-a", models.ClassDirect); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.IntRange(1, 30),
	))

	properties.Property("windows are isolated per agent", prop.ForAll(
		func(limit int, agents int) bool {
			limiter := newLimiter(t, limit)

			for a := 0; a < agents; a++ {
				agentID := fmt.Sprintf("agent-%d", a)
				for i := 0; i < limit; i++ {
					if err := limiter.Allow(ctx, agentID, models.ClassDirect); err != nil {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
