// Package ratelimit implements a fixed-window counter keyed by
// (agentID, limitClass), backed by the transport's key-value store so
// all bus processes sharing a store share the window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

// ErrRateLimitExceeded is returned when a window is exhausted
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// LimitResolver returns a limit override for an agent and class, when
// one exists (subscription tiers may override the defaults)
type LimitResolver func(agentID string, class models.RateLimitClass) (models.RateLimit, bool)

// Config holds the default per-class limits
type Config struct {
	Limits map[models.RateLimitClass]models.RateLimit `json:"limits"`
}

// DefaultConfig returns the stock per-class windows
func DefaultConfig() Config {
	return Config{
		Limits: map[models.RateLimitClass]models.RateLimit{
			models.ClassDirect:    {Limit: 60, Window: time.Minute},
			models.ClassBroadcast: {Limit: 10, Window: time.Minute},
			models.ClassHandoff:   {Limit: 20, Window: time.Minute},
		},
	}
}

// Limiter enforces per-sender windows through the transport counter.
// The counter key expires with the window, so an elapsed window resets
// on the next increment.
type Limiter struct {
	store    transport.Transport
	limits   map[models.RateLimitClass]models.RateLimit
	resolver LimitResolver
}

// NewLimiter creates a limiter with the configured defaults
func NewLimiter(store transport.Transport, config Config) *Limiter {
	limits := config.Limits
	if limits == nil {
		limits = DefaultConfig().Limits
	}
	return &Limiter{store: store, limits: limits}
}

// SetResolver installs a tier-override resolver
func (l *Limiter) SetResolver(resolver LimitResolver) {
	l.resolver = resolver
}

func (l *Limiter) limitFor(agentID string, class models.RateLimitClass) models.RateLimit {
	if l.resolver != nil {
		if rl, ok := l.resolver(agentID, class); ok && rl.Limit > 0 && rl.Window > 0 {
			return rl
		}
	}
	if rl, ok := l.limits[class]; ok {
		return rl
	}
	// Unknown class falls back to the direct-class defaults.
	return models.RateLimit{Limit: 60, Window: time.Minute}
}

func key(agentID string, class models.RateLimitClass) string {
	return fmt.Sprintf("ratelimit:%s:%s", agentID, class)
}

// Allow counts one operation against the sender's window, returning
// ErrRateLimitExceeded once the window's limit is reached. The count
// is incremented before comparison so every probe keeps the same
// global ceiling.
func (l *Limiter) Allow(ctx context.Context, agentID string, class models.RateLimitClass) error {
	rl := l.limitFor(agentID, class)

	count, err := l.store.Increment(ctx, key(agentID, class), rl.Window)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if count > int64(rl.Limit) {
		return ErrRateLimitExceeded
	}
	return nil
}

// State reports the current counter for one (agent, class) key; a
// missing key reads as zero
func (l *Limiter) State(ctx context.Context, agentID string, class models.RateLimitClass) (models.RateLimitState, error) {
	k := key(agentID, class)
	state := models.RateLimitState{Key: k}

	data, err := l.store.Get(ctx, k)
	if err != nil {
		return state, fmt.Errorf("rate limit read failed: %w", err)
	}
	if data == nil {
		return state, nil
	}

	var count int
	if _, err := fmt.Sscanf(string(data), "%d", &count); err != nil {
		return state, nil
	}
	state.Count = count
	return state, nil
}
