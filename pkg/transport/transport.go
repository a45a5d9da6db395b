package transport

import (
	"context"
	"errors"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

// ErrNotConnected is returned when an operation is attempted before Connect
var ErrNotConnected = errors.New("transport not connected")

// Handler is invoked for every payload published to a subscribed channel.
// Handlers for one channel run sequentially in publish order.
type Handler func(ctx context.Context, payload []byte) error

// Transport is a thin abstraction over a pub/sub-capable key-value store.
// Every component above it publishes, subscribes, and keeps TTL-bound
// state through this interface; nothing else touches the store directly.
type Transport interface {
	// Pub/sub. Messages published to one channel reach a given
	// subscriber in publish order; there is no cross-channel ordering.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Unsubscribe(ctx context.Context, channel string) error

	// Key-value with TTL. Get returns (nil, nil) for a missing key.
	// SetIfAbsent writes only when the key is absent and reports
	// whether the write happened; racing writers see exactly one win.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	// Membership indices.
	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Increment atomically increments a counter, applying ttl when the
	// key is created. Used for rate-limit windows.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Health() models.HealthStatus
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// DefaultRedisConfig returns sensible defaults for local development
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:   "localhost:6379",
		DB:        0,
		KeyPrefix: "coordbus:",
	}
}
