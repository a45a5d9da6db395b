package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

// RedisTransport implements Transport on a Redis server. Channel
// ordering is delegated to Redis pub/sub, which delivers messages on
// one channel to a subscriber in publish order.
type RedisTransport struct {
	client    *redis.Client
	config    RedisConfig
	mu        sync.RWMutex
	connected bool
	health    models.HealthStatus

	subs map[string]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisTransport creates a Redis-backed transport
func NewRedisTransport(config RedisConfig) *RedisTransport {
	return &RedisTransport{
		config: config,
		subs:   make(map[string]*redis.PubSub),
		health: models.HealthUnknown,
	}
}

// Connect establishes the Redis connection
func (t *RedisTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     t.config.Address,
		Password: t.config.Password,
		DB:       t.config.DB,
	})

	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.connected = true
	t.health = models.HealthHealthy

	return nil
}

// Close shuts down subscriptions and the connection
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	if t.cancel != nil {
		t.cancel()
	}

	for channel, sub := range t.subs {
		sub.Close()
		delete(t.subs, channel)
	}

	t.wg.Wait()

	if err := t.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	t.connected = false
	t.health = models.HealthUnknown

	return nil
}

// Health returns the current health status
func (t *RedisTransport) Health() models.HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.health
}

func (t *RedisTransport) key(k string) string {
	return t.config.KeyPrefix + k
}

func (t *RedisTransport) channel(c string) string {
	return t.config.KeyPrefix + c
}

func (t *RedisTransport) ensureConnected() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return ErrNotConnected
	}
	return nil
}

// Publish sends a payload to all current subscribers of a channel
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.channel(channel), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler for a channel. One consumer goroutine
// per channel keeps handler invocation in delivery order.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subs[channel]; exists {
		return fmt.Errorf("already subscribed to channel: %s", channel)
	}

	sub := t.client.Subscribe(ctx, t.channel(channel))

	// Wait for the subscription to be confirmed so publishes after
	// Subscribe returns are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	t.subs[channel] = sub

	t.wg.Add(1)
	go t.consume(sub, handler)

	return nil
}

// Unsubscribe removes the subscription for a channel
func (t *RedisTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, exists := t.subs[channel]
	if !exists {
		return nil
	}

	if err := sub.Close(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	delete(t.subs, channel)

	return nil
}

func (t *RedisTransport) consume(sub *redis.PubSub, handler Handler) {
	defer t.wg.Done()

	ch := sub.Channel()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Handler errors are the handler's concern; a failed
			// delivery must not stop the consumer.
			_ = handler(t.ctx, []byte(msg.Payload))
		}
	}
}

// Get retrieves a value, returning (nil, nil) when the key is absent
func (t *RedisTransport) Get(ctx context.Context, key string) ([]byte, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	data, err := t.client.Get(ctx, t.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return data, nil
}

// Set stores a value; ttl <= 0 means no expiry
func (t *RedisTransport) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := t.client.Set(ctx, t.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores a value only when the key does not exist
func (t *RedisTransport) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := t.ensureConnected(); err != nil {
		return false, err
	}
	if ttl < 0 {
		ttl = 0
	}
	stored, err := t.client.SetNX(ctx, t.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return stored, nil
}

// Delete removes a key
func (t *RedisTransport) Delete(ctx context.Context, key string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if err := t.client.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// SetAdd adds a member to a membership index
func (t *RedisTransport) SetAdd(ctx context.Context, key, member string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if err := t.client.SAdd(ctx, t.key(key), member).Err(); err != nil {
		return fmt.Errorf("failed to add member to %s: %w", key, err)
	}
	return nil
}

// SetRemove removes a member from a membership index
func (t *RedisTransport) SetRemove(ctx context.Context, key, member string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if err := t.client.SRem(ctx, t.key(key), member).Err(); err != nil {
		return fmt.Errorf("failed to remove member from %s: %w", key, err)
	}
	return nil
}

// SetMembers lists the members of a membership index
func (t *RedisTransport) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	members, err := t.client.SMembers(ctx, t.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", key, err)
	}
	return members, nil
}

// Increment atomically increments a counter, setting ttl on creation
func (t *RedisTransport) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := t.ensureConnected(); err != nil {
		return 0, err
	}

	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, t.key(key))
	pipe.ExpireNX(ctx, t.key(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), nil
}
