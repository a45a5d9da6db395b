package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

// MemoryTransport is an in-process Transport used by tests and local
// development. It preserves the contract of the Redis implementation:
// per-channel delivery order, TTL expiry on reads, (nil, nil) for
// missing keys.
type MemoryTransport struct {
	mu        sync.RWMutex
	connected bool

	values   map[string]memoryValue
	counters map[string]memoryCounter
	sets     map[string]map[string]struct{}
	handlers map[string][]Handler
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryTransport creates an in-memory transport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		values:   make(map[string]memoryValue),
		counters: make(map[string]memoryCounter),
		sets:     make(map[string]map[string]struct{}),
		handlers: make(map[string][]Handler),
	}
}

// Connect marks the transport ready
func (t *MemoryTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

// Close discards all state and subscriptions
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.values = make(map[string]memoryValue)
	t.counters = make(map[string]memoryCounter)
	t.sets = make(map[string]map[string]struct{})
	t.handlers = make(map[string][]Handler)
	return nil
}

// Health reports healthy while connected
func (t *MemoryTransport) Health() models.HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.connected {
		return models.HealthHealthy
	}
	return models.HealthUnknown
}

func (t *MemoryTransport) ensureConnected() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return ErrNotConnected
	}
	return nil
}

// Publish invokes every subscribed handler synchronously, in
// registration order. Synchronous delivery keeps publish order intact
// for a given channel.
func (t *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}

	t.mu.RLock()
	handlers := make([]Handler, len(t.handlers[channel]))
	copy(handlers, t.handlers[channel])
	t.mu.RUnlock()

	for _, h := range handlers {
		_ = h(ctx, payload)
	}
	return nil
}

// Subscribe registers a handler for a channel
func (t *MemoryTransport) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[channel] = append(t.handlers[channel], handler)
	return nil
}

// Unsubscribe drops all handlers for a channel
func (t *MemoryTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, channel)
	return nil
}

// Get returns a value, or (nil, nil) for missing or expired keys.
// Expired entries are evicted on read.
func (t *MemoryTransport) Get(ctx context.Context, key string) ([]byte, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.values[key]
	if !ok {
		return nil, nil
	}
	if !v.expiresAt.IsZero() && time.Now().After(v.expiresAt) {
		delete(t.values, key)
		return nil, nil
	}
	return v.data, nil
}

// Set stores a value; ttl <= 0 means no expiry
func (t *MemoryTransport) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}

	v := memoryValue{data: append([]byte(nil), value...)}
	if ttl > 0 {
		v.expiresAt = time.Now().Add(ttl)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = v
	return nil
}

// SetIfAbsent stores a value only when the key is missing or expired
func (t *MemoryTransport) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := t.ensureConnected(); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.values[key]; ok {
		if existing.expiresAt.IsZero() || time.Now().Before(existing.expiresAt) {
			return false, nil
		}
	}

	v := memoryValue{data: append([]byte(nil), value...)}
	if ttl > 0 {
		v.expiresAt = time.Now().Add(ttl)
	}
	t.values[key] = v
	return true, nil
}

// Delete removes a key
func (t *MemoryTransport) Delete(ctx context.Context, key string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
	return nil
}

// SetAdd adds a member to a set
func (t *MemoryTransport) SetAdd(ctx context.Context, key, member string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sets[key] == nil {
		t.sets[key] = make(map[string]struct{})
	}
	t.sets[key][member] = struct{}{}
	return nil
}

// SetRemove removes a member from a set
func (t *MemoryTransport) SetRemove(ctx context.Context, key, member string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.sets[key]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(t.sets, key)
		}
	}
	return nil
}

// SetMembers lists set members in unspecified order
func (t *MemoryTransport) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := make([]string, 0, len(t.sets[key]))
	for m := range t.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

// Increment atomically increments a counter, resetting it when its
// window has elapsed
func (t *MemoryTransport) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := t.ensureConnected(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	c, ok := t.counters[key]
	if !ok || (!c.expiresAt.IsZero() && now.After(c.expiresAt)) {
		c = memoryCounter{}
		if ttl > 0 {
			c.expiresAt = now.Add(ttl)
		}
	}
	c.count++
	t.counters[key] = c
	return c.count, nil
}

// FailingTransport wraps a Transport and fails publishes until the
// configured number of attempts has been consumed. Used by tests to
// exercise retry behavior.
type FailingTransport struct {
	Transport
	mu        sync.Mutex
	failsLeft int
}

// NewFailingTransport wraps inner, failing the first n publishes
func NewFailingTransport(inner Transport, n int) *FailingTransport {
	return &FailingTransport{Transport: inner, failsLeft: n}
}

// Publish fails while failures remain, then delegates
func (f *FailingTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	if f.failsLeft > 0 {
		f.failsLeft--
		f.mu.Unlock()
		return fmt.Errorf("transport unavailable")
	}
	f.mu.Unlock()
	return f.Transport.Publish(ctx, channel, payload)
}
