// Package handoff coordinates transfer-of-work proposals between
// agents. A handoff is created pending, answered once by its
// recipient, and expires automatically when its deadline passes.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/broker"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/metrics"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/ratelimit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/registry"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

var (
	// ErrHandoffNotFound is returned when no handoff exists for an ID
	ErrHandoffNotFound = errors.New("handoff not found")
	// ErrNotRecipient is returned when a responder is not the addressed agent
	ErrNotRecipient = errors.New("responder is not the handoff recipient")
	// ErrHandoffExpired is returned when a response arrives after the deadline
	ErrHandoffExpired = errors.New("handoff has expired")
	// ErrHandoffResolved is returned when a handoff already has a terminal status
	ErrHandoffResolved = errors.New("handoff is already resolved")
	// ErrSelfHandoff is returned when an agent hands work to itself
	ErrSelfHandoff = errors.New("cannot hand off a task to the initiating agent")
)

const (
	handoffKeyPrefix = "handoff:"
	pendingIndexKey  = "handoffs:pending"
)

// Config controls handoff retention and the expiration sweep
type Config struct {
	// DefaultTTL applies when a proposal omits its own deadline
	DefaultTTL time.Duration `json:"default_ttl"`
	// Retention bounds how long resolved handoffs remain queryable
	Retention time.Duration `json:"retention"`
	// SweepInterval is the cadence of the background expiration pass
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns production handoff settings
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    time.Hour,
		Retention:     7 * 24 * time.Hour,
		SweepInterval: 30 * time.Second,
	}
}

// Coordinator owns the handoff state machine
type Coordinator struct {
	store     transport.Transport
	broker    *broker.Broker
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	sink      audit.Sink
	collector metrics.Collector
	logger    logging.Logger
	config    Config
	clock     func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a handoff coordinator
func New(store transport.Transport, b *broker.Broker, reg *registry.Registry, limiter *ratelimit.Limiter, sink audit.Sink, collector metrics.Collector, logger logging.Logger, config Config) *Coordinator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Coordinator{
		store:     store,
		broker:    b,
		registry:  reg,
		limiter:   limiter,
		sink:      sink,
		collector: collector,
		logger:    logger,
		config:    config,
		clock:     time.Now,
	}
}

// Start launches the background expiration sweep
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.wg.Add(1)
	go c.sweepLoop()
	return nil
}

// Stop halts the sweep and waits for it to finish
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

// Initiate proposes a task transfer from one agent to another. The
// requested TTL is clamped to (0, MaxHandoffTTL]; zero or negative
// requests fall back to the configured default.
func (c *Coordinator) Initiate(ctx context.Context, from, to string, task map[string]interface{}, reason string, ttl time.Duration) (models.TaskHandoff, error) {
	if from == "" || to == "" {
		return models.TaskHandoff{}, &models.ValidationError{Field: "agent", Message: "handoff requires both initiator and recipient"}
	}
	if from == to {
		return models.TaskHandoff{}, ErrSelfHandoff
	}

	registered, err := c.registry.IsRegistered(ctx, to)
	if err != nil {
		return models.TaskHandoff{}, fmt.Errorf("failed to resolve recipient %s: %w", to, err)
	}
	if !registered {
		return models.TaskHandoff{}, fmt.Errorf("%w: %s", broker.ErrRecipientUnknown, to)
	}

	if err := c.limiter.Allow(ctx, from, models.ClassHandoff); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			c.collector.IncrementCounter(metrics.RateLimitRejections.Name, metrics.Labels("class", string(models.ClassHandoff)))
		}
		return models.TaskHandoff{}, err
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if ttl > models.MaxHandoffTTL {
		ttl = models.MaxHandoffTTL
	}

	h := models.NewHandoff(from, to, task, reason, ttl)
	if err := c.save(ctx, h); err != nil {
		return models.TaskHandoff{}, err
	}
	if err := c.store.SetAdd(ctx, pendingIndexKey, h.ID); err != nil {
		c.logger.Warn("failed to index pending handoff", logging.String("handoff_id", h.ID), logging.Err(err))
	}

	proposal := models.NewDirectMessage(from, to, map[string]interface{}{
		"handoff_id": h.ID,
		"task":       h.Task,
		"reason":     h.Reason,
		"expires_at": h.ExpiresAt,
	}, models.MsgHandoffProposal, h.ID)
	if err := c.broker.PublishEnvelope(ctx, broker.DirectChannel(to), proposal, from, to); err != nil {
		c.logger.Warn("failed to notify handoff recipient",
			logging.String("handoff_id", h.ID),
			logging.Err(err))
	}

	c.collector.IncrementCounter(metrics.HandoffTransitions.Name, metrics.Labels("to_status", string(models.HandoffPending)))
	c.sink.Record(ctx, audit.EventHandoffInitiated, "initiate", to, audit.OutcomeSuccess, map[string]interface{}{
		"handoff_id": h.ID,
		"from":       from,
		"expires_at": h.ExpiresAt,
	})
	c.logger.Info("handoff initiated",
		logging.String("handoff_id", h.ID),
		logging.String("from", from),
		logging.String("to", to),
		logging.Time("expires_at", h.ExpiresAt))

	return h, nil
}

// Respond records the recipient's decision on a pending handoff. A
// response that arrives after the deadline expires the handoff instead
// and returns ErrHandoffExpired.
func (c *Coordinator) Respond(ctx context.Context, handoffID, responder string, decision models.HandoffDecision, reason string) (models.TaskHandoff, error) {
	h, err := c.load(ctx, handoffID)
	if err != nil {
		return models.TaskHandoff{}, err
	}
	if responder != h.To {
		return models.TaskHandoff{}, fmt.Errorf("%w: %s", ErrNotRecipient, responder)
	}
	if h.Status.IsTerminal() {
		return h, fmt.Errorf("%w: status is %s", ErrHandoffResolved, h.Status)
	}
	if c.clock().After(h.ExpiresAt) {
		expired, expireErr := c.expire(ctx, h)
		if expireErr != nil {
			return models.TaskHandoff{}, expireErr
		}
		return expired, ErrHandoffExpired
	}

	switch decision {
	case models.DecisionAccept:
		h.Status = models.HandoffAccepted
	case models.DecisionReject:
		h.Status = models.HandoffRejected
	default:
		return models.TaskHandoff{}, &models.ValidationError{Field: "decision", Message: fmt.Sprintf("unknown decision %q", decision)}
	}

	if err := c.save(ctx, h); err != nil {
		return models.TaskHandoff{}, err
	}
	c.removePending(ctx, h.ID)

	response := models.NewDirectMessage(h.To, h.From, map[string]interface{}{
		"handoff_id": h.ID,
		"decision":   string(decision),
		"reason":     reason,
	}, models.MsgHandoffResponse, h.ID)
	if err := c.broker.PublishEnvelope(ctx, broker.DirectChannel(h.From), response, h.From, h.To); err != nil {
		c.logger.Warn("failed to notify handoff initiator",
			logging.String("handoff_id", h.ID),
			logging.Err(err))
	}

	eventType := audit.EventHandoffAccepted
	if h.Status == models.HandoffRejected {
		eventType = audit.EventHandoffRejected
	}
	c.collector.IncrementCounter(metrics.HandoffTransitions.Name, metrics.Labels("to_status", string(h.Status)))
	c.sink.Record(ctx, eventType, "respond", h.From, audit.OutcomeSuccess, map[string]interface{}{
		"handoff_id": h.ID,
		"responder":  responder,
		"reason":     reason,
	})
	c.logger.Info("handoff resolved",
		logging.String("handoff_id", h.ID),
		logging.String("status", string(h.Status)))

	return h, nil
}

// Get returns a handoff by ID, expiring it first when its deadline has
// already passed.
func (c *Coordinator) Get(ctx context.Context, handoffID string) (models.TaskHandoff, error) {
	h, err := c.load(ctx, handoffID)
	if err != nil {
		return models.TaskHandoff{}, err
	}
	if h.Status == models.HandoffPending && c.clock().After(h.ExpiresAt) {
		return c.expire(ctx, h)
	}
	return h, nil
}

// ListPending returns the IDs of handoffs still awaiting a response
func (c *Coordinator) ListPending(ctx context.Context) ([]string, error) {
	return c.store.SetMembers(ctx, pendingIndexKey)
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep(c.ctx)
		}
	}
}

// sweep expires every pending handoff whose deadline has passed and
// prunes index entries whose records are gone.
func (c *Coordinator) sweep(ctx context.Context) {
	ids, err := c.store.SetMembers(ctx, pendingIndexKey)
	if err != nil {
		c.logger.Warn("handoff sweep failed to list pending", logging.Err(err))
		return
	}

	now := c.clock()
	for _, id := range ids {
		h, err := c.load(ctx, id)
		if errors.Is(err, ErrHandoffNotFound) {
			c.removePending(ctx, id)
			continue
		}
		if err != nil {
			c.logger.Warn("handoff sweep lookup failed", logging.String("handoff_id", id), logging.Err(err))
			continue
		}
		if h.Status.IsTerminal() {
			c.removePending(ctx, id)
			continue
		}
		if now.After(h.ExpiresAt) {
			if _, err := c.expire(ctx, h); err != nil {
				c.logger.Warn("handoff sweep expire failed", logging.String("handoff_id", id), logging.Err(err))
			}
		}
	}
}

func (c *Coordinator) expire(ctx context.Context, h models.TaskHandoff) (models.TaskHandoff, error) {
	h.Status = models.HandoffExpired
	if err := c.save(ctx, h); err != nil {
		return models.TaskHandoff{}, err
	}
	c.removePending(ctx, h.ID)

	c.collector.IncrementCounter(metrics.HandoffTransitions.Name, metrics.Labels("to_status", string(models.HandoffExpired)))
	c.sink.Record(ctx, audit.EventHandoffExpired, "expire", h.From, audit.OutcomeSuccess, map[string]interface{}{
		"handoff_id": h.ID,
		"to":         h.To,
		"expired_at": h.ExpiresAt,
	})
	c.logger.Info("handoff expired", logging.String("handoff_id", h.ID))
	return h, nil
}

func (c *Coordinator) save(ctx context.Context, h models.TaskHandoff) error {
	data, err := models.HandoffToJSON(h)
	if err != nil {
		return fmt.Errorf("failed to encode handoff %s: %w", h.ID, err)
	}
	if err := c.store.Set(ctx, handoffKeyPrefix+h.ID, data, c.config.Retention); err != nil {
		return fmt.Errorf("failed to persist handoff %s: %w", h.ID, err)
	}
	return nil
}

func (c *Coordinator) load(ctx context.Context, id string) (models.TaskHandoff, error) {
	data, err := c.store.Get(ctx, handoffKeyPrefix+id)
	if err != nil {
		return models.TaskHandoff{}, fmt.Errorf("failed to load handoff %s: %w", id, err)
	}
	if data == nil {
		return models.TaskHandoff{}, fmt.Errorf("%w: %s", ErrHandoffNotFound, id)
	}
	return models.HandoffFromJSON(data)
}

func (c *Coordinator) removePending(ctx context.Context, id string) {
	if err := c.store.SetRemove(ctx, pendingIndexKey, id); err != nil {
		c.logger.Warn("failed to unindex handoff", logging.String("handoff_id", id), logging.Err(err))
	}
}
