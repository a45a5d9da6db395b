// Package broker routes direct and broadcast messages between agents.
// Every send is validated, rate limited, published through the
// transport, and persisted into a TTL-bound history so late joiners
// can replay recent traffic.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/metrics"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/ratelimit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/registry"
	"github.com/CodingButter/team-dashboard-sub004/pkg/resilience"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

var (
	// ErrSelfDelivery is returned when a direct message addresses its own sender
	ErrSelfDelivery = errors.New("sender and recipient are the same agent")
	// ErrRecipientUnknown is returned when the recipient is not registered
	ErrRecipientUnknown = errors.New("recipient is not a registered agent")
	// ErrStaleTimestamp is returned when a relayed envelope is older than the staleness window
	ErrStaleTimestamp = errors.New("message timestamp is stale")
)

// MessageHandler receives decoded envelopes from a subscription
type MessageHandler func(ctx context.Context, msg models.Message) error

// Config controls retention and validation windows
type Config struct {
	// DirectRetention bounds how long delivered direct messages stay in history
	DirectRetention time.Duration `json:"direct_retention"`
	// BroadcastRetention bounds how long broadcasts stay in history
	BroadcastRetention time.Duration `json:"broadcast_retention"`
	// HandoffRetention bounds how long handoff envelopes stay in history
	HandoffRetention time.Duration `json:"handoff_retention"`
	// StalenessWindow rejects relayed envelopes timestamped further in the past
	StalenessWindow time.Duration `json:"staleness_window"`
	// Retry governs transient publish failures
	Retry resilience.RetryConfig `json:"retry"`
}

// DefaultConfig returns production retention windows
func DefaultConfig() Config {
	return Config{
		DirectRetention:    24 * time.Hour,
		BroadcastRetention: 12 * time.Hour,
		HandoffRetention:   7 * 24 * time.Hour,
		StalenessWindow:    5 * time.Minute,
		Retry:              resilience.DefaultRetryConfig(),
	}
}

// Broker validates, rate limits, delivers, and records messages
type Broker struct {
	store     transport.Transport
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	retryer   *resilience.Retryer
	sink      audit.Sink
	collector metrics.Collector
	logger    logging.Logger
	config    Config
	clock     func() time.Time
}

// New creates a message broker. A nil sink or collector falls back to
// the no-op implementation.
func New(store transport.Transport, reg *registry.Registry, limiter *ratelimit.Limiter, sink audit.Sink, collector metrics.Collector, logger logging.Logger, config Config) *Broker {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Broker{
		store:     store,
		registry:  reg,
		limiter:   limiter,
		retryer:   resilience.NewRetryer(config.Retry),
		sink:      sink,
		collector: collector,
		logger:    logger,
		config:    config,
		clock:     time.Now,
	}
}

// DirectChannel names the per-agent inbox channel
func DirectChannel(agentID string) string {
	return "direct:" + agentID
}

// BroadcastChannel names a topic channel
func BroadcastChannel(channel string) string {
	return "broadcast:" + channel
}

func historyIndexKey(owner string) string {
	return "history:index:" + owner
}

func historyMessageKey(id string) string {
	return "history:msg:" + id
}

// SendDirect delivers a message to a single recipient's inbox. The
// envelope may have been constructed by a remote client, so its
// timestamp is validated against the staleness window rather than
// replaced.
func (b *Broker) SendDirect(ctx context.Context, msg models.Message) (models.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		b.reject(ctx, msg, "invalid_envelope", err)
		return models.DeliveryResult{}, err
	}
	if msg.To == "" {
		err := &models.ValidationError{Field: "to", Message: "direct message requires a recipient"}
		b.reject(ctx, msg, "invalid_envelope", err)
		return models.DeliveryResult{}, err
	}
	if !models.IsDirectType(msg.Type) {
		err := &models.ValidationError{Field: "type", Message: fmt.Sprintf("%s is not a direct message type", msg.Type)}
		b.reject(ctx, msg, "invalid_envelope", err)
		return models.DeliveryResult{}, err
	}
	if msg.From == msg.To {
		b.reject(ctx, msg, "self_delivery", ErrSelfDelivery)
		return models.DeliveryResult{}, ErrSelfDelivery
	}
	if err := b.checkStaleness(msg); err != nil {
		b.reject(ctx, msg, "stale_timestamp", err)
		return models.DeliveryResult{}, err
	}

	registered, err := b.registry.IsRegistered(ctx, msg.To)
	if err != nil {
		return models.DeliveryResult{}, fmt.Errorf("failed to resolve recipient %s: %w", msg.To, err)
	}
	if !registered {
		b.reject(ctx, msg, "unknown_recipient", ErrRecipientUnknown)
		return models.DeliveryResult{}, fmt.Errorf("%w: %s", ErrRecipientUnknown, msg.To)
	}

	if err := b.limiter.Allow(ctx, msg.From, models.ClassDirect); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			b.collector.IncrementCounter(metrics.RateLimitRejections.Name, metrics.Labels("class", string(models.ClassDirect)))
			b.reject(ctx, msg, "rate_limited", err)
		}
		return models.DeliveryResult{}, err
	}

	if err := b.publish(ctx, DirectChannel(msg.To), msg, "direct"); err != nil {
		return models.DeliveryResult{}, err
	}
	b.persist(ctx, msg, b.config.DirectRetention, msg.From, msg.To)

	b.collector.IncrementCounter(metrics.MessagesDelivered.Name, metrics.Labels("message_type", string(msg.Type)))
	b.sink.Record(ctx, audit.EventMessageDelivered, "send_direct", msg.To, audit.OutcomeSuccess, map[string]interface{}{
		"message_id": msg.ID,
		"from":       msg.From,
		"type":       string(msg.Type),
	})
	b.logger.Debug("direct message delivered",
		logging.String("message_id", msg.ID),
		logging.String("from", msg.From),
		logging.String("to", msg.To))

	return models.DeliveryResult{MessageID: msg.ID, DeliveredAt: b.clock()}, nil
}

// Broadcast publishes a message to every subscriber of a topic channel
func (b *Broker) Broadcast(ctx context.Context, msg models.Message) (models.DeliveryResult, error) {
	if err := msg.Validate(); err != nil {
		b.reject(ctx, msg, "invalid_envelope", err)
		return models.DeliveryResult{}, err
	}
	if msg.Channel == "" {
		err := &models.ValidationError{Field: "channel", Message: "broadcast requires a channel"}
		b.reject(ctx, msg, "invalid_envelope", err)
		return models.DeliveryResult{}, err
	}
	if !models.IsBroadcastType(msg.Type) {
		err := &models.ValidationError{Field: "type", Message: fmt.Sprintf("%s is not a broadcast message type", msg.Type)}
		b.reject(ctx, msg, "invalid_envelope", err)
		return models.DeliveryResult{}, err
	}
	if err := b.checkStaleness(msg); err != nil {
		b.reject(ctx, msg, "stale_timestamp", err)
		return models.DeliveryResult{}, err
	}

	if err := b.limiter.Allow(ctx, msg.From, models.ClassBroadcast); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			b.collector.IncrementCounter(metrics.RateLimitRejections.Name, metrics.Labels("class", string(models.ClassBroadcast)))
			b.reject(ctx, msg, "rate_limited", err)
		}
		return models.DeliveryResult{}, err
	}

	if err := b.publish(ctx, BroadcastChannel(msg.Channel), msg, "broadcast"); err != nil {
		return models.DeliveryResult{}, err
	}
	b.persist(ctx, msg, b.config.BroadcastRetention, msg.From, "channel:"+msg.Channel)

	b.collector.IncrementCounter(metrics.BroadcastsSent.Name, metrics.Labels("channel", msg.Channel, "message_type", string(msg.Type)))
	b.sink.Record(ctx, audit.EventBroadcastSent, "broadcast", msg.Channel, audit.OutcomeSuccess, map[string]interface{}{
		"message_id": msg.ID,
		"from":       msg.From,
		"type":       string(msg.Type),
	})

	return models.DeliveryResult{MessageID: msg.ID, DeliveredAt: b.clock()}, nil
}

// PublishEnvelope delivers a pre-built envelope to a raw channel,
// bypassing addressing validation. Used for control-plane traffic such
// as handoff proposals; the envelope is still recorded into history
// under the handoff retention window.
func (b *Broker) PublishEnvelope(ctx context.Context, channel string, msg models.Message, owners ...string) error {
	if err := b.publish(ctx, channel, msg, "envelope"); err != nil {
		return err
	}
	b.persist(ctx, msg, b.config.HandoffRetention, owners...)
	return nil
}

// SubscribeDirect registers a handler for one agent's inbox
func (b *Broker) SubscribeDirect(ctx context.Context, agentID string, handler MessageHandler) error {
	return b.subscribe(ctx, DirectChannel(agentID), handler)
}

// SubscribeBroadcast registers a handler for a topic channel
func (b *Broker) SubscribeBroadcast(ctx context.Context, channel string, handler MessageHandler) error {
	return b.subscribe(ctx, BroadcastChannel(channel), handler)
}

// Unsubscribe stops delivery for a raw channel name
func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	return b.store.Unsubscribe(ctx, channel)
}

func (b *Broker) subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	return b.store.Subscribe(ctx, channel, func(ctx context.Context, payload []byte) error {
		msg, err := models.MessageFromJSON(payload)
		if err != nil {
			b.logger.Warn("discarding undecodable message",
				logging.String("channel", channel),
				logging.Err(err))
			return nil
		}
		return handler(ctx, msg)
	})
}

// GetHistory returns retained messages for an agent or channel owner,
// oldest first. A non-zero since drops older entries; a positive limit
// keeps only the newest entries. History is best effort: store read
// failures degrade to an empty result, and expired entries are evicted
// from the index as they are discovered.
func (b *Broker) GetHistory(ctx context.Context, owner string, since time.Time, limit int) ([]models.Message, error) {
	ids, err := b.store.SetMembers(ctx, historyIndexKey(owner))
	if err != nil {
		b.logger.Warn("history index unavailable", logging.String("owner", owner), logging.Err(err))
		return []models.Message{}, nil
	}

	messages := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		data, err := b.store.Get(ctx, historyMessageKey(id))
		if err != nil {
			b.logger.Warn("history lookup failed", logging.String("message_id", id), logging.Err(err))
			continue
		}
		if data == nil {
			// Value expired; drop the dangling index entry.
			_ = b.store.SetRemove(ctx, historyIndexKey(owner), id)
			continue
		}
		msg, err := models.MessageFromJSON(data)
		if err != nil {
			b.logger.Warn("discarding corrupt history entry", logging.String("message_id", id), logging.Err(err))
			continue
		}
		if !since.IsZero() && msg.Timestamp.Before(since) {
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (b *Broker) publish(ctx context.Context, channel string, msg models.Message, kind string) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}

	start := b.clock()
	err = b.retryer.Execute(ctx, func(ctx context.Context) error {
		return b.store.Publish(ctx, channel, payload)
	})
	b.collector.ObserveDuration(metrics.MessageDeliveryLatency.Name, start, metrics.Labels("kind", kind))
	if err != nil {
		b.collector.IncrementCounter(metrics.DeliveryFailures.Name, metrics.Labels("kind", kind))
		b.logger.Error("publish failed after retries",
			logging.String("channel", channel),
			logging.String("message_id", msg.ID),
			logging.Err(err))
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}
	return nil
}

// persist stores the envelope once and indexes it for each owner.
// History is best effort: a store failure is logged, never surfaced,
// because the message has already been delivered.
func (b *Broker) persist(ctx context.Context, msg models.Message, ttl time.Duration, owners ...string) {
	payload, err := msg.ToJSON()
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, historyMessageKey(msg.ID), payload, ttl); err != nil {
		b.logger.Warn("failed to persist message history", logging.String("message_id", msg.ID), logging.Err(err))
		return
	}
	for _, owner := range owners {
		if owner == "" {
			continue
		}
		if err := b.store.SetAdd(ctx, historyIndexKey(owner), msg.ID); err != nil {
			b.logger.Warn("failed to index message history",
				logging.String("message_id", msg.ID),
				logging.String("owner", owner),
				logging.Err(err))
		}
	}
}

func (b *Broker) checkStaleness(msg models.Message) error {
	if b.config.StalenessWindow <= 0 {
		return nil
	}
	age := b.clock().Sub(msg.Timestamp)
	if age > b.config.StalenessWindow {
		return fmt.Errorf("%w: sent %s ago", ErrStaleTimestamp, age.Truncate(time.Second))
	}
	return nil
}

func (b *Broker) reject(ctx context.Context, msg models.Message, reason string, err error) {
	target := msg.To
	if target == "" {
		target = msg.Channel
	}
	b.sink.Record(ctx, audit.EventMessageRejected, reason, target, audit.OutcomeDenied, map[string]interface{}{
		"message_id": msg.ID,
		"from":       msg.From,
		"error":      err.Error(),
	})
}
