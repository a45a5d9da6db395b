// Package bus assembles the coordination bus components and owns their
// lifecycle: transport, registry, broker, handoff coordinator, quota
// gate, rate limiter, batch queue, and the audit trail.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/batch"
	"github.com/CodingButter/team-dashboard-sub004/pkg/broker"
	"github.com/CodingButter/team-dashboard-sub004/pkg/config"
	"github.com/CodingButter/team-dashboard-sub004/pkg/gate"
	"github.com/CodingButter/team-dashboard-sub004/pkg/handoff"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/metrics"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/ratelimit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/registry"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

// Service wires every bus component together
type Service struct {
	config    *config.SystemConfig
	logger    logging.Logger
	collector *metrics.PrometheusCollector

	transport transport.Transport
	registry  *registry.Registry
	tiers     *gate.FileRegistry
	gate      *gate.Gate
	limiter   *ratelimit.Limiter
	broker    *broker.Broker
	handoffs  *handoff.Coordinator
	batches   *batch.Queue
	runner    batch.AgentRunner
	sink      audit.Sink
	kafkaSink *audit.KafkaSink

	mu      sync.Mutex
	running bool
}

// Option customizes service construction
type Option func(*Service)

// WithRunner overrides the agent runner used by batch spawn and
// terminate items. The default runner rejects lifecycle items.
func WithRunner(runner batch.AgentRunner) Option {
	return func(s *Service) { s.runner = runner }
}

// WithTransport overrides the Redis transport, used by tests to run
// the full component graph against an in-memory store
func WithTransport(store transport.Transport) Option {
	return func(s *Service) { s.transport = store }
}

// New builds the full component graph from configuration
func New(cfg *config.SystemConfig, logger logging.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		config: cfg,
		logger: logger,
		runner: noRunner{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.collector = metrics.NewPrometheusCollector()
	if err := s.collector.RegisterStandardMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if s.transport == nil {
		s.transport = transport.NewRedisTransport(cfg.Redis)
	}
	s.registry = registry.New(s.transport)

	tiers, err := s.loadTiers()
	if err != nil {
		return nil, err
	}
	s.tiers = tiers

	s.sink = s.buildSink()
	s.gate = gate.New(s.tiers, s.sink)

	s.limiter = ratelimit.NewLimiter(s.transport, cfg.RateLimit)
	s.limiter.SetResolver(func(agentID string, class models.RateLimitClass) (models.RateLimit, bool) {
		tenantID, err := s.registry.TenantOf(context.Background(), agentID)
		if err != nil || tenantID == "" {
			return models.RateLimit{}, false
		}
		return s.gate.RateLimitOverride(tenantID, class)
	})

	s.broker = broker.New(s.transport, s.registry, s.limiter, s.sink, s.collector, logger, cfg.Broker)
	s.handoffs = handoff.New(s.transport, s.broker, s.registry, s.limiter, s.sink, s.collector, logger, cfg.Handoff)

	executor := batch.NewDispatchExecutor(s.broker, s.runner, s.registry, s.gate)
	s.batches = batch.NewQueue(executor, s.gate, s.sink, s.collector, logger, cfg.Batch)

	return s, nil
}

func (s *Service) loadTiers() (*gate.FileRegistry, error) {
	if s.config.Tiers.Path == "" {
		return gate.NewStaticRegistry(gate.DefaultTierTable())
	}
	tiers, err := gate.LoadFileRegistry(s.config.Tiers.Path, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier table: %w", err)
	}
	if s.config.Tiers.Watch {
		if err := tiers.Watch(); err != nil {
			s.logger.Warn("tier table watch unavailable", logging.Err(err))
		}
	}
	return tiers, nil
}

func (s *Service) buildSink() audit.Sink {
	var sinks []audit.Sink
	if s.config.Audit.LogEvents {
		sinks = append(sinks, audit.NewLogSink(s.logger))
	}
	if s.config.Audit.KafkaEnabled {
		s.kafkaSink = audit.NewKafkaSink(s.config.Audit.Kafka, s.logger)
		sinks = append(sinks, s.kafkaSink)
	}
	switch len(sinks) {
	case 0:
		return audit.NopSink{}
	case 1:
		return sinks[0]
	default:
		return audit.NewMultiSink(sinks...)
	}
}

// Start connects the transport and launches background workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	if err := s.handoffs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start handoff coordinator: %w", err)
	}
	if err := s.batches.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batch queue: %w", err)
	}

	s.running = true
	s.logger.Info("coordination bus started",
		logging.String("environment", s.config.System.Environment),
		logging.String("redis", s.config.Redis.Address))
	return nil
}

// Stop winds down workers, flushes the audit trail, and disconnects
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.batches.Stop()
	s.handoffs.Stop()

	if s.kafkaSink != nil {
		if err := s.kafkaSink.Close(); err != nil {
			s.logger.Warn("failed to close audit sink", logging.Err(err))
		}
	}
	if err := s.tiers.Close(); err != nil {
		s.logger.Warn("failed to close tier registry", logging.Err(err))
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("failed to close transport", logging.Err(err))
	}

	s.running = false
	s.logger.Info("coordination bus stopped")
	return nil
}

// Health reports transport connectivity
func (s *Service) Health() models.HealthStatus {
	return s.transport.Health()
}

// Config exposes the loaded configuration
func (s *Service) Config() *config.SystemConfig { return s.config }

// Broker exposes the message broker
func (s *Service) Broker() *broker.Broker { return s.broker }

// Handoffs exposes the handoff coordinator
func (s *Service) Handoffs() *handoff.Coordinator { return s.handoffs }

// Batches exposes the batch queue
func (s *Service) Batches() *batch.Queue { return s.batches }

// Registry exposes the agent registry
func (s *Service) Registry() *registry.Registry { return s.registry }

// Gate exposes the quota gate
func (s *Service) Gate() *gate.Gate { return s.gate }

// Limiter exposes the rate limiter
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Metrics exposes the Prometheus collector
func (s *Service) Metrics() *metrics.PrometheusCollector { return s.collector }

// noRunner rejects agent lifecycle items when no runner is wired
type noRunner struct{}

func (noRunner) Spawn(ctx context.Context, tenantID string, spec map[string]interface{}) (string, error) {
	return "", fmt.Errorf("no agent runner configured")
}

func (noRunner) Terminate(ctx context.Context, agentID string) error {
	return fmt.Errorf("no agent runner configured")
}

func (noRunner) Command(ctx context.Context, agentID, command string, args map[string]interface{}) (interface{}, error) {
	return nil, fmt.Errorf("no agent runner configured")
}
