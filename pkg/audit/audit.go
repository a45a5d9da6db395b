// Package audit emits structured compliance events for every admission
// decision, delivery, and handoff transition on the bus. Recording is
// fire-and-forget: a sink failure is logged and never propagated to the
// operation that produced the event.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
)

// Event types emitted by the bus
const (
	EventMessageDelivered = "message_delivered"
	EventMessageRejected  = "message_rejected"
	EventBroadcastSent    = "broadcast_sent"
	EventHandoffInitiated = "handoff_initiated"
	EventHandoffAccepted  = "handoff_accepted"
	EventHandoffRejected  = "handoff_rejected"
	EventHandoffExpired   = "handoff_expired"
	EventQuotaChecked     = "quota_checked"
	EventBatchSubmitted   = "batch_submitted"
	EventBatchStarted     = "batch_started"
	EventBatchCompleted   = "batch_completed"
	EventBatchCancelled   = "batch_cancelled"
	EventAgentRegistered  = "agent_registered"
	EventAgentRemoved     = "agent_removed"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// Event is one audit record
type Event struct {
	EventType string                 `json:"event_type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Outcome   string                 `json:"outcome"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives audit events. Implementations must not block the
// caller on downstream failures.
type Sink interface {
	Record(ctx context.Context, eventType, action, resource, outcome string, details map[string]interface{})
}

// LogSink writes audit events to the structured log
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a log-backed sink
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record logs the event
func (s *LogSink) Record(ctx context.Context, eventType, action, resource, outcome string, details map[string]interface{}) {
	s.logger.WithContext(ctx).Info("audit event",
		logging.String("event_type", eventType),
		logging.String("action", action),
		logging.String("resource", resource),
		logging.String("outcome", outcome),
		logging.Any("details", details),
	)
}

// MemorySink collects events in memory for tests
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the event
func (s *MemorySink) Record(ctx context.Context, eventType, action, resource, outcome string, details map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{
		EventType: eventType,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// Events returns a copy of the recorded events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// CountByType returns how many events of one type were recorded
func (s *MemorySink) CountByType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// MultiSink fans an event out to several sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record delivers the event to every sink
func (s *MultiSink) Record(ctx context.Context, eventType, action, resource, outcome string, details map[string]interface{}) {
	for _, sink := range s.sinks {
		sink.Record(ctx, eventType, action, resource, outcome, details)
	}
}

// NopSink discards every event
type NopSink struct{}

// Record does nothing
func (NopSink) Record(ctx context.Context, eventType, action, resource, outcome string, details map[string]interface{}) {
}
