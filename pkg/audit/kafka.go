package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
)

// KafkaConfig holds configuration for the Kafka audit sink
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// DefaultKafkaConfig returns defaults for local development
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "coordbus.audit",
	}
}

// KafkaSink publishes audit events to the compliance topic. Writes are
// asynchronous; the compliance pipeline reads the topic on its own
// schedule, and a broker outage only produces log warnings here.
type KafkaSink struct {
	writer *kafka.Writer
	logger logging.Logger
}

// NewKafkaSink creates a Kafka-backed audit sink
func NewKafkaSink(config KafkaConfig, logger logging.Logger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.LeastBytes{},
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("audit event publish failed", logging.Err(err))
				}
			},
		},
		logger: logger,
	}
}

// Record serializes and publishes the event
func (s *KafkaSink) Record(ctx context.Context, eventType, action, resource, outcome string, details map[string]interface{}) {
	event := Event{
		EventType: eventType,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Details:   details,
		Timestamp: time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to serialize audit event", logging.Err(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(eventType),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "resource", Value: []byte(resource)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("failed to publish audit event", logging.Err(err))
	}
}

// Close flushes and closes the underlying writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
