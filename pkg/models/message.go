package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewDirectMessage creates a point-to-point message envelope
func NewDirectMessage(from, to string, content map[string]interface{}, msgType MessageType, correlationID string) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: time.Now(),
		Metadata: Metadata{
			CorrelationID: correlationID,
			AgentID:       from,
		},
	}
}

// NewBroadcastMessage creates a channel fan-out message envelope
func NewBroadcastMessage(from, channel string, content map[string]interface{}, msgType MessageType) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		From:      from,
		Channel:   channel,
		Content:   content,
		Timestamp: time.Now(),
		Metadata: Metadata{
			AgentID: from,
		},
	}
}

// NewHandoff constructs a pending handoff. TTL clamping and validation
// are the coordinator's responsibility; this only assembles the record.
func NewHandoff(from, to string, task map[string]interface{}, reason string, ttl time.Duration) TaskHandoff {
	now := time.Now()
	return TaskHandoff{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Task:      task,
		Reason:    reason,
		Timestamp: now,
		Status:    HandoffPending,
		ExpiresAt: now.Add(ttl),
	}
}

// ToJSON serializes the message to JSON bytes
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON deserializes a message from JSON bytes
func MessageFromJSON(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// Validate checks that the envelope carries all required fields
func (m Message) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Message: "message ID is required"}
	}
	if m.Type == "" {
		return &ValidationError{Field: "type", Message: "message type is required"}
	}
	if m.From == "" {
		return &ValidationError{Field: "from", Message: "message sender is required"}
	}
	if m.To == "" && m.Channel == "" {
		return &ValidationError{Field: "to", Message: "message requires a recipient or a channel"}
	}
	if m.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "message timestamp is required"}
	}
	return nil
}

// IsDirectType reports whether t is a valid direct message type
func IsDirectType(t MessageType) bool {
	switch t {
	case MsgDirect, MsgRequest, MsgResponse:
		return true
	}
	return false
}

// IsBroadcastType reports whether t is a valid broadcast message type
func IsBroadcastType(t MessageType) bool {
	switch t {
	case MsgEvent, MsgStatus, MsgAlert, MsgAnnouncement:
		return true
	}
	return false
}

// ValidationError represents a field-level validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// HandoffToJSON serializes a handoff to JSON bytes
func HandoffToJSON(h TaskHandoff) ([]byte, error) {
	return json.Marshal(h)
}

// HandoffFromJSON deserializes a handoff from JSON bytes
func HandoffFromJSON(data []byte) (TaskHandoff, error) {
	var h TaskHandoff
	err := json.Unmarshal(data, &h)
	return h, err
}
