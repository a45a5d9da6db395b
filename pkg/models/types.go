package models

import (
	"time"
)

// MessageType defines the category of message carried by the bus
type MessageType string

// Direct (point-to-point) message types
const (
	MsgDirect   MessageType = "direct"
	MsgRequest  MessageType = "request"
	MsgResponse MessageType = "response"
)

// Broadcast message types
const (
	MsgEvent        MessageType = "event"
	MsgStatus       MessageType = "status"
	MsgAlert        MessageType = "alert"
	MsgAnnouncement MessageType = "announcement"
)

// Bus-internal message types (handoff and lifecycle channels)
const (
	MsgHandoffProposal MessageType = "handoff.proposal"
	MsgHandoffResponse MessageType = "handoff.response"
	MsgLifecycle       MessageType = "lifecycle"
)

// MessagePriority is carried in envelope metadata, advisory only
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
)

// Metadata holds optional envelope metadata
type Metadata struct {
	CorrelationID string          `json:"correlation_id,omitempty"`
	AgentID       string          `json:"agent_id,omitempty"`
	Priority      MessagePriority `json:"priority,omitempty"`
}

// Message is the shared envelope for everything that crosses the bus.
// Direct messages carry To, broadcasts carry Channel; the remaining
// fields are common to both.
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	From      string                 `json:"from"`
	To        string                 `json:"to,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Content   map[string]interface{} `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  Metadata               `json:"metadata,omitempty"`
}

// DeliveryResult acknowledges a successful send or broadcast
type DeliveryResult struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// HandoffStatus represents the lifecycle state of a task handoff
type HandoffStatus string

const (
	HandoffPending  HandoffStatus = "pending"
	HandoffAccepted HandoffStatus = "accepted"
	HandoffRejected HandoffStatus = "rejected"
	HandoffExpired  HandoffStatus = "expired"
)

// IsTerminal reports whether no further transition is valid
func (s HandoffStatus) IsTerminal() bool {
	return s == HandoffAccepted || s == HandoffRejected || s == HandoffExpired
}

// HandoffDecision is the recipient's answer to a pending handoff
type HandoffDecision string

const (
	DecisionAccept HandoffDecision = "accept"
	DecisionReject HandoffDecision = "reject"
)

// TaskHandoff is a transfer-of-work proposal between two agents.
// Created by the sender; mutated only by the recipient's response or
// the expiration sweep. ExpiresAt is always after Timestamp and at
// most MaxHandoffTTL later.
type TaskHandoff struct {
	ID        string                 `json:"id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Task      map[string]interface{} `json:"task"`
	Reason    string                 `json:"reason,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Status    HandoffStatus          `json:"status"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// HandoffResponse records the recipient's decision on a handoff
type HandoffResponse struct {
	HandoffID string          `json:"handoff_id"`
	Responder string          `json:"responder"`
	Decision  HandoffDecision `json:"decision"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MaxHandoffTTL is the ceiling on how far in the future a handoff may expire
const MaxHandoffTTL = 24 * time.Hour

// RateLimitClass identifies which limit window an operation counts against
type RateLimitClass string

const (
	ClassDirect    RateLimitClass = "direct"
	ClassBroadcast RateLimitClass = "broadcast"
	ClassHandoff   RateLimitClass = "handoff"
)

// RateLimit is a per-class threshold within a window
type RateLimit struct {
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

// RateLimitState is the ephemeral counter for one (agent, class) key
type RateLimitState struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	Count       int       `json:"count"`
}

// Resource identifies a quota-limited tenant resource
type Resource string

const (
	ResourceAgents    Resource = "agents"
	ResourceBatchSize Resource = "batchSize"
	ResourceBatches   Resource = "batches"
)

// SubscriptionTier is read-only reference data describing what a tenant
// may do. Changes take effect on the next admission check.
type SubscriptionTier struct {
	Name                  string                       `json:"name" yaml:"name"`
	MaxAgents             int                          `json:"max_agents" yaml:"max_agents"`
	MaxBatchOperationSize int                          `json:"max_batch_operation_size" yaml:"max_batch_operation_size"`
	MaxConcurrentBatches  int                          `json:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	PriorityQueue         bool                         `json:"priority_queue" yaml:"priority_queue"`
	PriorityWeight        int                          `json:"priority_weight" yaml:"priority_weight"`
	RateLimits            map[RateLimitClass]RateLimit `json:"rate_limits" yaml:"rate_limits"`
}

// Weight returns the scheduling weight used as the batch queue sort key
func (t SubscriptionTier) Weight() int {
	if !t.PriorityQueue {
		return 1
	}
	if t.PriorityWeight > 0 {
		return t.PriorityWeight
	}
	return 10
}

// BatchStatus represents the lifecycle state of a batch operation
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// IsTerminal reports whether the batch has reached a final status
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// BatchOperationType defines what kind of work a batch performs
type BatchOperationType string

const (
	BatchSpawn     BatchOperationType = "spawn"
	BatchTerminate BatchOperationType = "terminate"
	BatchCommand   BatchOperationType = "command"
	BatchMessage   BatchOperationType = "message"
)

// BatchOperationItem is one unit of work within a batch, processed
// independently with a single success or failure outcome
type BatchOperationItem struct {
	ID      string                 `json:"id"`
	Type    BatchOperationType     `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	Retries int                    `json:"retries,omitempty"`
}

// BatchProgress is the live completion state of a batch
type BatchProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Done reports whether every item has been attempted
func (p BatchProgress) Done() bool {
	return p.Completed+p.Failed >= p.Total
}

// BatchOperationResult records the outcome of one item
type BatchOperationResult struct {
	ItemID      string      `json:"item_id"`
	Success     bool        `json:"success"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// BatchOperation is a client-submitted group of independent work items
// processed under one queue entry. Owned exclusively by the batch queue
// from submission to terminal status; items are immutable once enqueued.
type BatchOperation struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	Type        BatchOperationType     `json:"type"`
	Items       []BatchOperationItem   `json:"items"`
	Status      BatchStatus            `json:"status"`
	Priority    int                    `json:"priority"`
	Progress    BatchProgress          `json:"progress"`
	Results     []BatchOperationResult `json:"results"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// HealthStatus represents the health state of a component
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnknown   HealthStatus = "unknown"
)
