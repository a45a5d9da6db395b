// Package registry tracks agent identities per tenant. An identity is
// an opaque, non-empty string, unique within its tenant, used both as
// the delivery address and the rate-limit key.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

var (
	ErrEmptyAgentID      = errors.New("agent ID must not be empty")
	ErrEmptyTenantID     = errors.New("tenant ID must not be empty")
	ErrAlreadyRegistered = errors.New("agent already registered")
)

// AgentRecord is the stored identity entry
type AgentRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

const (
	keyPrefixAgent = "agent:"
	keyTenantSet   = "agents:tenant:"
)

// Registry is the agent identity index, backed by the transport's
// key-value and membership operations
type Registry struct {
	store transport.Transport
}

// New creates a registry over the given transport
func New(store transport.Transport) *Registry {
	return &Registry{store: store}
}

// Register records an identity and adds it to the tenant index.
// Registering an ID that already exists is an error: identities are
// unique within a tenant. The record write is first-writer-wins, so
// of two racing registrations of one ID exactly one succeeds.
func (r *Registry) Register(ctx context.Context, tenantID, agentID string) error {
	if agentID == "" {
		return ErrEmptyAgentID
	}
	if tenantID == "" {
		return ErrEmptyTenantID
	}

	record := AgentRecord{
		ID:           agentID,
		TenantID:     tenantID,
		RegisteredAt: time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize agent record: %w", err)
	}

	stored, err := r.store.SetIfAbsent(ctx, keyPrefixAgent+agentID, data, 0)
	if err != nil {
		return fmt.Errorf("failed to store agent record: %w", err)
	}
	if !stored {
		return ErrAlreadyRegistered
	}
	if err := r.store.SetAdd(ctx, keyTenantSet+tenantID, agentID); err != nil {
		return fmt.Errorf("failed to index agent: %w", err)
	}

	return nil
}

// Deregister removes an identity from the record store and every
// index. Removing an unknown identity is a no-op.
func (r *Registry) Deregister(ctx context.Context, agentID string) error {
	record, err := r.lookup(ctx, agentID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	if err := r.store.Delete(ctx, keyPrefixAgent+agentID); err != nil {
		return fmt.Errorf("failed to delete agent record: %w", err)
	}
	if err := r.store.SetRemove(ctx, keyTenantSet+record.TenantID, agentID); err != nil {
		return fmt.Errorf("failed to deindex agent: %w", err)
	}

	return nil
}

// IsRegistered reports whether the identity exists
func (r *Registry) IsRegistered(ctx context.Context, agentID string) (bool, error) {
	record, err := r.lookup(ctx, agentID)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// TenantOf returns the tenant owning an identity, or "" when unknown
func (r *Registry) TenantOf(ctx context.Context, agentID string) (string, error) {
	record, err := r.lookup(ctx, agentID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}
	return record.TenantID, nil
}

// ListByTenant returns the identities registered to a tenant
func (r *Registry) ListByTenant(ctx context.Context, tenantID string) ([]string, error) {
	members, err := r.store.SetMembers(ctx, keyTenantSet+tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant agents: %w", err)
	}
	return members, nil
}

// CountByTenant returns how many identities a tenant has registered
func (r *Registry) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	members, err := r.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (r *Registry) lookup(ctx context.Context, agentID string) (*AgentRecord, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	data, err := r.store.Get(ctx, keyPrefixAgent+agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent record: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var record AgentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize agent record: %w", err)
	}
	return &record, nil
}
