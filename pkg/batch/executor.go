package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodingButter/team-dashboard-sub004/pkg/broker"
	"github.com/CodingButter/team-dashboard-sub004/pkg/gate"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/registry"
)

// ErrUnsupportedItem is returned for item types the executor cannot dispatch
var ErrUnsupportedItem = errors.New("unsupported batch item type")

// Executor processes a single batch item. Implementations must honor
// ctx cancellation and return the item's output on success.
type Executor interface {
	Execute(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error)
}

// AgentRunner starts and stops agent processes on behalf of batch
// items. The bus itself never owns agent lifecycles; it delegates here.
type AgentRunner interface {
	Spawn(ctx context.Context, tenantID string, spec map[string]interface{}) (string, error)
	Terminate(ctx context.Context, agentID string) error
	Command(ctx context.Context, agentID, command string, args map[string]interface{}) (interface{}, error)
}

// DispatchExecutor routes items to the broker or the agent runner by
// item type, keeping the agent registry and quota gate consistent with
// every spawn and terminate.
type DispatchExecutor struct {
	broker   *broker.Broker
	runner   AgentRunner
	registry *registry.Registry
	gate     *gate.Gate
}

// NewDispatchExecutor creates the standard item executor
func NewDispatchExecutor(b *broker.Broker, runner AgentRunner, reg *registry.Registry, g *gate.Gate) *DispatchExecutor {
	return &DispatchExecutor{broker: b, runner: runner, registry: reg, gate: g}
}

// Execute dispatches one item by type
func (e *DispatchExecutor) Execute(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
	switch item.Type {
	case models.BatchMessage:
		return e.executeMessage(ctx, item)
	case models.BatchSpawn:
		return e.executeSpawn(ctx, tenantID, item)
	case models.BatchTerminate:
		return e.executeTerminate(ctx, tenantID, item)
	case models.BatchCommand:
		return e.executeCommand(ctx, item)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedItem, item.Type)
	}
}

func (e *DispatchExecutor) executeMessage(ctx context.Context, item models.BatchOperationItem) (interface{}, error) {
	from, _ := item.Payload["from"].(string)
	to, _ := item.Payload["to"].(string)
	content, _ := item.Payload["content"].(map[string]interface{})
	correlationID, _ := item.Payload["correlation_id"].(string)

	msg := models.NewDirectMessage(from, to, content, models.MsgDirect, correlationID)
	result, err := e.broker.SendDirect(ctx, msg)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *DispatchExecutor) executeSpawn(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
	if err := e.gate.Reserve(ctx, tenantID, models.ResourceAgents, 1); err != nil {
		return nil, err
	}
	agentID, err := e.runner.Spawn(ctx, tenantID, item.Payload)
	if err != nil {
		e.gate.Release(tenantID, models.ResourceAgents, 1)
		return nil, fmt.Errorf("spawn failed: %w", err)
	}
	if err := e.registry.Register(ctx, tenantID, agentID); err != nil {
		// The process exists but the identity could not be recorded;
		// tear it back down to keep quota and registry consistent.
		_ = e.runner.Terminate(ctx, agentID)
		e.gate.Release(tenantID, models.ResourceAgents, 1)
		return nil, fmt.Errorf("failed to register spawned agent: %w", err)
	}
	return map[string]interface{}{"agent_id": agentID}, nil
}

func (e *DispatchExecutor) executeTerminate(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
	agentID, _ := item.Payload["agent_id"].(string)
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agent_id", Message: "terminate requires an agent_id"}
	}
	if err := e.runner.Terminate(ctx, agentID); err != nil {
		return nil, fmt.Errorf("terminate failed: %w", err)
	}
	if err := e.registry.Deregister(ctx, agentID); err != nil {
		return nil, fmt.Errorf("failed to deregister agent: %w", err)
	}
	e.gate.Release(tenantID, models.ResourceAgents, 1)
	return map[string]interface{}{"agent_id": agentID}, nil
}

func (e *DispatchExecutor) executeCommand(ctx context.Context, item models.BatchOperationItem) (interface{}, error) {
	agentID, _ := item.Payload["agent_id"].(string)
	command, _ := item.Payload["command"].(string)
	args, _ := item.Payload["args"].(map[string]interface{})
	if agentID == "" || command == "" {
		return nil, &models.ValidationError{Field: "payload", Message: "command requires agent_id and command"}
	}
	output, err := e.runner.Command(ctx, agentID, command, args)
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}
	return output, nil
}

// FuncExecutor adapts a function to the Executor interface, used in tests
type FuncExecutor func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error)

// Execute calls the wrapped function
func (f FuncExecutor) Execute(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
	return f(ctx, tenantID, item)
}
