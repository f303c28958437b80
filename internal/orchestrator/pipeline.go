package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/events"
	"github.com/voyagehq/concierge-agent/internal/tools"
)

// executeToolCall drives one proposed call through the pipeline:
// unknown-tool check, parameter validation, approval gate, execution.
// Every call that enters produces exactly one ToolResult; a rejected
// or failed call never aborts the rest of the batch. The only error
// return is shutdown (context cancelled while suspended).
func (c *Conversation) executeToolCall(ctx context.Context, call conversation.ToolCall) (conversation.ToolResult, error) {
	result := conversation.ToolResult{
		ID:         uuid.NewString(),
		ToolCallID: call.ID,
	}

	tool := c.deps.Registry.Get(call.Name)
	if tool == nil {
		result.Error = fmt.Sprintf("Tool '%s' not found", call.Name)
		return result, nil
	}

	if err := tools.ValidateParams(tool, call.Parameters); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	if call.RequiresApproval && c.deps.Config.EnableHumanApproval {
		approved, err := c.awaitApproval(ctx, call)
		if err != nil {
			return result, err
		}
		if !approved {
			result.Error = "Action was not approved by user"
			return result, nil
		}
	}

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindToolCall,
		Data: map[string]any{
			"session_id":   c.state.SessionID,
			"tool":         call.Name,
			"tool_call_id": call.ID,
		},
	})

	started := time.Now()
	payload, err := tool.Handler(ctx, call.Parameters)

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindToolDone,
		Data: map[string]any{
			"session_id":   c.state.SessionID,
			"tool":         call.Name,
			"tool_call_id": call.ID,
			"ok":           err == nil,
			"duration_ms":  time.Since(started).Milliseconds(),
		},
	})

	// The call was authorized and attempted: Approved stays true even
	// when execution fails. Rejections and validation failures above
	// are the only paths that leave it false.
	result.Approved = true
	if err != nil {
		if ctx.Err() != nil {
			return result, errShutdown
		}
		result.Error = err.Error()
		return result, nil
	}
	result.Result = payload
	return result, nil
}

// awaitApproval is the second suspension point of the engine: status
// flips to waiting_approval, an assistant message describes the
// proposed action, and the turn parks on the gate until an approval
// signal resolves it. There is no timeout here; an unresolved slot
// suspends the turn until the conversation is torn down.
func (c *Conversation) awaitApproval(ctx context.Context, call conversation.ToolCall) (bool, error) {
	// Register the pending slot before the wait becomes observable.
	// A client reacting to the status change or the bus event may
	// resolve immediately; the slot must already exist or its decision
	// would be a no-op and the turn would hang.
	decision := c.gate.Request(call.ID)

	c.setStatus(conversation.StatusWaitingApproval)

	params, err := json.MarshalIndent(call.Parameters, "", "  ")
	if err != nil {
		params = []byte("{}")
	}
	prompt := fmt.Sprintf("I'd like to execute the following action:\n\n**%s**\n%s\n\nDo you approve this action?", call.Name, params)
	c.append(conversation.NewMessage(conversation.RoleAssistant, prompt))

	c.deps.Bus.Publish(events.Event{
		Source: events.SourceApproval,
		Kind:   events.KindApprovalRequested,
		Data: map[string]any{
			"session_id":   c.state.SessionID,
			"tool":         call.Name,
			"tool_call_id": call.ID,
		},
	})

	select {
	case approved := <-decision:
		c.setStatus(conversation.StatusActive)
		return approved, nil
	case <-ctx.Done():
		return false, errShutdown
	}
}
