// Package conversation defines the data model for a concierge session:
// the message log, proposed tool calls and their results, goals, and the
// session aggregate the orchestrator owns.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Status is the lifecycle state of a session. Completed and failed are
// terminal: once reached, no further signals are processed.
type Status string

const (
	StatusActive          Status = "active"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether the status absorbs the session.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Message is one entry in the conversation log. Messages are immutable
// once appended; the log itself is append-only except for the
// summarization splice performed by Compact.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// ToolCall is an action proposed by the language model. It is never
// mutated after creation.
type ToolCall struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Parameters       map[string]any `json:"parameters"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
}

// ToolResult records the outcome of exactly one ToolCall that entered
// the execution pipeline, including calls rejected before execution.
//
// Approved stays true when an approved tool ran and failed — the
// execution error is recorded in Error, but the call itself was
// authorized. Only validation failures, unknown tools, and explicit
// rejections carry Approved=false.
type ToolResult struct {
	ID         string `json:"id"`
	ToolCallID string `json:"tool_call_id"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Approved   bool   `json:"approved"`
}

// Describe renders the result for the turn's tool-role log message,
// one line per call: the originating call id and either the error or
// the JSON-encoded payload.
func (r ToolResult) Describe() string {
	if r.Error != "" {
		return fmt.Sprintf("%s: Error: %s", r.ToolCallID, r.Error)
	}
	payload, err := json.Marshal(r.Result)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", r.Result))
	}
	return fmt.Sprintf("%s: Success: %s", r.ToolCallID, payload)
}

// Goal is a named objective with the tool subset it authorizes.
type Goal struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
	Completed   bool     `json:"completed"`
}

// State is the full session aggregate: the single mutable object the
// orchestrator owns, returned (as a copy) by queries and persisted as
// the durable snapshot.
type State struct {
	SessionID   string    `json:"session_id"`
	Messages    []Message `json:"messages"`
	Goals       []Goal    `json:"goals"`
	CurrentGoal string    `json:"current_goal,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to external readers. Query
// results must never alias the live slices the orchestrator mutates.
func (s *State) Clone() State {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m
		if len(m.ToolCalls) > 0 {
			out.Messages[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		if len(m.ToolResults) > 0 {
			out.Messages[i].ToolResults = append([]ToolResult(nil), m.ToolResults...)
		}
	}
	out.Goals = CloneGoals(s.Goals)
	return out
}

// CloneGoals deep-copies a goal list, including each goal's tool slice.
func CloneGoals(goals []Goal) []Goal {
	if goals == nil {
		return nil
	}
	out := make([]Goal, len(goals))
	for i, g := range goals {
		out[i] = g
		if len(g.Tools) > 0 {
			out[i].Tools = append([]string(nil), g.Tools...)
		}
	}
	return out
}

// GoalByID returns the goal with the given id, or nil.
func (s *State) GoalByID(id string) *Goal {
	for i := range s.Goals {
		if s.Goals[i].ID == id {
			return &s.Goals[i]
		}
	}
	return nil
}
