package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/tools"
	"github.com/voyagehq/concierge-agent/internal/usage"
)

// UsageRecorder receives a token usage record after each successful
// model call. Recording failures are logged, never propagated; usage
// tracking must not break a conversation.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Service layers the conversation capabilities over a resolved model
// handle: response generation, tool-call proposal, relevance checking,
// and summarization. The model identifier is resolved against the
// router exactly once, at construction; a bad identifier surfaces here
// rather than mid-conversation.
type Service struct {
	client Client
	model  string
	opts   Options
	logger *slog.Logger
	usage  UsageRecorder
}

// NewService resolves the model identifier and returns a ready service.
func NewService(router *Router, identifier string, opts Options, logger *slog.Logger) (*Service, error) {
	client, model, err := router.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client: client,
		model:  model,
		opts:   opts,
		logger: logger.With("component", "llm-service"),
	}, nil
}

// Model returns the resolved bare model name.
func (s *Service) Model() string { return s.model }

// SetUsage attaches a usage recorder. Call before the service is shared
// across goroutines; there is no locking around the field.
func (s *Service) SetUsage(rec UsageRecorder) { s.usage = rec }

// Ping checks that the resolved provider is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Service) record(ctx context.Context, operation string, resp *ChatResponse) {
	if s.usage == nil || resp == nil {
		return
	}
	err := s.usage.Record(ctx, usage.Record{
		Model:        resp.Model,
		Operation:    operation,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	if err != nil {
		s.logger.Warn("usage record failed", "operation", operation, "error", err)
	}
}

// GenerateResponse produces the assistant's next reply from the
// conversation history.
func (s *Service) GenerateResponse(ctx context.Context, messages []conversation.Message) (string, error) {
	resp, err := s.client.Chat(ctx, s.model, toChatMessages(messages), s.opts)
	if err != nil {
		return "", fmt.Errorf("Failed to generate text: %w", err)
	}
	s.record(ctx, usage.OpResponse, resp)
	return resp.Content, nil
}

const toolCallPromptHeader = `You are an AI agent that can use tools to accomplish tasks. Based on the conversation history, determine if any tools should be called and return the appropriate tool calls.

Available tools:
%s

Instructions:
1. Analyze the conversation to understand what the user wants
2. If tools need to be called, return them in the specified format
3. Generate unique IDs for each tool call
4. Set requiresApproval to true for actions that might affect external systems (like sending emails, creating invoices, booking flights)
5. Set requiresApproval to false for read-only operations (like searching)
6. If no tools are needed, return an empty array

Return your response as JSON in this format:
{
  "toolCalls": [
    {
      "id": "unique-id",
      "name": "tool-name",
      "parameters": { "param1": "value1" },
      "requiresApproval": false
    }
  ]
}`

// ProposeToolCalls asks the model which tools to invoke next. The
// returned calls carry fresh IDs when the model omits them, and a
// call's approval flag is the OR of the model's judgment and the
// catalog definition, so a gated tool can never slip through unmarked.
func (s *Service) ProposeToolCalls(ctx context.Context, messages []conversation.Message, available []*tools.Tool) ([]conversation.ToolCall, error) {
	var descriptions []string
	for _, t := range available {
		params, _ := json.MarshalIndent(t.Parameters, "  ", "  ")
		descriptions = append(descriptions, fmt.Sprintf("- %s: %s\n  Parameters: %s", t.Name, t.Description, params))
	}
	systemPrompt := fmt.Sprintf(toolCallPromptHeader, strings.Join(descriptions, "\n"))

	chatMsgs := mergeSystemPrompt(toChatMessages(messages), systemPrompt)

	resp, err := s.client.Chat(ctx, s.model, chatMsgs, s.opts)
	if err != nil {
		return nil, fmt.Errorf("Failed to generate tool calls: %w", err)
	}
	s.record(ctx, usage.OpToolProposal, resp)

	proposed, err := parseToolCallEnvelope(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("Failed to generate tool calls: %w", err)
	}

	byName := make(map[string]*tools.Tool, len(available))
	for _, t := range available {
		byName[t.Name] = t
	}

	calls := make([]conversation.ToolCall, 0, len(proposed))
	for _, p := range proposed {
		call := conversation.ToolCall{
			ID:               p.ID,
			Name:             p.Name,
			Parameters:       p.Parameters,
			RequiresApproval: p.RequiresApproval,
		}
		if call.ID == "" {
			call.ID = "tool_" + uuid.NewString()
		}
		if call.Parameters == nil {
			call.Parameters = map[string]any{}
		}
		if def := byName[call.Name]; def != nil && def.RequiresApproval {
			call.RequiresApproval = true
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// Summarizer returns a history summarizer focused on the given goal
// description (may be empty).
func (s *Service) Summarizer(goal string) conversation.Summarizer {
	return &goalSummarizer{svc: s, goal: goal}
}

type goalSummarizer struct {
	svc  *Service
	goal string
}

func (g *goalSummarizer) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}

	system := "Summarize the following conversation, focusing on key decisions, actions taken, and important context. Keep it concise but comprehensive."
	if g.goal != "" {
		system = fmt.Sprintf("Summarize the following conversation, focusing on progress toward the goal: %q. Include key decisions, actions taken, and current status. Keep it concise but comprehensive.", g.goal)
	}

	// Lower temperature and a reduced token budget keep summaries
	// consistent and small relative to the history they replace.
	opts := Options{
		MaxTokens:   g.svc.opts.MaxTokens * 3 / 10,
		Temperature: 0.3,
	}
	resp, err := g.svc.client.Chat(ctx, g.svc.model, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: transcript.String()},
	}, opts)
	if err != nil {
		return "", fmt.Errorf("Failed to summarize conversation: %w", err)
	}
	g.svc.record(ctx, usage.OpSummary, resp)
	return resp.Content, nil
}

// CheckRelevance judges whether user input relates to the current
// goal. It fails open: any model or parse error yields relevant=true
// so a flaky model never blocks a user.
func (s *Service) CheckRelevance(ctx context.Context, userInput, goal string) (bool, string) {
	system := fmt.Sprintf("You are analyzing whether user input is relevant to the current goal. The current goal is: %q\n\nRespond with JSON: {\"isRelevant\": true or false, \"reason\": \"brief explanation\"}", goal)
	user := fmt.Sprintf(`User input: %q

Is this input relevant to accomplishing the current goal? Consider input relevant if it:
1. Directly relates to the current goal
2. Asks for clarification about the goal
3. Requests to change or update the goal
4. Provides information that helps achieve the goal

Provide a brief reason for your decision.`, userInput)

	resp, err := s.client.Chat(ctx, s.model, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, Options{MaxTokens: 300, Temperature: 0.2})
	if err != nil {
		s.logger.Warn("relevance check failed, proceeding with input", "error", err)
		return true, "Unable to check relevance, proceeding with input."
	}
	s.record(ctx, usage.OpRelevance, resp)

	var verdict struct {
		IsRelevant *bool  `json:"isRelevant"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &verdict); err != nil || verdict.IsRelevant == nil {
		s.logger.Warn("relevance verdict unparseable, proceeding with input", "content_len", len(resp.Content))
		return true, "Unable to check relevance, proceeding with input."
	}
	return *verdict.IsRelevant, verdict.Reason
}

// toChatMessages filters the conversation log down to the roles every
// provider accepts. Tool-result messages already appear as assistant
// text in the log, so nothing is lost.
func toChatMessages(messages []conversation.Message) []Message {
	result := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem, conversation.RoleUser, conversation.RoleAssistant:
			result = append(result, Message{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return result
}

// mergeSystemPrompt folds prompt into an existing system message, or
// prepends one. Some providers reject multiple system messages.
func mergeSystemPrompt(messages []Message, prompt string) []Message {
	for i, msg := range messages {
		if msg.Role == "system" {
			merged := make([]Message, len(messages))
			copy(merged, messages)
			merged[i].Content = msg.Content + "\n\n" + prompt
			return merged
		}
	}
	return append([]Message{{Role: "system", Content: prompt}}, messages...)
}

type proposedToolCall struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Parameters       map[string]any `json:"parameters"`
	RequiresApproval bool           `json:"requiresApproval"`
}

// parseToolCallEnvelope extracts tool calls from model output. Models
// wrap JSON in prose or code fences often enough that we locate the
// envelope rather than decode the raw content. An empty toolCalls
// array is a valid answer meaning "no tools needed".
func parseToolCallEnvelope(content string) ([]proposedToolCall, error) {
	payload := extractJSON(content)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var envelope struct {
		ToolCalls []proposedToolCall `json:"toolCalls"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("parse tool call envelope: %w", err)
	}
	return envelope.ToolCalls, nil
}

// extractJSON pulls the outermost JSON object out of model output,
// tolerating markdown code fences and surrounding prose.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if idx := strings.Index(content, "```"); idx != -1 {
		rest := content[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			content = rest[:end]
		} else {
			content = rest
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return ""
	}
	return content[start : end+1]
}
