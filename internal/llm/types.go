// Package llm provides LLM provider clients and the conversation
// capabilities built on top of them (response generation, tool-call
// proposal, relevance checking, summarization).
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-request model parameters.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model   string
	Content string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
