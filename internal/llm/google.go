package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GoogleClient is a client for the Gemini API via the official SDK.
type GoogleClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGoogleClient creates a new Gemini client.
func NewGoogleClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GoogleClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GoogleClient{
		client: client,
		logger: logger.With("provider", "google"),
	}, nil
}

// Chat sends a chat completion request.
func (c *GoogleClient) Chat(ctx context.Context, model string, messages []Message, opts Options) (*ChatResponse, error) {
	contents, system := convertToGemini(messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(system)},
		}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}

	c.logger.Debug("preparing request", "model", model, "contents", len(contents))

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}

	result := &ChatResponse{
		Model:   model,
		Content: text.String(),
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"finish_reason", string(candidate.FinishReason),
	)

	return result, nil
}

// Ping verifies the API key by listing models.
func (c *GoogleClient) Ping(ctx context.Context) error {
	for _, err := range c.client.Models.All(ctx) {
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		return nil
	}
	return nil
}

// convertToGemini maps internal messages to Gemini contents. System
// messages are pulled out for the SystemInstruction slot; assistant
// messages use the "model" role.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})
		case "user":
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})
		}
	}

	return contents, strings.Join(systemParts, "\n\n")
}
