// Package llm provides the language model backends used by the development
// assistant.
package llm

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/campus-assistant/internal/model"
)

// CampusSystemPrompt frames every completion the development assistant runs.
const CampusSystemPrompt = `You are a campus assistant for students and staff.
Answer questions about campus services, schedules and announcements briefly
and concretely. If you do not know the answer, say so.`

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// ConversationRequest builds a request from stored session history followed
// by the new question.
func ConversationRequest(modelName string, history []model.HistoryEntry, question string) *CompletionRequest {
	msgs := make([]ChatMessage, 0, len(history)+1)
	for _, h := range history {
		if !h.Role.Valid() || h.Content == "" {
			continue
		}
		msgs = append(msgs, ChatMessage{Role: string(h.Role), Content: h.Content})
	}
	msgs = append(msgs, ChatMessage{Role: string(model.RoleUser), Content: question})

	return &CompletionRequest{
		Model:     modelName,
		System:    CampusSystemPrompt,
		Messages:  msgs,
		MaxTokens: 1024,
	}
}
