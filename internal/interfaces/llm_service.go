package interfaces

import (
	"context"

	"github.com/ternarybob/specforge/internal/models"
)

// ModelTier selects model capability for a call
type ModelTier string

const (
	TierFast   ModelTier = "fast"
	TierDeep   ModelTier = "deep"
	TierVision ModelTier = "vision"
)

// Message is one turn of an LLM conversation
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LLMUsage reports token accounting for one call
type LLMUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMRequest is a provider-agnostic extraction request
type LLMRequest struct {
	ModelTier   ModelTier `json:"modelTier"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens"`
	Temperature float32   `json:"temperature"`
}

// LLMResult is the provider-agnostic extraction response
type LLMResult struct {
	Candidates []models.Candidate `json:"candidates"`
	Conflicts  []string           `json:"conflicts"`
	Notes      []string           `json:"notes"`
	Usage      LLMUsage           `json:"usage"`
}

// LLMService generates extraction candidates from an evidence pack prompt
type LLMService interface {
	Extract(ctx context.Context, request *LLMRequest) (*LLMResult, error)
	Close() error
}
