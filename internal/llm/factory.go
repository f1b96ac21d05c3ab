package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// NewService creates the configured LLM provider. Offline mode returns a
// scripted provider that never touches the network.
func NewService(ctx context.Context, config *common.LLMConfig, logger arbor.ILogger) (interfaces.LLMService, error) {
	if config.Offline {
		logger.Info().Msg("LLM provider: offline")
		return NewOfflineService(logger), nil
	}

	switch config.DefaultProvider {
	case "claude", "":
		return NewClaudeService(&config.Claude, logger)
	case "gemini":
		return NewGeminiService(ctx, &config.Gemini, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider '%s' (expected claude, gemini)", config.DefaultProvider)
	}
}
