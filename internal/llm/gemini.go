package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiService implements the LLMService interface using the Google
// Gemini API.
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
	retry   *RetryConfig
}

var _ interfaces.LLMService = (*GeminiService)(nil)

// NewGeminiService creates a new Gemini LLM service instance
func NewGeminiService(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or llm.gemini.api_key in config)")
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	service := &GeminiService{
		config:  config,
		logger:  logger,
		client:  client,
		timeout: timeout,
		retry:   NewDefaultRetryConfig(),
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini LLM service initialized")

	return service, nil
}

// modelForTier maps a capability tier onto the configured model names.
// Gemini models are multimodal, so the vision tier uses the deep model.
func (s *GeminiService) modelForTier(tier interfaces.ModelTier) string {
	if tier == interfaces.TierFast && s.config.FastModel != "" {
		return s.config.FastModel
	}
	return s.config.Model
}

// convertMessagesToGemini converts []interfaces.Message to Gemini
// Content format, extracting the first system message for the system
// instruction.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		geminiRole := genai.RoleUser
		if msg.Role == "assistant" {
			geminiRole = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  geminiRole,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	return contents, systemText, nil
}

// Extract runs one extraction request against the Gemini API and parses
// the structured reply
func (s *GeminiService) Extract(ctx context.Context, request *interfaces.LLMRequest) (*interfaces.LLMResult, error) {
	contents, systemText, err := convertMessagesToGemini(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	temp := request.Temperature
	if temp <= 0 {
		temp = s.config.Temperature
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if temp > 0 {
		config.Temperature = genai.Ptr(temp)
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}

	model := s.modelForTier(request.ModelTier)

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()

	var resp *genai.GenerateContentResponse
	var apiErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		resp, apiErr = s.client.Models.GenerateContent(timeoutCtx, model, contents, config)
		if apiErr == nil {
			break
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		var backoff time.Duration
		if IsRateLimitError(apiErr) {
			backoff = s.retry.CalculateBackoff(attempt, ExtractRetryDelay(apiErr))
		} else {
			backoff = time.Duration(attempt+1) * 2 * time.Second
		}

		s.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Gemini API call")

		select {
		case <-timeoutCtx.Done():
			return nil, timeoutCtx.Err()
		case <-time.After(backoff):
		}
	}
	if apiErr != nil {
		return nil, fmt.Errorf("Gemini API call failed after %d retries: %w", s.retry.MaxRetries, apiErr)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}
	responseText := resp.Text()
	if responseText == "" {
		return nil, fmt.Errorf("empty text in Gemini response")
	}

	result, err := ParseExtractionReply(responseText)
	if err != nil {
		return nil, err
	}
	if resp.UsageMetadata != nil {
		result.Usage = interfaces.LLMUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	s.logger.Debug().
		Str("model", model).
		Int("candidates", len(result.Candidates)).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini extraction completed")

	return result, nil
}

// Close releases the Gemini client
func (s *GeminiService) Close() error {
	s.logger.Debug().Msg("Closing Gemini LLM service")
	s.client = nil
	return nil
}
