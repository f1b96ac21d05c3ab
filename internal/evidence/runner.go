package evidence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

const extractionSystemPrompt = `You extract product specification values from the supplied evidence.
Rules:
- Use only the markdown snippets and known vocabularies provided. Never invent values.
- Every candidate must carry a verbatim quote copied from a snippet.
- Respect each field's data_type, output_shape, unit, and range. Prefer enum_options and known_entities spellings when they match.
- If snippets disagree, report the disagreement in conflicts instead of guessing.
Respond with a single JSON object:
{"candidates": [{"field": "...", "value": "...", "quote": "...", "key_path": "..."}], "conflicts": ["..."], "notes": ["..."]}`

// Runner drives budgeted LLM extraction calls over evidence packs
type Runner struct {
	service interfaces.LLMService
	builder *Builder
	budget  *Budget
	logger  arbor.ILogger
}

// NewRunner wires the evidence builder, budget, and provider together
func NewRunner(service interfaces.LLMService, builder *Builder, budget *Budget, logger arbor.ILogger) *Runner {
	return &Runner{
		service: service,
		builder: builder,
		budget:  budget,
		logger:  logger,
	}
}

// BuildRequest serializes an evidence pack into a provider-agnostic
// request. High-stakes packs (those carrying snippets or state) use the
// deep tier.
func BuildRequest(pack *Pack) (*interfaces.LLMRequest, error) {
	payload, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize evidence pack: %w", err)
	}

	tier := interfaces.TierFast
	if len(pack.Snippets) > 0 || len(pack.State) > 0 {
		tier = interfaces.TierDeep
	}

	return &interfaces.LLMRequest{
		ModelTier: tier,
		Messages: []interfaces.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: string(payload)},
		},
	}, nil
}

// Extract runs one budgeted extraction call for the given target fields.
// Fields without budget are excluded; their exhaustion events are
// returned alongside the result. A nil result with no error means
// nothing was callable this round.
func (r *Runner) Extract(ctx context.Context, job *models.Job, targetFields []string, pages []SourcedPage, state map[string]models.FieldProvenance) (*interfaces.LLMResult, []string, error) {
	allowed, excluded, events := r.budget.FilterTargets(targetFields)
	if len(excluded) > 0 {
		r.logger.Debug().
			Int("excluded", len(excluded)).
			Msg("Fields excluded from AI extraction by budget")
	}
	if len(allowed) == 0 {
		return nil, events, nil
	}

	pack := r.builder.Build(job, allowed, pages, state)
	request, err := BuildRequest(pack)
	if err != nil {
		return nil, events, err
	}

	if !r.budget.Consume(allowed) {
		return nil, events, nil
	}

	result, err := r.service.Extract(ctx, request)
	if err != nil {
		return nil, events, fmt.Errorf("LLM extraction failed: %w", err)
	}

	r.logger.Debug().
		Int("target_fields", len(allowed)).
		Int("candidates", len(result.Candidates)).
		Int("input_tokens", result.Usage.InputTokens).
		Msg("LLM extraction completed")

	return result, events, nil
}
