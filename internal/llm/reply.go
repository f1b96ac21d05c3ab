package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

// extractionReply is the JSON shape the extraction prompt asks for
type extractionReply struct {
	Candidates []struct {
		Field   string `json:"field"`
		Value   string `json:"value"`
		Quote   string `json:"quote"`
		KeyPath string `json:"key_path,omitempty"`
	} `json:"candidates"`
	Conflicts []string `json:"conflicts,omitempty"`
	Notes     []string `json:"notes,omitempty"`
}

// ParseExtractionReply turns a model response into an LLMResult. The
// response may wrap the JSON object in markdown fences or prose; the
// first balanced top-level object is parsed. Candidates without a field,
// value, or verbatim quote are dropped.
func ParseExtractionReply(text string) (*interfaces.LLMResult, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object found in model response")
	}

	var reply extractionReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	result := &interfaces.LLMResult{
		Conflicts: reply.Conflicts,
		Notes:     reply.Notes,
	}
	for _, c := range reply.Candidates {
		field := strings.TrimSpace(c.Field)
		value := strings.TrimSpace(c.Value)
		quote := strings.TrimSpace(c.Quote)
		if field == "" || value == "" || quote == "" {
			continue
		}
		result.Candidates = append(result.Candidates, models.Candidate{
			Field:   field,
			Value:   value,
			Method:  models.MethodLLMExtract,
			KeyPath: c.KeyPath,
			Quote:   quote,
		})
	}
	return result, nil
}

// extractJSONObject returns the first balanced top-level JSON object in
// the text, stripping markdown code fences first
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)

	// Strip ```json ... ``` fences
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
