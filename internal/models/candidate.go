package models

// ExtractionMethod is the closed set of candidate provenance methods
type ExtractionMethod string

const (
	MethodNetworkJSON   ExtractionMethod = "network_json"
	MethodEmbeddedState ExtractionMethod = "embedded_state"
	MethodLDJSON        ExtractionMethod = "ldjson"
	MethodPDF           ExtractionMethod = "pdf"
	MethodDOM           ExtractionMethod = "dom"
	MethodLLMExtract    ExtractionMethod = "llm_extract"
)

// MethodPriority returns the scoring weight of an extraction method.
// Structured machine payloads outrank scraped text, which outranks
// model output.
func MethodPriority(method ExtractionMethod) int {
	switch method {
	case MethodNetworkJSON:
		return 5
	case MethodEmbeddedState:
		return 4
	case MethodLDJSON, MethodPDF:
		return 3
	case MethodDOM:
		return 2
	case MethodLLMExtract:
		return 1
	default:
		return 0
	}
}

// Candidate is one proposed field value produced by one method on one
// source. Candidates carry no confidence of their own; confidence is
// computed at consensus.
type Candidate struct {
	Field       string           `json:"field"`
	Value       string           `json:"value"`
	Method      ExtractionMethod `json:"method"`
	KeyPath     string           `json:"key_path,omitempty"`
	Quote       string           `json:"quote,omitempty"`
	SourceIndex int              `json:"source_index"`
}

// DedupeKey is the exact de-duplication key for a candidate
func (c *Candidate) DedupeKey() string {
	return c.Field + "|" + c.Value + "|" + string(c.Method) + "|" + c.KeyPath
}
