package models

// UnknownValue is the sentinel for fields with no accepted value
const UnknownValue = "unk"

// Unknown reasons the orchestrator sets; extraction and consensus attach
// their own (rule defaults, "insufficient_confirmations", and so on)
const (
	UnknownReasonNotFound            = "not_found"
	UnknownReasonNotFoundAfterSearch = "not_found_after_search"
)

// EvidenceRow is one supporting reference for an accepted value
type EvidenceRow struct {
	Tier     SourceTier       `json:"tier"`
	TierName string           `json:"tier_name"`
	Method   ExtractionMethod `json:"method"`
	URL      string           `json:"url"`
	Quote    string           `json:"quote,omitempty"`
}

// TrafficColor grades evidence quality per field
type TrafficColor string

const (
	TrafficGreen  TrafficColor = "green"
	TrafficYellow TrafficColor = "yellow"
	TrafficRed    TrafficColor = "red"
)

// TrafficLight is the per-field evidence grade
type TrafficLight struct {
	Color         TrafficColor     `json:"color"`
	Reason        string           `json:"reason"`
	SourceTier    SourceTier       `json:"source_tier"`
	SourceMethod  ExtractionMethod `json:"source_method"`
	SourceURL     string           `json:"source_url,omitempty"`
	UnknownReason string           `json:"unknown_reason,omitempty"`
}

// FieldProvenance records how one field's value was established
type FieldProvenance struct {
	Value                 string        `json:"value"`
	Confirmations         int           `json:"confirmations"`
	ApprovedConfirmations int           `json:"approved_confirmations"`
	PassTarget            int           `json:"pass_target"`
	MeetsPassTarget       bool          `json:"meets_pass_target"`
	Confidence            float64       `json:"confidence"`
	Evidence              []EvidenceRow `json:"evidence"`
	Traffic               *TrafficLight `json:"traffic_light,omitempty"`
	UnknownReason         string        `json:"unknown_reason,omitempty"`
}

// TierName returns the human name of a tier for evidence rows
func TierName(tier SourceTier) string {
	switch tier {
	case TierManufacturer:
		return "manufacturer"
	case TierLab:
		return "lab"
	case TierCommunity:
		return "community"
	default:
		return "unknown"
	}
}
