package rulepack

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// rawKnownValues accepts the two on-disk shapes of known_values:
// the tagged {enums:{field:{policy,values}}} form and the legacy
// {fields:{field:[values]}} form
type rawKnownValues struct {
	Enums  map[string]json.RawMessage `json:"enums,omitempty"`
	Fields map[string][]string        `json:"fields,omitempty"`
}

// NormalizeKnownValues decodes either known-values shape into the tagged
// form. The polymorphism never leaks past this function.
func NormalizeKnownValues(data []byte) (*models.KnownValues, error) {
	var raw rawKnownValues
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse known values: %w", err)
	}

	out := &models.KnownValues{Enums: map[string]models.EnumValues{}}

	for field, values := range raw.Fields {
		out.Enums[models.NormalizeFieldKey(field)] = models.EnumValues{
			Policy: "open",
			Values: normalizeValueList(values),
		}
	}

	for field, entry := range raw.Enums {
		key := models.NormalizeFieldKey(field)
		// Entry may itself be a bare list or a tagged object
		var list []string
		if err := json.Unmarshal(entry, &list); err == nil {
			out.Enums[key] = models.EnumValues{Policy: "open", Values: normalizeValueList(list)}
			continue
		}
		var tagged models.EnumValues
		if err := json.Unmarshal(entry, &tagged); err != nil {
			return nil, fmt.Errorf("failed to parse known values for field %s: %w", field, err)
		}
		if tagged.Policy == "" {
			tagged.Policy = "open"
		}
		tagged.Values = normalizeValueList(tagged.Values)
		out.Enums[key] = tagged
	}

	return out, nil
}

// normalizeValueList trims, drops empties, dedupes, and sorts values
func normalizeValueList(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// mergeKnownValues merges workbook enum values over the seed file;
// closed policy from either side wins
func mergeKnownValues(seed *models.KnownValues, fields []models.FieldRule, workbook *WorkbookDoc) *models.KnownValues {
	out := &models.KnownValues{Enums: map[string]models.EnumValues{}}
	for key, entry := range seed.Enums {
		out.Enums[key] = entry
	}

	byKey := make(map[string]WorkbookField, len(workbook.Fields))
	for _, wf := range workbook.Fields {
		byKey[models.NormalizeFieldKey(wf.Name)] = wf
	}

	for _, rule := range fields {
		if rule.DataType != models.DataTypeEnum {
			continue
		}
		wf := byKey[rule.FieldKey]
		existing := out.Enums[rule.FieldKey]
		merged := models.EnumValues{
			Policy: existing.Policy,
			Values: normalizeValueList(append(append([]string{}, existing.Values...), wf.EnumValues...)),
		}
		if merged.Policy == "" {
			merged.Policy = "open"
		}
		if rule.EnumPolicy == "closed" || wf.EnumPolicy == "closed" {
			merged.Policy = "closed"
		}
		out.Enums[rule.FieldKey] = merged
	}

	return out
}
