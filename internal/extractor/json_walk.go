package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// maxWalkDepth bounds recursion into pathological payloads
const maxWalkDepth = 12

// fieldMatcher resolves JSON keys and DOM labels to field keys. Tokens
// come from the field key itself, the display name, and the rule's
// context keywords; first registration wins.
type fieldMatcher struct {
	tokens map[string]string // normalized token -> field key
}

func newFieldMatcher(pack *rulepack.Pack) *fieldMatcher {
	m := &fieldMatcher{tokens: map[string]string{}}
	for _, key := range pack.Rules.FieldOrder {
		rule := pack.Rules.Fields[key]
		m.register(key, key)
		m.register(rule.DisplayName, key)
		if rule.Parse != nil {
			for _, keyword := range rule.Parse.ContextKeywords {
				m.register(keyword, key)
			}
		}
	}
	return m
}

func (m *fieldMatcher) register(token, fieldKey string) {
	normalized := models.NormalizeFieldKey(token)
	if normalized == "" {
		return
	}
	if _, exists := m.tokens[normalized]; !exists {
		m.tokens[normalized] = fieldKey
	}
}

// match resolves a raw key or label to a field key
func (m *fieldMatcher) match(raw string) (string, bool) {
	fieldKey, ok := m.tokens[models.NormalizeFieldKey(raw)]
	return fieldKey, ok
}

// negativeMatch reports whether a label trips a field's negative keywords
func negativeMatch(rule models.FieldRule, context string) bool {
	if rule.Parse == nil {
		return false
	}
	lower := strings.ToLower(context)
	for _, negative := range rule.Parse.NegativeKeywords {
		if negative != "" && strings.Contains(lower, strings.ToLower(negative)) {
			return true
		}
	}
	return false
}

// jsonLeaf is one scalar found while walking a JSON document
type jsonLeaf struct {
	keyPath string
	key     string // last path segment
	value   string
}

// walkJSON flattens a decoded JSON document into scalar leaves with
// dotted key paths ("product.specs.weight", "offers[0].price")
func walkJSON(doc interface{}) []jsonLeaf {
	var out []jsonLeaf
	var walk func(node interface{}, path, key string, depth int)
	walk = func(node interface{}, path, key string, depth int) {
		if depth > maxWalkDepth {
			return
		}
		switch v := node.(type) {
		case map[string]interface{}:
			for childKey, child := range v {
				childPath := childKey
				if path != "" {
					childPath = path + "." + childKey
				}
				walk(child, childPath, childKey, depth+1)
			}
		case []interface{}:
			for i, child := range v {
				walk(child, fmt.Sprintf("%s[%d]", path, i), key, depth+1)
			}
		default:
			if value, ok := stringifyScalar(v); ok {
				out = append(out, jsonLeaf{keyPath: path, key: key, value: value})
			}
		}
	}
	walk(doc, "", "", 0)
	return out
}

// stringifyScalar renders a JSON scalar as a candidate value string
func stringifyScalar(v interface{}) (string, bool) {
	switch value := v.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		return trimmed, trimmed != ""
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(value), true
	case json.Number:
		return value.String(), true
	default:
		return "", false
	}
}

// candidatesFromJSON walks a raw JSON payload and emits one candidate per
// leaf whose key matches a field
func candidatesFromJSON(raw []byte, method models.ExtractionMethod, pathPrefix string, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	var out []models.Candidate
	for _, leaf := range walkJSON(doc) {
		fieldKey, ok := matcher.match(leaf.key)
		if !ok {
			continue
		}
		rule, ok := pack.Rules.Fields[fieldKey]
		if ok && negativeMatch(rule, leaf.keyPath) {
			continue
		}
		keyPath := leaf.keyPath
		if pathPrefix != "" {
			keyPath = pathPrefix + ":" + keyPath
		}
		out = append(out, models.Candidate{
			Field:       fieldKey,
			Value:       leaf.value,
			Method:      method,
			KeyPath:     keyPath,
			SourceIndex: sourceIndex,
		})
	}
	return out
}
