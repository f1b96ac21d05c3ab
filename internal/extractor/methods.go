package extractor

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// extractNetworkJSON walks every captured XHR/fetch JSON body
func extractNetworkJSON(page *models.PageData, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	var out []models.Candidate
	for _, resp := range page.NetworkResponses {
		if resp.Status >= 400 || resp.Body == "" {
			continue
		}
		out = append(out, candidatesFromJSON(
			[]byte(resp.Body), models.MethodNetworkJSON, resp.URL, matcher, pack, sourceIndex)...)
	}
	return out
}

// extractEmbeddedState walks window-attached state blobs
func extractEmbeddedState(page *models.PageData, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	var out []models.Candidate
	for name, blob := range page.EmbeddedState {
		out = append(out, candidatesFromJSON(
			[]byte(blob), models.MethodEmbeddedState, name, matcher, pack, sourceIndex)...)
	}
	return out
}

// ldjsonDirectKeys maps schema.org Product properties to field keys
// before the generic walk handles the rest
var ldjsonDirectKeys = map[string]string{
	"name":  "model",
	"brand": "brand",
	"sku":   "sku",
	"mpn":   "sku",
}

// extractLDJSON handles schema.org Product blocks: well-known identity
// properties map directly, additionalProperty rows map by label, and the
// generic JSON walk picks up the remainder
func extractLDJSON(page *models.PageData, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	var out []models.Candidate
	for blockIdx, block := range page.LDJSONBlocks {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(block), &doc); err != nil {
			continue
		}
		prefix := "ldjson[" + strconv.Itoa(blockIdx) + "]"

		if isProductSchema(doc) {
			for jsonKey, fieldKey := range ldjsonDirectKeys {
				if value, ok := ldjsonScalar(doc[jsonKey]); ok {
					out = append(out, models.Candidate{
						Field:       fieldKey,
						Value:       value,
						Method:      models.MethodLDJSON,
						KeyPath:     prefix + "." + jsonKey,
						SourceIndex: sourceIndex,
					})
				}
			}
			out = append(out, ldjsonAdditionalProperties(doc, prefix, matcher, sourceIndex)...)
		}

		out = append(out, candidatesFromJSON([]byte(block), models.MethodLDJSON, prefix, matcher, pack, sourceIndex)...)
	}
	return out
}

func isProductSchema(doc map[string]interface{}) bool {
	switch t := doc["@type"].(type) {
	case string:
		return strings.EqualFold(t, "Product")
	case []interface{}:
		for _, entry := range t {
			if s, ok := entry.(string); ok && strings.EqualFold(s, "Product") {
				return true
			}
		}
	}
	return false
}

// ldjsonScalar unwraps schema.org values that may be strings or
// {name: ...} objects (brand is commonly an object)
func ldjsonScalar(v interface{}) (string, bool) {
	switch value := v.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		return trimmed, trimmed != ""
	case map[string]interface{}:
		if name, ok := value["name"].(string); ok {
			trimmed := strings.TrimSpace(name)
			return trimmed, trimmed != ""
		}
	}
	return "", false
}

// ldjsonAdditionalProperties maps additionalProperty rows by their label
func ldjsonAdditionalProperties(doc map[string]interface{}, prefix string, matcher *fieldMatcher, sourceIndex int) []models.Candidate {
	rows, ok := doc["additionalProperty"].([]interface{})
	if !ok {
		return nil
	}
	var out []models.Candidate
	for i, raw := range rows {
		row, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		label, _ := row["name"].(string)
		value, ok := stringifyScalar(row["value"])
		if label == "" || !ok {
			continue
		}
		fieldKey, matched := matcher.match(label)
		if !matched {
			continue
		}
		out = append(out, models.Candidate{
			Field:       fieldKey,
			Value:       value,
			Method:      models.MethodLDJSON,
			KeyPath:     prefix + ".additionalProperty[" + strconv.Itoa(i) + "]",
			SourceIndex: sourceIndex,
		})
	}
	return out
}

// extractDOM reads spec tables and definition lists by label, then runs
// the pack's parse templates over the page text
func extractDOM(page *models.PageData, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil
	}

	var out []models.Candidate

	// Label/value pairs from spec tables
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() != 2 {
			return
		}
		label := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		out = append(out, domPairCandidate(label, value, "table", matcher, pack, sourceIndex)...)
	})

	// Definition lists
	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		terms := dl.Find("dt")
		defs := dl.Find("dd")
		if terms.Length() != defs.Length() {
			return
		}
		terms.Each(func(i int, term *goquery.Selection) {
			label := strings.TrimSpace(term.Text())
			value := strings.TrimSpace(defs.Eq(i).Text())
			out = append(out, domPairCandidate(label, value, "dl", matcher, pack, sourceIndex)...)
		})
	})

	// Parse templates over the page's visible text
	text := doc.Find("body").Text()
	out = append(out, applyParseTemplates(text, models.MethodDOM, "text", matcher, pack, sourceIndex)...)

	return out
}

func domPairCandidate(label, value, where string, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	if label == "" || value == "" || len(value) > 200 {
		return nil
	}
	fieldKey, ok := matcher.match(label)
	if !ok {
		return nil
	}
	rule, ok := pack.Rules.Fields[fieldKey]
	if ok && negativeMatch(rule, label) {
		return nil
	}
	return []models.Candidate{{
		Field:       fieldKey,
		Value:       value,
		Method:      models.MethodDOM,
		KeyPath:     where + ":" + models.NormalizeFieldKey(label),
		Quote:       label + ": " + value,
		SourceIndex: sourceIndex,
	}}
}

// extractPDF runs parse templates over extracted PDF text. Text
// extraction itself is the PDF adapter's job; docs without text yield
// nothing.
func extractPDF(page *models.PageData, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	var out []models.Candidate
	for _, doc := range page.PDFDocs {
		if doc.Text == "" {
			continue
		}
		out = append(out, applyParseTemplates(doc.Text, models.MethodPDF, doc.URL, matcher, pack, sourceIndex)...)
	}
	return out
}

// applyParseTemplates runs every field's compiled patterns over a text
// body. The first matching pattern per field wins; unit conversion
// multiplies numeric captures.
func applyParseTemplates(text string, method models.ExtractionMethod, pathPrefix string, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate {
	if text == "" || pack.ParseTemplates == nil {
		return nil
	}
	var out []models.Candidate
	for _, fieldKey := range pack.Rules.FieldOrder {
		entry, ok := pack.ParseTemplates.Templates[fieldKey]
		if !ok {
			continue
		}
		rule := pack.Rules.Fields[fieldKey]
		for patternIdx, pattern := range entry.Patterns {
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				continue
			}
			match := re.FindStringSubmatch(text)
			if match == nil || pattern.Group >= len(match) {
				continue
			}
			value := strings.TrimSpace(match[pattern.Group])
			if value == "" || negativeMatch(rule, match[0]) {
				continue
			}
			value = convertCapture(value, pattern.Convert)
			out = append(out, models.Candidate{
				Field:       fieldKey,
				Value:       value,
				Method:      method,
				KeyPath:     pathPrefix + ":pattern[" + strconv.Itoa(patternIdx) + "]",
				Quote:       strings.TrimSpace(match[0]),
				SourceIndex: sourceIndex,
			})
			break
		}
	}
	return out
}

// convertCapture applies a unit-conversion multiplier to numeric captures
func convertCapture(value string, convert float64) string {
	if convert == 0 {
		return value
	}
	numeric, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return value
	}
	return strconv.FormatFloat(numeric*convert, 'f', -1, 64)
}
