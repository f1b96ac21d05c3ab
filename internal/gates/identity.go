package gates

import (
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// Identity component weights. Missing lock components (no SKU, no
// variant) redistribute their weight over the present ones.
const (
	identityWeightBrand   = 0.35
	identityWeightModel   = 0.40
	identityWeightSKU     = 0.15
	identityWeightVariant = 0.10
)

// PublishCertaintyThreshold is the identity certainty required to publish
const PublishCertaintyThreshold = 0.99

// IdentityEvidence is one source's contribution to identity evaluation
type IdentityEvidence struct {
	Source models.Source
	Page   *models.PageData
	Fields map[string]models.Candidate // per-source top candidate field map
}

// IdentityResult summarizes identity evaluation across sources
type IdentityResult struct {
	Certainty      float64  `json:"certainty"`
	MatchedSources int      `json:"matched_sources"`
	BrandMatched   bool     `json:"brand_matched"`
	ModelMatched   bool     `json:"model_matched"`
	SKUMatched     bool     `json:"sku_matched"`
	VariantTokens  float64  `json:"variant_token_coverage"`
	Notes          []string `json:"notes,omitempty"`
}

// EvaluateIdentity computes certainty that the fetched sources describe
// the locked product. Only approved sources count toward matching.
func EvaluateIdentity(lock models.IdentityLock, evidence []IdentityEvidence) IdentityResult {
	result := IdentityResult{}

	variantTokens := identityTokens(lock.Variant)
	variantMatched := map[string]bool{}

	for _, row := range evidence {
		if !row.Source.ApprovedDomain || row.Page == nil {
			continue
		}
		haystack := identityHaystack(row.Page, row.Fields)
		matched := false

		if lock.Brand != "" && containsLoose(haystack, lock.Brand) {
			result.BrandMatched = true
			matched = true
		}
		if lock.Model != "" && containsLoose(haystack, lock.Model) {
			result.ModelMatched = true
			matched = true
		}
		if lock.SKU != "" && containsLoose(haystack, lock.SKU) {
			result.SKUMatched = true
			matched = true
		}
		for _, token := range variantTokens {
			if containsLoose(haystack, token) {
				variantMatched[token] = true
			}
		}
		if matched {
			result.MatchedSources++
		}
	}

	if len(variantTokens) > 0 {
		result.VariantTokens = float64(len(variantMatched)) / float64(len(variantTokens))
	}

	// Weighted score over the components the lock actually supplies
	score := 0.0
	total := 0.0
	add := func(weight float64, value float64) {
		score += weight * value
		total += weight
	}
	add(identityWeightBrand, boolScore(result.BrandMatched))
	add(identityWeightModel, boolScore(result.ModelMatched))
	if lock.SKU != "" {
		add(identityWeightSKU, boolScore(result.SKUMatched))
	}
	if lock.Variant != "" {
		add(identityWeightVariant, result.VariantTokens)
	}
	if total > 0 {
		result.Certainty = score / total
	}

	return result
}

// identityHaystack folds the matchable page surfaces into one lowercase
// string: title, final URL, identity-field candidates, and body text
func identityHaystack(page *models.PageData, fields map[string]models.Candidate) string {
	var parts []string
	parts = append(parts, page.Title, page.FinalURL)
	for _, key := range []string{"brand", "model", "variant", "sku"} {
		if candidate, ok := fields[key]; ok {
			parts = append(parts, candidate.Value)
		}
	}
	parts = append(parts, page.HTML)
	return squash(strings.Join(parts, " "))
}

// containsLoose matches ignoring case, whitespace, and hyphenation, so
// "PRO X SUPERLIGHT" matches "pro-x-superlight" in a URL. A match whose
// next character is a digit describes a successor product ("Superlight"
// inside "Superlight 2") and does not count; only an occurrence with a
// clean right boundary matches.
func containsLoose(haystack, needle string) bool {
	needle = squash(needle)
	if needle == "" {
		return false
	}
	for from := 0; from <= len(haystack)-len(needle); {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		end := from + i + len(needle)
		if end >= len(haystack) || haystack[end] < '0' || haystack[end] > '9' {
			return true
		}
		from = from + i + 1
	}
	return false
}

func squash(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '-' || r == '_' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func identityTokens(s string) []string {
	var out []string
	for _, token := range strings.Fields(s) {
		if len(token) >= 2 {
			out = append(out, token)
		}
	}
	return out
}

func boolScore(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
