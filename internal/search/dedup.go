package search

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ternarybob/specforge/internal/interfaces"
)

// CanonicalResultURL normalizes a SERP URL for deduplication: lowercase
// scheme and host, tracking parameters removed, trailing slash dropped.
func CanonicalResultURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	query := u.Query()
	for key := range query {
		if isTrackingParam(strings.ToLower(key)) {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()

	canonical := u.String()
	return strings.TrimSuffix(canonical, "/")
}

func isTrackingParam(key string) bool {
	switch key {
	case "fbclid", "gclid", "msclkid", "ref", "source":
		return true
	}
	return strings.HasPrefix(key, "utm_") || strings.HasPrefix(key, "mc_")
}

// MergeResults folds result batches from multiple providers and queries
// into one deduplicated list. Duplicates collapse onto the smallest
// rank; provider and query attributions merge, and results seen by more
// than one provider are flagged as cross-provider hits.
func MergeResults(batches ...[]interfaces.SERPResult) []interfaces.SERPResult {
	merged := map[string]*interfaces.SERPResult{}
	var order []string

	for _, batch := range batches {
		for _, result := range batch {
			canonical := CanonicalResultURL(result.URL)
			if canonical == "" {
				continue
			}

			existing, ok := merged[canonical]
			if !ok {
				row := result
				row.CanonicalURL = canonical
				row.SeenByProviders = mergeStrings(nil, result.Provider)
				row.SeenByProviders = mergeStrings(row.SeenByProviders, result.SeenByProviders...)
				row.SeenInQueries = mergeStrings(nil, result.Query)
				row.SeenInQueries = mergeStrings(row.SeenInQueries, result.SeenInQueries...)
				merged[canonical] = &row
				order = append(order, canonical)
				continue
			}

			if result.Rank < existing.Rank {
				existing.Rank = result.Rank
				existing.Title = result.Title
				if result.Snippet != "" {
					existing.Snippet = result.Snippet
				}
			}
			existing.SeenByProviders = mergeStrings(existing.SeenByProviders, result.Provider)
			existing.SeenByProviders = mergeStrings(existing.SeenByProviders, result.SeenByProviders...)
			existing.SeenInQueries = mergeStrings(existing.SeenInQueries, result.Query)
			existing.SeenInQueries = mergeStrings(existing.SeenInQueries, result.SeenInQueries...)
		}
	}

	out := make([]interfaces.SERPResult, 0, len(order))
	for _, canonical := range order {
		row := merged[canonical]
		row.CrossProviderHit = len(row.SeenByProviders)
		out = append(out, *row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		// Cross-provider agreement outranks raw rank
		if out[i].CrossProviderHit != out[j].CrossProviderHit {
			return out[i].CrossProviderHit > out[j].CrossProviderHit
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}

func mergeStrings(list []string, values ...string) []string {
	for _, value := range values {
		if value == "" {
			continue
		}
		found := false
		for _, existing := range list {
			if existing == value {
				found = true
				break
			}
		}
		if !found {
			list = append(list, value)
		}
	}
	return list
}
