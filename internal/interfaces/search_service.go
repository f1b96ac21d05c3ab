package interfaces

import (
	"context"
)

// SERPResult is one search engine result row
type SERPResult struct {
	URL              string   `json:"url"`
	CanonicalURL     string   `json:"canonical_url"`
	Title            string   `json:"title"`
	Snippet          string   `json:"snippet,omitempty"`
	Rank             int      `json:"rank"`
	Provider         string   `json:"provider"`
	SeenByProviders  []string `json:"seen_by_providers,omitempty"`
	SeenInQueries    []string `json:"seen_in_queries,omitempty"`
	CrossProviderHit int      `json:"cross_provider_count,omitempty"`
	Query            string   `json:"query,omitempty"`
}

// SearchProvider executes one query against one engine
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SERPResult, error)
}
