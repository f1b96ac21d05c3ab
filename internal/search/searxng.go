package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// SearxngProvider queries a self-hosted SearXNG instance's JSON API
type SearxngProvider struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

var _ interfaces.SearchProvider = (*SearxngProvider)(nil)

// NewSearxngProvider creates a provider over the instance base URL
func NewSearxngProvider(endpoint string, timeout time.Duration, logger arbor.ILogger) (*SearxngProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("missing_or_invalid: searxng endpoint required")
	}
	return &SearxngProvider{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

func (p *SearxngProvider) Name() string { return "searxng" }

// Search executes one query against /search?format=json
func (p *SearxngProvider) Search(ctx context.Context, query string, maxResults int) ([]interfaces.SERPResult, error) {
	endpoint := p.endpoint + "/search?q=" + url.QueryEscape(query) + "&format=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng search: status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("searxng search: decoding response: %w", err)
	}

	var results []interfaces.SERPResult
	for rank, row := range payload.Results {
		if maxResults > 0 && rank >= maxResults {
			break
		}
		results = append(results, interfaces.SERPResult{
			URL:          row.URL,
			CanonicalURL: CanonicalResultURL(row.URL),
			Title:        row.Title,
			Snippet:      row.Content,
			Rank:         rank,
			Provider:     p.Name(),
			Query:        query,
		})
	}
	p.logger.Debug().Str("query", query).Int("results", len(results)).Msg("SearXNG search complete")
	return results, nil
}
