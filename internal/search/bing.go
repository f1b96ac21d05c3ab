package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

const bingEndpoint = "https://api.bing.microsoft.com/v7.0/search"

// BingProvider queries the Bing Web Search API v7
type BingProvider struct {
	apiKey string
	client *http.Client
	logger arbor.ILogger
}

var _ interfaces.SearchProvider = (*BingProvider)(nil)

// NewBingProvider creates a Bing provider; the key is mandatory
func NewBingProvider(apiKey string, timeout time.Duration, logger arbor.ILogger) (*BingProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing_or_invalid: bing api key required")
	}
	return &BingProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (p *BingProvider) Name() string { return "bing" }

// Search executes one query and maps the web-page results
func (p *BingProvider) Search(ctx context.Context, query string, maxResults int) ([]interfaces.SERPResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	endpoint := bingEndpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bing search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bing search: status %d", resp.StatusCode)
	}

	var payload struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("bing search: decoding response: %w", err)
	}

	results := make([]interfaces.SERPResult, 0, len(payload.WebPages.Value))
	for rank, row := range payload.WebPages.Value {
		results = append(results, interfaces.SERPResult{
			URL:          row.URL,
			CanonicalURL: CanonicalResultURL(row.URL),
			Title:        row.Name,
			Snippet:      row.Snippet,
			Rank:         rank,
			Provider:     p.Name(),
			Query:        query,
		})
	}
	p.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Bing search complete")
	return results, nil
}
