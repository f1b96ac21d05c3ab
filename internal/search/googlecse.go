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

const googleCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleCSEProvider queries the Google Programmable Search (CSE) JSON API
type GoogleCSEProvider struct {
	apiKey string
	cseID  string
	client *http.Client
	logger arbor.ILogger
}

var _ interfaces.SearchProvider = (*GoogleCSEProvider)(nil)

// NewGoogleCSEProvider creates a CSE provider; key and engine ID are
// both mandatory
func NewGoogleCSEProvider(apiKey, cseID string, timeout time.Duration, logger arbor.ILogger) (*GoogleCSEProvider, error) {
	if apiKey == "" || cseID == "" {
		return nil, fmt.Errorf("missing_or_invalid: google cse key and engine id required")
	}
	return &GoogleCSEProvider{
		apiKey: apiKey,
		cseID:  cseID,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (p *GoogleCSEProvider) Name() string { return "google" }

// Search executes one query; CSE caps num at 10 per request
func (p *GoogleCSEProvider) Search(ctx context.Context, query string, maxResults int) ([]interfaces.SERPResult, error) {
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 10
	}
	endpoint := googleCSEEndpoint +
		"?key=" + url.QueryEscape(p.apiKey) +
		"&cx=" + url.QueryEscape(p.cseID) +
		"&q=" + url.QueryEscape(query) +
		"&num=" + strconv.Itoa(maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google cse search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google cse search: status %d", resp.StatusCode)
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("google cse search: decoding response: %w", err)
	}

	results := make([]interfaces.SERPResult, 0, len(payload.Items))
	for rank, row := range payload.Items {
		results = append(results, interfaces.SERPResult{
			URL:          row.Link,
			CanonicalURL: CanonicalResultURL(row.Link),
			Title:        row.Title,
			Snippet:      row.Snippet,
			Rank:         rank,
			Provider:     p.Name(),
			Query:        query,
		})
	}
	p.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Google CSE search complete")
	return results, nil
}
