package search

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

const duckduckgoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. It needs no
// credentials and serves as the fallback behind the API providers.
type DuckDuckGoProvider struct {
	client    *http.Client
	userAgent string
	logger    arbor.ILogger
}

var _ interfaces.SearchProvider = (*DuckDuckGoProvider)(nil)

// NewDuckDuckGoProvider creates the keyless HTML scrape provider
func NewDuckDuckGoProvider(timeout time.Duration, logger arbor.ILogger) *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (compatible; specforge/1.0)",
		logger:    logger,
	}
}

func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

// Search scrapes one HTML results page
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]interfaces.SERPResult, error) {
	endpoint := duckduckgoEndpoint + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo search: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search: parsing results page: %w", err)
	}
	return p.parseResults(doc, query, maxResults), nil
}

func (p *DuckDuckGoProvider) parseResults(doc *goquery.Document, query string, maxResults int) []interfaces.SERPResult {
	var results []interfaces.SERPResult
	doc.Find("div.result").EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		anchor := selection.Find("a.result__a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return true
		}
		target := UnwrapDuckDuckGoURL(href)
		if target == "" {
			return true
		}
		results = append(results, interfaces.SERPResult{
			URL:          target,
			CanonicalURL: CanonicalResultURL(target),
			Title:        strings.TrimSpace(anchor.Text()),
			Snippet:      strings.TrimSpace(selection.Find(".result__snippet").Text()),
			Rank:         len(results),
			Provider:     p.Name(),
			Query:        query,
		})
		return true
	})
	p.logger.Debug().Str("query", query).Int("results", len(results)).Msg("DuckDuckGo search complete")
	return results
}

// UnwrapDuckDuckGoURL resolves the /l/?uddg= redirect wrapper back to
// the destination URL, decoding the percent-encoding the wrapper adds
func UnwrapDuckDuckGoURL(href string) string {
	href = html.UnescapeString(strings.TrimSpace(href))
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	// Query() already percent-decodes the wrapped destination
	if uddg := parsed.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	if parsed.Host == "" && !strings.HasPrefix(href, "http") {
		return ""
	}
	return href
}
