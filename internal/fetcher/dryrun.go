package fetcher

import (
	"context"
	"time"

	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

// DryRunFetcher serves canned page data keyed by canonical URL. It keeps
// the rest of the pipeline unit-testable without network access.
type DryRunFetcher struct {
	Pages   map[string]*models.PageData // canonical URL -> page
	Default *models.PageData            // served for unknown URLs; nil -> 404
	Fetched []string                    // canonical URLs in fetch order
}

var _ interfaces.Fetcher = (*DryRunFetcher)(nil)

// NewDryRunFetcher creates an empty dry-run fetcher
func NewDryRunFetcher() *DryRunFetcher {
	return &DryRunFetcher{Pages: map[string]*models.PageData{}}
}

// Add registers a canned page for a URL
func (f *DryRunFetcher) Add(rawURL string, page *models.PageData) {
	key := common.CanonicalizeURL(rawURL)
	if page.FinalURL == "" {
		page.FinalURL = key
	}
	if page.Status == 0 {
		page.Status = 200
	}
	if page.HTML != "" {
		if page.Title == "" {
			page.Title = PageTitle(page.HTML)
		}
		if page.LDJSONBlocks == nil {
			page.LDJSONBlocks = ExtractLDJSON(page.HTML)
		}
		if page.EmbeddedState == nil {
			page.EmbeddedState = ExtractEmbeddedState(page.HTML)
		}
	}
	f.Pages[key] = page
}

// Fetch returns the canned page for the source, or a synthetic 404
func (f *DryRunFetcher) Fetch(_ context.Context, source *models.Source, _ time.Duration) (*models.PageData, error) {
	key := common.CanonicalizeURL(source.URL)
	f.Fetched = append(f.Fetched, key)

	if page, ok := f.Pages[key]; ok {
		return page, nil
	}
	if f.Default != nil {
		return f.Default, nil
	}
	return &models.PageData{
		Status:      404,
		FinalURL:    key,
		ContentType: "text/html",
	}, nil
}
