package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "specforge/1.0 (+spec-sheet extraction)"
	maxBodyBytes     = 8 << 20 // 8 MiB
)

// HTTPFetcher fetches pages over plain HTTP. It cannot observe XHR
// traffic, so NetworkResponses stays empty; LD-JSON and embedded state
// are parsed from the delivered HTML.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    arbor.ILogger
}

var _ interfaces.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTP fetcher with a global requests-per-second
// cap (0 disables limiting)
func NewHTTPFetcher(requestsPerSecond float64, logger arbor.ILogger) *HTTPFetcher {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
		limiter:   limiter,
		userAgent: defaultUserAgent,
		logger:    logger,
	}
}

// Fetch retrieves one source over HTTP and parses structured payloads
// out of the body
func (f *HTTPFetcher) Fetch(ctx context.Context, source *models.Source, timeout time.Duration) (*models.PageData, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return &models.PageData{FetchError: err.Error()}, err
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return &models.PageData{FetchError: err.Error()}, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return &models.PageData{FetchError: err.Error()}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &models.PageData{
			Status:     resp.StatusCode,
			FinalURL:   resp.Request.URL.String(),
			FetchError: err.Error(),
		}, err
	}

	page := &models.PageData{
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch {
	case strings.Contains(page.ContentType, "pdf"):
		page.PDFDocs = []models.PDFDoc{{URL: page.FinalURL, Data: body}}
	case strings.Contains(page.ContentType, "json"):
		page.NetworkResponses = []models.NetworkResponse{{
			URL:         page.FinalURL,
			Status:      resp.StatusCode,
			ContentType: page.ContentType,
			Body:        string(body),
		}}
	default:
		page.HTML = string(body)
		page.Title = PageTitle(page.HTML)
		page.LDJSONBlocks = ExtractLDJSON(page.HTML)
		page.EmbeddedState = ExtractEmbeddedState(page.HTML)
	}

	f.logger.Debug().
		Str("url", source.URL).
		Int("status", page.Status).
		Int("ldjson", len(page.LDJSONBlocks)).
		Msg("HTTP fetch complete")

	return page, nil
}
