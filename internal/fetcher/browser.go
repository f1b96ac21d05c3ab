package fetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

// BrowserConfig tunes the headless rendering fetcher
type BrowserConfig struct {
	UserAgent          string        `json:"user_agent"`
	Headless           bool          `json:"headless"`
	NoSandbox          bool          `json:"no_sandbox"`
	JavaScriptWaitTime time.Duration `json:"javascript_wait_time"`
	MaxNetworkBody     int           `json:"max_network_body"`
}

// DefaultBrowserConfig returns the fetcher defaults
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		UserAgent:          defaultUserAgent,
		Headless:           true,
		JavaScriptWaitTime: 3 * time.Second,
		MaxNetworkBody:     2 << 20,
	}
}

// BrowserFetcher renders pages in headless Chrome and captures the
// XHR/fetch JSON traffic the page generated while rendering.
type BrowserFetcher struct {
	config         BrowserConfig
	logger         arbor.ILogger
	allocatorCtx   context.Context
	allocatorStop  context.CancelFunc
	mu             sync.Mutex
	initialized    bool
}

var _ interfaces.Fetcher = (*BrowserFetcher)(nil)

// NewBrowserFetcher creates a lazily initialized browser fetcher
func NewBrowserFetcher(config BrowserConfig, logger arbor.ILogger) *BrowserFetcher {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.JavaScriptWaitTime <= 0 {
		config.JavaScriptWaitTime = 3 * time.Second
	}
	if config.MaxNetworkBody <= 0 {
		config.MaxNetworkBody = 2 << 20
	}
	return &BrowserFetcher{config: config, logger: logger}
}

func (f *BrowserFetcher) init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(f.config.UserAgent),
		chromedp.Flag("headless", f.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-features", "NetworkService,NetworkServiceInProcess"),
	)
	if f.config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	f.allocatorCtx, f.allocatorStop = chromedp.NewExecAllocator(context.Background(), opts...)
	f.initialized = true
	f.logger.Info().
		Bool("headless", f.config.Headless).
		Dur("js_wait", f.config.JavaScriptWaitTime).
		Msg("Browser fetcher initialized")
	return nil
}

// Close releases the browser allocator
func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocatorStop != nil {
		f.allocatorStop()
		f.allocatorStop = nil
		f.initialized = false
	}
}

// capturedResponse pairs a CDP request id with its response metadata
// until the body can be pulled after load
type capturedResponse struct {
	requestID   network.RequestID
	url         string
	status      int
	contentType string
}

// Fetch renders the source URL, waits for JavaScript, and returns the
// rendered HTML plus captured JSON network traffic
func (f *BrowserFetcher) Fetch(ctx context.Context, source *models.Source, timeout time.Duration) (*models.PageData, error) {
	if err := f.init(); err != nil {
		return &models.PageData{FetchError: err.Error()}, err
	}

	browserCtx, cancelBrowser := chromedp.NewContext(f.allocatorCtx)
	defer cancelBrowser()

	if timeout > 0 {
		var cancel context.CancelFunc
		browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
		defer cancel()
	}

	var (
		captureMu sync.Mutex
		captured  []capturedResponse
		status    int
	)

	chromedp.ListenTarget(browserCtx, func(event interface{}) {
		switch ev := event.(type) {
		case *network.EventResponseReceived:
			captureMu.Lock()
			defer captureMu.Unlock()
			if ev.Type == network.ResourceTypeDocument && status == 0 {
				status = int(ev.Response.Status)
			}
			if ev.Type != network.ResourceTypeXHR && ev.Type != network.ResourceTypeFetch {
				return
			}
			contentType := strings.ToLower(ev.Response.MimeType)
			if !strings.Contains(contentType, "json") {
				return
			}
			captured = append(captured, capturedResponse{
				requestID:   ev.RequestID,
				url:         ev.Response.URL,
				status:      int(ev.Response.Status),
				contentType: ev.Response.MimeType,
			})
		}
	})

	var html, title, finalURL string
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(source.URL),
		chromedp.Sleep(f.config.JavaScriptWaitTime),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		// Honor ctx cancellation distinctly so the planner can classify
		if ctx.Err() != nil {
			err = fmt.Errorf("fetch cancelled: %w", ctx.Err())
		}
		return &models.PageData{Status: status, FetchError: err.Error()}, err
	}

	page := &models.PageData{
		Status:        status,
		FinalURL:      finalURL,
		Title:         title,
		HTML:          html,
		ContentType:   "text/html",
		LDJSONBlocks:  ExtractLDJSON(html),
		EmbeddedState: ExtractEmbeddedState(html),
	}
	if page.Status == 0 {
		page.Status = 200
	}

	// Pull bodies for the captured JSON responses
	captureMu.Lock()
	toFetch := make([]capturedResponse, len(captured))
	copy(toFetch, captured)
	captureMu.Unlock()

	for _, row := range toFetch {
		var body []byte
		bodyErr := chromedp.Run(browserCtx, chromedp.ActionFunc(func(cdpCtx context.Context) error {
			var err error
			body, err = network.GetResponseBody(row.requestID).Do(cdpCtx)
			return err
		}))
		if bodyErr != nil || len(body) == 0 || len(body) > f.config.MaxNetworkBody {
			continue
		}
		page.NetworkResponses = append(page.NetworkResponses, models.NetworkResponse{
			URL:         row.url,
			Status:      row.status,
			ContentType: row.contentType,
			Body:        string(body),
		})
	}

	f.logger.Debug().
		Str("url", source.URL).
		Int("status", page.Status).
		Int("network_json", len(page.NetworkResponses)).
		Int("ldjson", len(page.LDJSONBlocks)).
		Msg("Browser fetch complete")

	return page, nil
}
