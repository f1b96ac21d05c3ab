package planner

import (
	"bufio"
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
)

// maxDiscoveredPerPage bounds link fan-out from a single page
const maxDiscoveredPerPage = 40

// DiscoverLinks extracts same-eTLD+1 links from fetched HTML that match
// spec/product path hints and enqueues them. Returns how many entered
// the frontier.
func (f *Frontier) DiscoverLinks(ctx context.Context, page *models.PageData, from models.Source) int {
	if page == nil || page.HTML == "" {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		f.logger.Debug().Err(err).Str("url", from.URL).Msg("Link discovery parse failed")
		return 0
	}

	base, err := url.Parse(firstNonEmpty(page.FinalURL, from.URL))
	if err != nil {
		return 0
	}

	added := 0
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return true
		}
		absolute := resolved.String()
		if !common.SameRootDomain(absolute, from.URL) {
			return true
		}
		if !pathLooksRelevant(resolved.Path) {
			return true
		}
		if f.Enqueue(ctx, absolute, from.URL) {
			added++
		}
		return added < maxDiscoveredPerPage
	})
	return added
}

// pathLooksRelevant keeps discovery focused on product and spec pages
func pathLooksRelevant(path string) bool {
	path = strings.ToLower(path)
	for _, hint := range specPathHints {
		if strings.Contains(path, hint) {
			return true
		}
	}
	return false
}

// ParseRobotsSitemaps extracts Sitemap: directives from a robots.txt body
func ParseRobotsSitemaps(body string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "sitemap:") {
			continue
		}
		target := strings.TrimSpace(line[len("sitemap:"):])
		if target != "" {
			out = append(out, target)
		}
	}
	return out
}

// sitemapDoc matches both <urlset> and <sitemapindex> documents: either
// way the payload is a list of <loc> values
type sitemapDoc struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// ParseSitemapLocs extracts <loc> URLs from a sitemap or sitemap-index
// XML body
func ParseSitemapLocs(body []byte) []string {
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil
	}
	out := make([]string, 0, len(doc.URLs)+len(doc.Sitemaps))
	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}

// BrandMatches reports whether a fetched page plausibly belongs to the
// job's brand. Used on approved manufacturer hosts: a mismatch blocks
// the host for the rest of the run.
func BrandMatches(page *models.PageData, brand string) bool {
	if page == nil || brand == "" {
		return true
	}
	needle := strings.ToLower(brand)
	if strings.Contains(strings.ToLower(page.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(page.FinalURL), strings.ReplaceAll(needle, " ", "")) {
		return true
	}
	return strings.Contains(strings.ToLower(page.HTML), needle)
}

// IsDiscoveryOnlyURL detects search/sitemap/robots/find pages that feed
// the planner but must never produce candidates
func IsDiscoveryOnlyURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(path, "/robots.txt"),
		strings.Contains(path, "sitemap"),
		strings.Contains(path, "/search"),
		strings.Contains(path, "/find"):
		return true
	}
	query := strings.ToLower(u.RawQuery)
	return strings.Contains(query, "q=") && (strings.Contains(path, "search") || path == "" || path == "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
