package fetcher

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// embeddedStatePatterns capture the common window-attached JSON blobs SPAs
// leave in inline scripts
var embeddedStatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`window\.__INITIAL_STATE__\s*=\s*`),
	regexp.MustCompile(`window\.__PRELOADED_STATE__\s*=\s*`),
	regexp.MustCompile(`window\.__NEXT_DATA__\s*=\s*`),
	regexp.MustCompile(`window\.__NUXT__\s*=\s*`),
	regexp.MustCompile(`window\.__APOLLO_STATE__\s*=\s*`),
}

// ExtractLDJSON returns the raw JSON payloads of every
// <script type="application/ld+json"> block in the HTML
func ExtractLDJSON(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		payload := strings.TrimSpace(sel.Text())
		if payload == "" {
			return
		}
		if json.Valid([]byte(payload)) {
			out = append(out, payload)
		}
	})
	return out
}

// ExtractEmbeddedState scans inline scripts for window-attached state
// blobs and the Next.js data script, returning blob name -> raw JSON
func ExtractEmbeddedState(html string) map[string]string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	out := map[string]string{}

	doc.Find(`script#__NEXT_DATA__`).Each(func(_ int, sel *goquery.Selection) {
		payload := strings.TrimSpace(sel.Text())
		if payload != "" && json.Valid([]byte(payload)) {
			out["__NEXT_DATA__"] = payload
		}
	})

	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		for _, pattern := range embeddedStatePatterns {
			loc := pattern.FindStringIndex(text)
			if loc == nil {
				continue
			}
			name := strings.Trim(strings.TrimSuffix(strings.TrimSpace(text[loc[0]:loc[1]]), "="), " \t")
			name = strings.TrimPrefix(name, "window.")
			name = strings.TrimRight(name, " =")
			if _, exists := out[name]; exists {
				continue
			}
			if payload, ok := scanJSONValue(text[loc[1]:]); ok {
				out[name] = payload
			}
		}
	})

	if len(out) == 0 {
		return nil
	}
	return out
}

// scanJSONValue reads one balanced JSON object or array from the front
// of a script tail, ignoring braces inside string literals
func scanJSONValue(text string) (string, bool) {
	text = strings.TrimLeft(text, " \t\r\n")
	if text == "" {
		return "", false
	}
	open := text[0]
	var closing byte
	switch open {
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	default:
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				candidate := text[:i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// PageTitle returns the document title from HTML
func PageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// PDFLinks returns absolute or relative hrefs that point at PDFs
func PDFLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || seen[href] {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, ".pdf?") {
			seen[href] = true
			out = append(out, href)
		}
	})
	return out
}
