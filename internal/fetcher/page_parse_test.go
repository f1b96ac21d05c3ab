package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/models"
)

const sampleHTML = `<html>
<head>
<title>PRO X SUPERLIGHT | Logitech G</title>
<script type="application/ld+json">{"@type":"Product","name":"PRO X SUPERLIGHT","weight":"63 g"}</script>
<script type="application/ld+json">not json at all</script>
</head>
<body>
<script>window.__INITIAL_STATE__ = {"product":{"weight":63,"dpi":"100-25600"}};</script>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"sku":"910-005878"}}}</script>
<a href="/files/pro-x-superlight-datasheet.pdf">Datasheet</a>
<a href="/files/pro-x-superlight-datasheet.pdf">Datasheet again</a>
<a href="/en-us/products.html">Products</a>
</body></html>`

func TestExtractLDJSON(t *testing.T) {
	blocks := ExtractLDJSON(sampleHTML)
	require.Len(t, blocks, 1, "invalid JSON blocks must be dropped")
	assert.Contains(t, blocks[0], `"PRO X SUPERLIGHT"`)
}

func TestExtractEmbeddedState(t *testing.T) {
	state := ExtractEmbeddedState(sampleHTML)
	require.NotNil(t, state)

	initial, ok := state["__INITIAL_STATE__"]
	require.True(t, ok, "window.__INITIAL_STATE__ should be captured, got keys %v", keysOf(state))
	assert.Contains(t, initial, `"dpi":"100-25600"`)

	next, ok := state["__NEXT_DATA__"]
	require.True(t, ok)
	assert.Contains(t, next, "910-005878")
}

func TestExtractEmbeddedStateBalancedScan(t *testing.T) {
	html := `<script>window.__INITIAL_STATE__ = {"a":"braces } in { strings","b":{"c":1}}; doSomething();</script>`
	state := ExtractEmbeddedState(html)
	require.NotNil(t, state)
	assert.Equal(t, `{"a":"braces } in { strings","b":{"c":1}}`, state["__INITIAL_STATE__"])
}

func TestExtractEmbeddedStateNoneFound(t *testing.T) {
	assert.Nil(t, ExtractEmbeddedState(`<html><script>var x = 1;</script></html>`))
}

func TestPDFLinksDeduped(t *testing.T) {
	links := PDFLinks(sampleHTML)
	assert.Equal(t, []string{"/files/pro-x-superlight-datasheet.pdf"}, links)
}

func TestPageTitle(t *testing.T) {
	assert.Equal(t, "PRO X SUPERLIGHT | Logitech G", PageTitle(sampleHTML))
	assert.Empty(t, PageTitle("<html><body>no title</body></html>"))
}

func TestDryRunFetcher(t *testing.T) {
	dry := NewDryRunFetcher()
	dry.Add("https://logitechg.com/specs?utm_source=x", &models.PageData{HTML: sampleHTML})

	source := &models.Source{URL: "https://logitechg.com/specs"}
	page, err := dry.Fetch(context.Background(), source, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200, page.Status)
	assert.Equal(t, "PRO X SUPERLIGHT | Logitech G", page.Title)
	assert.Len(t, page.LDJSONBlocks, 1)
	assert.NotNil(t, page.EmbeddedState)

	// Unknown URL falls back to a synthetic 404
	missing, err := dry.Fetch(context.Background(), &models.Source{URL: "https://logitechg.com/other"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 404, missing.Status)

	assert.Len(t, dry.Fetched, 2)
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
