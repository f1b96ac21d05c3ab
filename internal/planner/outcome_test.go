package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/specforge/internal/models"
)

func TestClassifyFetchOutcome(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		message     string
		contentType string
		htmlSize    int
		want        models.OutcomeClass
	}{
		{"ok html", 200, "", "text/html", 50000, models.OutcomeOK},
		{"ok json", 200, "", "application/json", 100, models.OutcomeOK},
		{"not found", 404, "", "text/html", 1000, models.OutcomeNotFound},
		{"gone", 410, "", "text/html", 1000, models.OutcomeNotFound},
		{"rate limited", 429, "too many requests", "text/html", 100, models.OutcomeRateLimited},
		{"login wall 401", 401, "", "text/html", 1000, models.OutcomeLoginWall},
		{"blocked 403", 403, "forbidden", "text/html", 1000, models.OutcomeBlocked},
		{"captcha 403", 403, "captcha required", "text/html", 1000, models.OutcomeBotChallenge},
		{"cloudflare 503", 503, "cloudflare challenge", "text/html", 1000, models.OutcomeBotChallenge},
		{"server error", 500, "", "text/html", 0, models.OutcomeServerError},
		{"bad gateway", 502, "", "", 0, models.OutcomeServerError},
		{"request timeout", 408, "", "", 0, models.OutcomeNetworkTimeout},
		{"transport timeout", 0, "context deadline exceeded", "", 0, models.OutcomeNetworkTimeout},
		{"transport refused", 0, "connection refused", "", 0, models.OutcomeFetchError},
		{"empty shell", 200, "", "text/html", 80, models.OutcomeBadContent},
		{"binary content", 200, "", "image/png", 100000, models.OutcomeBadContent},
		{"login interstitial", 200, "login required", "text/html", 9000, models.OutcomeLoginWall},
		{"unfollowed redirect", 301, "", "", 0, models.OutcomeFetchError},
		{"client error misc", 418, "", "", 0, models.OutcomeFetchError},
		{"pdf ok", 200, "", "application/pdf", 0, models.OutcomeOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyFetchOutcome(tt.status, tt.message, tt.contentType, tt.htmlSize)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Totality: every status in a broad sweep maps to a non-empty class
func TestClassifyFetchOutcomeIsTotal(t *testing.T) {
	for status := 0; status <= 599; status++ {
		got := ClassifyFetchOutcome(status, "", "text/html", 10000)
		assert.NotEmpty(t, got, "status %d produced no class", status)
	}
	for _, msg := range []string{"", "timeout", "garbage", "connection reset"} {
		got := ClassifyFetchOutcome(0, msg, "", 0)
		assert.NotEmpty(t, got, "message %q produced no class", msg)
	}
}
