package planner

import (
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// minUsefulHTMLBytes is the floor under which a 200 response is treated
// as bad content (interstitials, empty shells)
const minUsefulHTMLBytes = 512

// ClassifyFetchOutcome translates a fetch result into a closed outcome
// class. The function is total: every (status, message) pair maps to
// exactly one class.
func ClassifyFetchOutcome(status int, message, contentType string, htmlSize int) models.OutcomeClass {
	msg := strings.ToLower(message)

	// Transport-level failures carry status 0
	if status == 0 {
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return models.OutcomeNetworkTimeout
		case msg == "":
			return models.OutcomeFetchError
		default:
			return models.OutcomeFetchError
		}
	}

	switch {
	case status == 404 || status == 410:
		return models.OutcomeNotFound
	case status == 429:
		return models.OutcomeRateLimited
	case status == 401 || status == 407:
		return models.OutcomeLoginWall
	case status == 403:
		if strings.Contains(msg, "captcha") || strings.Contains(msg, "challenge") {
			return models.OutcomeBotChallenge
		}
		return models.OutcomeBlocked
	case status == 503:
		// Cloudflare-style challenges ride on 503
		if strings.Contains(msg, "captcha") || strings.Contains(msg, "challenge") || strings.Contains(msg, "cloudflare") {
			return models.OutcomeBotChallenge
		}
		return models.OutcomeServerError
	case status >= 500:
		return models.OutcomeServerError
	case status == 408:
		return models.OutcomeNetworkTimeout
	case status >= 400:
		return models.OutcomeFetchError
	case status >= 300:
		// Redirect that was not followed to a terminal page
		return models.OutcomeFetchError
	}

	// 2xx: inspect content
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(msg, "login") || strings.Contains(msg, "sign in required"):
		return models.OutcomeLoginWall
	case strings.Contains(msg, "captcha") || strings.Contains(msg, "challenge"):
		return models.OutcomeBotChallenge
	case ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "json") &&
		!strings.Contains(ct, "xml") && !strings.Contains(ct, "pdf") && !strings.Contains(ct, "text"):
		return models.OutcomeBadContent
	case htmlSize > 0 && htmlSize < minUsefulHTMLBytes && !strings.Contains(ct, "json") && !strings.Contains(ct, "pdf"):
		return models.OutcomeBadContent
	}
	return models.OutcomeOK
}
