package models

// SourceTier ranks source trustworthiness (1 highest)
type SourceTier int

const (
	TierManufacturer SourceTier = 1
	TierLab          SourceTier = 2
	TierCommunity    SourceTier = 3
	TierUnknown      SourceTier = 0
)

// SourceRole classifies what a host is for
type SourceRole string

const (
	RoleManufacturer SourceRole = "manufacturer"
	RoleLab          SourceRole = "lab"
	RoleReview       SourceRole = "review"
	RoleRetailer     SourceRole = "retailer"
	RoleOther        SourceRole = "other"
)

// Source is one fetchable URL with its host policy attributes
type Source struct {
	URL            string     `json:"url"`
	Host           string     `json:"host"`
	RootDomain     string     `json:"root_domain"`
	Tier           SourceTier `json:"tier"`
	Role           SourceRole `json:"role"`
	ApprovedDomain bool       `json:"approved_domain"`
	DiscoveredFrom string     `json:"discovered_from,omitempty"` // URL that surfaced this source
}

// OutcomeClass is the closed classification of a fetch result
type OutcomeClass string

const (
	OutcomeOK             OutcomeClass = "ok"
	OutcomeNotFound       OutcomeClass = "not_found"
	OutcomeBlocked        OutcomeClass = "blocked"
	OutcomeRateLimited    OutcomeClass = "rate_limited"
	OutcomeLoginWall      OutcomeClass = "login_wall"
	OutcomeBotChallenge   OutcomeClass = "bot_challenge"
	OutcomeBadContent     OutcomeClass = "bad_content"
	OutcomeServerError    OutcomeClass = "server_error"
	OutcomeNetworkTimeout OutcomeClass = "network_timeout"
	OutcomeFetchError     OutcomeClass = "fetch_error"
)

// RolePriority returns the ordering weight of a role (higher first)
func RolePriority(role SourceRole) int {
	switch role {
	case RoleManufacturer:
		return 50
	case RoleLab:
		return 40
	case RoleReview:
		return 30
	case RoleRetailer:
		return 20
	default:
		return 10
	}
}

// TierPriority returns the ordering weight of a tier (higher first)
func TierPriority(tier SourceTier) int {
	switch tier {
	case TierManufacturer:
		return 300
	case TierLab:
		return 200
	case TierCommunity:
		return 100
	default:
		return 0
	}
}
