package orchestrator

import (
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// RoundConfig fixes the knobs for one convergence round before it runs
type RoundConfig struct {
	Round          int
	Discovery      bool   // follow in-page and sitemap links
	SearchProvider string // "none" disables search for the round
	URLCap         int    // max pages fetched this round
	QueryCap       int    // max search queries issued this round
}

// DeriveRoundConfig computes the round plan. Round 0 is a fast pass over
// approved seeds only; round 1+ opens discovery and search, with the URL
// cap scaled by how hard the remaining contract is to satisfy.
func DeriveRoundConfig(runtime common.RuntimeConfig, searchProvider string, pack *rulepack.Pack, round int) RoundConfig {
	if round == 0 {
		return RoundConfig{
			Round:          0,
			Discovery:      false,
			SearchProvider: "none",
			URLCap:         runtime.URLCapFastPass,
			QueryCap:       0,
		}
	}

	urlCap := runtime.URLCapDiscovery + effortBonus(pack)
	if ceiling := runtime.URLCapDiscovery * 2; urlCap > ceiling {
		urlCap = ceiling
	}
	queryCap := 3

	switch runtime.Mode {
	case common.ModeAggressive:
		urlCap = urlCap * 3 / 2
		queryCap = 4
	case common.ModeUberAggressive:
		urlCap = urlCap * 2
		queryCap = 6
	}

	return RoundConfig{
		Round:          round,
		Discovery:      true,
		SearchProvider: searchProvider,
		URLCap:         urlCap,
		QueryCap:       queryCap,
	}
}

// effortBonus widens the discovery cap for categories whose required and
// critical fields are scarce in the wild or expensive to extract
func effortBonus(pack *rulepack.Pack) int {
	bonus := 0
	for _, field := range append(pack.RequiredFields(), pack.CriticalFields()...) {
		rule, ok := pack.Rule(field)
		if !ok {
			continue
		}
		switch rule.Availability {
		case models.AvailabilitySometimes:
			bonus++
		case models.AvailabilityRare:
			bonus += 2
		}
		if rule.Effort >= 7 {
			bonus++
		}
	}
	return bonus / 2
}
