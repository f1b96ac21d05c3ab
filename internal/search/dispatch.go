package search

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// Dispatch reason codes, recorded with every provider decision
const (
	ReasonSearchDisabled     = "search_disabled"
	ReasonConfiguredProvider = "configured_provider"
	ReasonDualMode           = "dual_mode"
	ReasonCSEReserved        = "cse_reserved_for_rescue"
	ReasonCSERescue          = "cse_rescue"
	ReasonFallbackPublic     = "fallback_missing_credentials"
	ReasonFallbacksDisabled  = "fallbacks_disabled"
)

// DualProvider fans one query out to two engines and merges the result
// sets, surfacing cross-provider agreement
type DualProvider struct {
	primary   interfaces.SearchProvider
	secondary interfaces.SearchProvider
	logger    arbor.ILogger
}

var _ interfaces.SearchProvider = (*DualProvider)(nil)

// NewDualProvider pairs two providers
func NewDualProvider(primary, secondary interfaces.SearchProvider, logger arbor.ILogger) *DualProvider {
	return &DualProvider{primary: primary, secondary: secondary, logger: logger}
}

func (p *DualProvider) Name() string { return "dual" }

// Search queries both engines. One engine failing degrades to the
// other's results; both failing is an error.
func (p *DualProvider) Search(ctx context.Context, query string, maxResults int) ([]interfaces.SERPResult, error) {
	first, errFirst := p.primary.Search(ctx, query, maxResults)
	second, errSecond := p.secondary.Search(ctx, query, maxResults)

	if errFirst != nil && errSecond != nil {
		return nil, fmt.Errorf("dual search: %s failed (%v); %s failed (%v)",
			p.primary.Name(), errFirst, p.secondary.Name(), errSecond)
	}
	if errFirst != nil {
		p.logger.Warn().Err(errFirst).Str("provider", p.primary.Name()).Msg("Dual search lost one engine")
	}
	if errSecond != nil {
		p.logger.Warn().Err(errSecond).Str("provider", p.secondary.Name()).Msg("Dual search lost one engine")
	}
	return MergeResults(first, second), nil
}

// Dispatcher selects the provider for a round from the configured
// policy and the credentials actually present
type Dispatcher struct {
	config    common.SearchConfig
	providers map[string]interfaces.SearchProvider
	logger    arbor.ILogger
}

// NewDispatcher builds every provider the config has credentials for.
// DuckDuckGo is always available as the keyless fallback.
func NewDispatcher(config common.SearchConfig, logger arbor.ILogger) *Dispatcher {
	timeout := 20 * time.Second
	if parsed, err := time.ParseDuration(config.RequestTimeout); err == nil && parsed > 0 {
		timeout = parsed
	}

	providers := map[string]interfaces.SearchProvider{
		"duckduckgo": NewDuckDuckGoProvider(timeout, logger),
	}
	if provider, err := NewBingProvider(config.BingAPIKey, timeout, logger); err == nil {
		providers["bing"] = provider
	}
	if provider, err := NewGoogleCSEProvider(config.GoogleAPIKey, config.GoogleCSEID, timeout, logger); err == nil {
		providers["google"] = provider
	}
	if provider, err := NewSearxngProvider(config.SearxngEndpoint, timeout, logger); err == nil {
		providers["searxng"] = provider
	}

	return &Dispatcher{config: config, providers: providers, logger: logger}
}

// Decide resolves the provider for a round. missingRequired reports
// whether required fields are still unfilled, which is what CSE rescue
// mode keys on. A nil provider means the round runs without search.
func (d *Dispatcher) Decide(round int, missingRequired bool) (interfaces.SearchProvider, string) {
	switch d.config.Provider {
	case "", "none":
		return nil, ReasonSearchDisabled

	case "dual":
		primary, okPrimary := d.providers["bing"]
		secondary, okSecondary := d.providers["searxng"]
		if !okPrimary {
			primary = d.providers["duckduckgo"]
		}
		if !okSecondary {
			secondary = d.providers["duckduckgo"]
		}
		if primary.Name() == secondary.Name() {
			return primary, ReasonFallbackPublic
		}
		return NewDualProvider(primary, secondary, d.logger), ReasonDualMode

	case "google":
		provider, ok := d.providers["google"]
		if !ok {
			return d.fallback()
		}
		if d.config.CSERescueOnlyMode {
			// CSE quota is reserved for late-round rescue of required
			// fields; earlier rounds use the public engines
			if round < d.config.CSERescueRequiredRound || !missingRequired {
				fallback, _ := d.fallback()
				return fallback, ReasonCSEReserved
			}
			return provider, ReasonCSERescue
		}
		return provider, ReasonConfiguredProvider

	default:
		provider, ok := d.providers[d.config.Provider]
		if !ok {
			return d.fallback()
		}
		return provider, ReasonConfiguredProvider
	}
}

func (d *Dispatcher) fallback() (interfaces.SearchProvider, string) {
	if d.config.DisableProviderFallbacks {
		return nil, ReasonFallbacksDisabled
	}
	return d.providers["duckduckgo"], ReasonFallbackPublic
}
