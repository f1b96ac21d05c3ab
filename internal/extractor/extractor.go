package extractor

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/planner"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// methodFn is one deterministic extraction method
type methodFn func(page *models.PageData, matcher *fieldMatcher, pack *rulepack.Pack, sourceIndex int) []models.Candidate

// Extractor turns page data into field candidates. The five
// deterministic methods form a closed dispatch table; LLM candidates
// arrive separately through MergeLLMCandidates.
type Extractor struct {
	pack    *rulepack.Pack
	matcher *fieldMatcher
	logger  arbor.ILogger
	methods []struct {
		method models.ExtractionMethod
		fn     methodFn
	}
}

// New creates an extractor bound to a loaded rule pack
func New(pack *rulepack.Pack, logger arbor.ILogger) *Extractor {
	return &Extractor{
		pack:    pack,
		matcher: newFieldMatcher(pack),
		logger:  logger,
		methods: []struct {
			method models.ExtractionMethod
			fn     methodFn
		}{
			{models.MethodNetworkJSON, extractNetworkJSON},
			{models.MethodEmbeddedState, extractEmbeddedState},
			{models.MethodLDJSON, extractLDJSON},
			{models.MethodPDF, extractPDF},
			{models.MethodDOM, extractDOM},
		},
	}
}

// Extract runs every deterministic method over one page and returns the
// de-duplicated candidate list. Discovery-only pages (search, sitemap,
// robots, find) produce zero candidates.
func (e *Extractor) Extract(page *models.PageData, source models.Source, sourceIndex int) []models.Candidate {
	if page == nil || planner.IsDiscoveryOnlyURL(source.URL) {
		return nil
	}

	var all []models.Candidate
	for _, entry := range e.methods {
		candidates := entry.fn(page, e.matcher, e.pack, sourceIndex)
		all = append(all, candidates...)
	}

	deduped := DedupeCandidates(all)
	e.logger.Debug().
		Str("url", source.URL).
		Int("raw", len(all)).
		Int("deduped", len(deduped)).
		Msg("Extraction complete")
	return deduped
}

// MergeLLMCandidates appends model-sourced candidates, discarding any
// that target identity-locked or anchor-locked fields, then re-dedupes.
func (e *Extractor) MergeLLMCandidates(existing, llm []models.Candidate, locked map[string]bool) []models.Candidate {
	merged := make([]models.Candidate, 0, len(existing)+len(llm))
	merged = append(merged, existing...)
	dropped := 0
	for _, candidate := range llm {
		if locked[candidate.Field] {
			dropped++
			continue
		}
		candidate.Method = models.MethodLLMExtract
		merged = append(merged, candidate)
	}
	if dropped > 0 {
		e.logger.Debug().Int("dropped", dropped).Msg("Discarded LLM candidates on locked fields")
	}
	return DedupeCandidates(merged)
}

// DedupeCandidates removes exact duplicates by field|value|method|keyPath,
// keeping first occurrence
func DedupeCandidates(candidates []models.Candidate) []models.Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]models.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		key := candidate.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, candidate)
	}
	return out
}

// FieldMap reduces candidates to the top-scoring value per field, used by
// anchor and identity evaluation. Consensus still sees every candidate.
func (e *Extractor) FieldMap(candidates []models.Candidate) map[string]models.Candidate {
	best := map[string]models.Candidate{}
	bestScore := map[string]float64{}
	for _, candidate := range candidates {
		score := e.Score(candidate)
		if current, ok := bestScore[candidate.Field]; !ok || score > current {
			best[candidate.Field] = candidate
			bestScore[candidate.Field] = score
		}
	}
	return best
}
