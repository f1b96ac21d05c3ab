package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/consensus"
	"github.com/ternarybob/specforge/internal/evidence"
	"github.com/ternarybob/specforge/internal/extractor"
	"github.com/ternarybob/specforge/internal/gates"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/planner"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// SearchDecider picks the search provider for one round. It may return
// nil to skip search for that round; the reason string is logged.
type SearchDecider func(round int, missingRequired bool) (interfaces.SearchProvider, string)

// Deps are the injectable collaborators of a run. Search, LLM, and
// Learning may be nil; the loop degrades to seed-only fetching with no
// AI repair.
type Deps struct {
	Fetcher  interfaces.Fetcher
	Search   SearchDecider
	LLM      interfaces.LLMService
	Learning interfaces.LearningStorage
	PDF      interfaces.PDFExtractor
}

// RunResult is the final state of one product run
type RunResult struct {
	Job        *models.Job              `json:"job"`
	StopReason string                   `json:"stop_reason"`
	Rounds     int                      `json:"rounds"`
	Summary    *RoundSummary            `json:"summary"`
	Summaries  []*RoundSummary          `json:"-"`
	Record     *models.NormalizedRecord `json:"record"`
}

// Orchestrator drives the convergence loop for one category
type Orchestrator struct {
	config    *common.Config
	pack      *rulepack.Pack
	category  *category.Config
	fetcher   interfaces.Fetcher
	search    SearchDecider
	learning  interfaces.LearningStorage
	pdf       interfaces.PDFExtractor
	runner    *evidence.Runner
	budget    *evidence.Budget
	extractor *extractor.Extractor
	engine    *consensus.Engine
	logger    arbor.ILogger
}

// New wires an orchestrator for one category's pack and config
func New(config *common.Config, pack *rulepack.Pack, catConfig *category.Config, deps Deps, logger arbor.ILogger) *Orchestrator {
	o := &Orchestrator{
		config:    config,
		pack:      pack,
		category:  catConfig,
		fetcher:   deps.Fetcher,
		search:    deps.Search,
		learning:  deps.Learning,
		pdf:       deps.PDF,
		extractor: extractor.New(pack, logger),
		engine:    consensus.New(pack, logger),
		logger:    logger,
	}
	if deps.LLM != nil {
		o.budget = evidence.NewBudget(pack, config.LLM.DefaultFieldCalls, config.LLM.MaxCallsPerRun)
		o.runner = evidence.NewRunner(deps.LLM, evidence.NewBuilder(pack, logger), o.budget, logger)
	}
	return o
}

// Run executes convergence rounds until a stop rule fires
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) (*RunResult, error) {
	if o.fetcher == nil {
		return nil, fmt.Errorf("orchestrator requires a fetcher")
	}

	runtime := o.config.Runtime
	deadline := time.Now().Add(time.Duration(runtime.MaxRunSeconds) * time.Second)
	seen := map[string]bool{}
	missStreak := map[string]int{}
	state := &convergence{}

	var prev *RoundSummary
	var summaries []*RoundSummary

	o.logger.Info().
		Str("product", job.ProductID).
		Str("category", job.Category).
		Str("mode", runtime.Mode).
		Msg("Starting convergence run")

	for round := 0; ; round++ {
		roundConfig := DeriveRoundConfig(runtime, o.config.Search.Provider, o.pack, round)
		targets := SelectTargets(o.pack, prev, runtime.Mode, missStreak)

		summary, err := o.runRound(ctx, job, roundConfig, targets, prev, seen)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)

		for _, field := range summary.MissingRequiredFields {
			missStreak[field]++
		}
		for field := range missStreak {
			if provenance, ok := summary.Provenance[field]; ok && provenance.Value != models.UnknownValue {
				delete(missStreak, field)
			}
		}

		state.observe(prev, summary)
		llmExhausted := o.budget != nil && o.budget.RunRemaining() == 0

		reason := evaluateStop(runtime, summary, state, llmExhausted)
		if reason == "" && time.Now().After(deadline) {
			reason = StopBudgetExhausted
		}
		if state.retryOverride(reason, summary) {
			summary.Events = append(summary.Events, "expected_field_retry_override")
			o.logger.Info().Int("round", round).Msg("Retry override granted for expected fields missing after search")
			reason = ""
		}
		prev = summary

		if reason != "" {
			ValidateSummary(summary, o.logger)
			o.logger.Info().
				Str("product", job.ProductID).
				Str("stop_reason", reason).
				Int("rounds", round+1).
				Bool("validated", summary.Validated).
				Msg("Convergence run stopped")
			return &RunResult{
				Job:        job,
				StopReason: reason,
				Rounds:     round + 1,
				Summary:    summary,
				Summaries:  summaries,
				Record:     o.buildRecord(job, summary),
			}, nil
		}
	}
}

// runRound plans, fetches, extracts, repairs, and reconciles one round
func (o *Orchestrator) runRound(ctx context.Context, job *models.Job, roundConfig RoundConfig, targets TargetSet, prev *RoundSummary, seen map[string]bool) (*RoundSummary, error) {
	frontier := planner.NewFrontier(o.category, o.learning, o.logger)
	frontier.SetNeedFields(targets.Fields)
	frontier.EnqueueSeeds(ctx)

	if roundConfig.SearchProvider != "none" && o.search != nil {
		missingRequired := prev == nil || len(prev.MissingRequiredFields) > 0
		provider, decision := o.search(roundConfig.Round, missingRequired)
		if provider != nil {
			o.logger.Debug().
				Int("round", roundConfig.Round).
				Str("decision", decision).
				Msg("Search provider selected")
			o.runSearch(ctx, job, targets, roundConfig, frontier, provider)
		} else {
			o.logger.Debug().Int("round", roundConfig.Round).Str("decision", decision).Msg("Search skipped")
		}
	}

	var (
		sources          []models.Source
		pages            []evidence.SourcedPage
		candidates       []models.Candidate
		identityEvidence []gates.IdentityEvidence
		newURLs          int
		fetched          int
	)

	for fetched < roundConfig.URLCap && frontier.HasFetchable(time.Now()) {
		source, ok := frontier.Next(time.Now())
		if !ok {
			break
		}
		key := planner.CanonicalKey(source.URL)
		if !seen[key] {
			seen[key] = true
			newURLs++
		}
		fetched++

		page, err := o.fetcher.Fetch(ctx, &source, o.config.Fetcher.RequestTimeout)
		if err != nil {
			class := planner.ClassifyFetchOutcome(0, err.Error(), "", 0)
			frontier.RecordOutcome(source.RootDomain, class, time.Now())
			o.logger.Debug().Str("url", source.URL).Str("outcome", string(class)).Msg("Fetch failed")
			sources = append(sources, source)
			continue
		}

		class := planner.ClassifyFetchOutcome(page.Status, page.FetchError, page.ContentType, len(page.HTML))
		frontier.RecordOutcome(source.RootDomain, class, time.Now())
		if class != models.OutcomeOK {
			o.logger.Debug().Str("url", source.URL).Str("outcome", string(class)).Msg("Fetch unusable")
			sources = append(sources, source)
			continue
		}

		// A manufacturer page that never mentions the locked brand is the
		// wrong manufacturer; its host cannot contribute for this run
		if source.ApprovedDomain && source.Role == models.RoleManufacturer &&
			!planner.BrandMatches(page, job.IdentityLock.Brand) {
			frontier.BlockHost(source.Host, "brand_mismatch")
			sources = append(sources, source)
			continue
		}

		o.fillPDFText(ctx, page)

		sourceIndex := len(sources)
		extracted := o.extractor.Extract(page, source, sourceIndex)
		candidates = append(candidates, extracted...)
		sources = append(sources, source)
		pages = append(pages, evidence.SourcedPage{Source: source, Page: page})
		identityEvidence = append(identityEvidence, gates.IdentityEvidence{
			Source: source,
			Page:   page,
			Fields: o.extractor.FieldMap(extracted),
		})

		if roundConfig.Discovery {
			frontier.DiscoverLinks(ctx, page, source)
			if source.ApprovedDomain && source.Role == models.RoleManufacturer {
				o.seedSitemaps(ctx, frontier, source, seen)
			}
		}
	}

	identity := gates.EvaluateIdentity(job.IdentityLock, identityEvidence)

	var events []string
	if o.runner != nil && identity.Certainty >= gates.PublishCertaintyThreshold {
		llmTargets := withoutLocked(targets.Fields, job.LockedFields())
		var priorState map[string]models.FieldProvenance
		if prev != nil {
			priorState = prev.Provenance
		}
		llmResult, llmEvents, err := o.runner.Extract(ctx, job, llmTargets, pages, priorState)
		events = append(events, llmEvents...)
		if err != nil {
			o.logger.Warn().Err(err).Msg("LLM extraction failed; continuing without repair")
		} else if llmResult != nil {
			candidates = o.extractor.MergeLLMCandidates(candidates, llmResult.Candidates, job.LockedFields())
			events = append(events, llmResult.Conflicts...)
		}
	}

	result := o.engine.Reconcile(candidates, sources, consensus.Options{
		PassTargetDefault:  o.category.Schema.PassTargetDefault,
		PassTargetCritical: o.category.Schema.PassTargetCritical,
		IdentityConfidence: identity.Certainty,
		Anchors:            job.Anchors,
	})

	outcome := gates.Evaluate(gates.Input{
		Pack:               o.pack,
		Config:             o.category,
		Job:                job,
		Consensus:          result,
		Identity:           identity,
		TargetCompleteness: o.targetCompleteness(job),
		TargetConfidence:   o.targetConfidence(job),
	}, o.logger)

	creditEvidenceHosts(frontier, sources, result)
	o.recordLearning(ctx, job, candidates, sources, result)

	summary := o.buildSummary(job, roundConfig, targets, prev, result, outcome, identity)
	summary.SourcesFetched = fetched
	summary.NewURLsSeen = newURLs
	summary.SourcesIdentityMatched = identity.MatchedSources
	summary.Events = append(summary.Events, events...)
	return summary, nil
}

// fillPDFText extracts text for fetched PDF payloads so the PDF
// extraction method has something to parse
func (o *Orchestrator) fillPDFText(ctx context.Context, page *models.PageData) {
	if o.pdf == nil {
		return
	}
	for i := range page.PDFDocs {
		doc := &page.PDFDocs[i]
		if doc.Text != "" || len(doc.Data) == 0 {
			continue
		}
		text, err := o.pdf.ExtractText(ctx, doc.Data)
		if err != nil {
			o.logger.Warn().Err(err).Str("url", doc.URL).Msg("PDF text extraction failed")
			continue
		}
		doc.Text = text
	}
}

// maxSitemapSeeds bounds how many sitemap URLs one host may enqueue
const maxSitemapSeeds = 40

// seedSitemaps enqueues product URLs advertised by a manufacturer host's
// robots.txt sitemaps. Runs at most once per host per run; the robots
// and sitemap fetches do not count against the round's URL cap.
func (o *Orchestrator) seedSitemaps(ctx context.Context, frontier *planner.Frontier, source models.Source, seen map[string]bool) {
	robotsURL := "https://" + source.Host + "/robots.txt"
	key := planner.CanonicalKey(robotsURL)
	if seen[key] {
		return
	}
	seen[key] = true

	robots := models.Source{URL: robotsURL, Host: source.Host, RootDomain: source.RootDomain}
	page, err := o.fetcher.Fetch(ctx, &robots, o.config.Fetcher.RequestTimeout)
	if err != nil || page.Status >= 400 || page.HTML == "" {
		return
	}

	added := 0
	for _, sitemapURL := range planner.ParseRobotsSitemaps(page.HTML) {
		if !common.SameRootDomain(sitemapURL, source.URL) {
			continue
		}
		sitemap := models.Source{URL: sitemapURL, Host: source.Host, RootDomain: source.RootDomain}
		doc, err := o.fetcher.Fetch(ctx, &sitemap, o.config.Fetcher.RequestTimeout)
		if err != nil || doc.Status >= 400 || doc.HTML == "" {
			continue
		}
		for _, loc := range planner.ParseSitemapLocs([]byte(doc.HTML)) {
			if planner.IsDiscoveryOnlyURL(loc) || !common.SameRootDomain(loc, source.URL) {
				continue
			}
			if frontier.Enqueue(ctx, loc, robotsURL) {
				added++
				if added >= maxSitemapSeeds {
					break
				}
			}
		}
		// the first sitemap that yields URLs is enough
		if added > 0 {
			break
		}
	}
	if added > 0 {
		o.logger.Debug().Str("host", source.Host).Int("urls", added).Msg("Sitemap seeds enqueued")
	}
}

// creditEvidenceHosts rewards the host budget of every page whose
// evidence backed an accepted value
func creditEvidenceHosts(frontier *planner.Frontier, sources []models.Source, result *consensus.Result) {
	hostByURL := make(map[string]string, len(sources))
	for _, source := range sources {
		hostByURL[source.URL] = source.Host
	}
	for _, provenance := range result.Fields {
		if provenance.Value == models.UnknownValue || provenance.Value == "" {
			continue
		}
		for _, row := range provenance.Evidence {
			if host, ok := hostByURL[row.URL]; ok {
				frontier.BudgetFor(host).RecordEvidenceUsed()
			}
		}
	}
}

// runSearch expands category templates into queries and feeds results
// into the frontier
func (o *Orchestrator) runSearch(ctx context.Context, job *models.Job, targets TargetSet, roundConfig RoundConfig, frontier *planner.Frontier, provider interfaces.SearchProvider) {
	queries := o.buildQueries(job, targets, roundConfig.QueryCap)
	maxResults := o.config.Search.MaxResultsPerQuery
	for _, query := range queries {
		results, err := provider.Search(ctx, query, maxResults)
		if err != nil {
			o.logger.Warn().Err(err).Str("query", query).Msg("Search failed")
			continue
		}
		for _, result := range results {
			frontier.Enqueue(ctx, result.URL, "search:"+result.Provider)
		}
	}
}

// buildQueries expands the category's search templates. Identity-role
// templates always run; field-role templates expand per targeted field
// until the query cap is spent.
func (o *Orchestrator) buildQueries(job *models.Job, targets TargetSet, queryCap int) []string {
	seen := map[string]bool{}
	var queries []string
	add := func(query string) {
		if query != "" && !seen[query] && len(queries) < queryCap {
			seen[query] = true
			queries = append(queries, query)
		}
	}

	templates := o.category.SearchTemplates
	if len(templates) == 0 {
		templates = []category.SearchTemplate{{Name: "default", Template: "{brand} {model} specifications", Role: "identity"}}
	}

	for _, template := range templates {
		if template.Role == "field" {
			continue
		}
		add(category.ExpandTemplate(template.Template, job, ""))
	}
	for _, template := range templates {
		if template.Role != "field" {
			continue
		}
		for _, field := range targets.Fields {
			add(category.ExpandTemplate(template.Template, job, field))
		}
	}
	return queries
}

func (o *Orchestrator) buildSummary(job *models.Job, roundConfig RoundConfig, targets TargetSet, prev *RoundSummary, result *consensus.Result, outcome *gates.Outcome, identity gates.IdentityResult) *RoundSummary {
	summary := &RoundSummary{
		Round:                         roundConfig.Round,
		Validated:                     outcome.Validated,
		ValidatedReason:               outcome.Reason,
		ValidationReasons:             outcome.Reasons,
		Confidence:                    outcome.Confidence,
		CompletenessRequired:          outcome.CompletenessRequired,
		MissingRequiredFields:         gates.MissingRequired(o.pack, result),
		CriticalFieldsBelowPassTarget: result.CriticalBelowPassTarget,
		Contradictions:                result.Contradictions,
		AnchorConflicts:               outcome.AnchorConflicts,
		Provenance:                    result.Fields,
		FieldOrder:                    result.FieldOrder,
		FieldReasoning:                map[string]string{},
		IdentityContext:               identity,
		NewValuesProposed:             result.NewValuesProposed,
		TargetedFields:                targets.Fields,
		EscalatedFields:               targets.Escalated,
		Notes:                         outcome.Notes,
	}
	if summary.MissingRequiredFields == nil {
		summary.MissingRequiredFields = []string{}
	}
	if summary.CriticalFieldsBelowPassTarget == nil {
		summary.CriticalFieldsBelowPassTarget = []string{}
	}

	for field, provenance := range result.Fields {
		if provenance.Traffic != nil {
			summary.FieldReasoning[field] = provenance.Traffic.Reason
		}
	}

	// A field hunted through a search round and still unknown earns the
	// stronger unknown reason; the retry override keys off it
	if roundConfig.SearchProvider != "none" {
		targeted := map[string]bool{}
		for _, field := range targets.Fields {
			targeted[field] = true
		}
		for field, provenance := range summary.Provenance {
			if targeted[field] && provenance.Value == models.UnknownValue && provenance.UnknownReason == models.UnknownReasonNotFound {
				provenance.UnknownReason = models.UnknownReasonNotFoundAfterSearch
				summary.Provenance[field] = provenance
			}
		}
	}

	if prev != nil {
		for field, provenance := range summary.Provenance {
			if provenance.Value == models.UnknownValue || provenance.Value == "" {
				continue
			}
			before, had := prev.Provenance[field]
			if !had || before.Value == models.UnknownValue || before.Value == "" {
				summary.NewFieldsFilled++
			}
		}
	} else {
		for _, provenance := range summary.Provenance {
			if provenance.Value != models.UnknownValue && provenance.Value != "" {
				summary.NewFieldsFilled++
			}
		}
	}
	return summary
}

// buildRecord folds the final summary into the publishable record.
// Identity gate failures withhold every extracted field.
func (o *Orchestrator) buildRecord(job *models.Job, summary *RoundSummary) *models.NormalizedRecord {
	fields := make(map[string]string, len(summary.Provenance))
	for field, provenance := range summary.Provenance {
		value := provenance.Value
		if summary.IdentityContext.Certainty < gates.PublishCertaintyThreshold {
			value = models.UnknownValue
		}
		if value == "" {
			value = models.UnknownValue
		}
		fields[field] = value
	}

	return &models.NormalizedRecord{
		ID:        job.ProductID,
		Brand:     job.IdentityLock.Brand,
		Model:     job.IdentityLock.Model,
		BaseModel: job.IdentityLock.Model,
		Variant:   job.IdentityLock.Variant,
		SKU:       job.IdentityLock.SKU,
		Category:  job.Category,
		Quality: models.Quality{
			Validated:            summary.Validated,
			Confidence:           summary.Confidence,
			CompletenessRequired: summary.CompletenessRequired,
			CoverageOverall:      coverageOverall(summary),
			Notes:                summary.Notes,
		},
		Fields: fields,
		SourceSummary: models.SourceSummary{
			Fetched:         summary.SourcesFetched,
			IdentityMatched: summary.SourcesIdentityMatched,
		},
	}
}

// recordLearning feeds the round's observations back into the learned
// stores: every offered candidate counts as seen for its domain, and
// accepted values count as used plus anchor/alias observations
func (o *Orchestrator) recordLearning(ctx context.Context, job *models.Job, candidates []models.Candidate, sources []models.Source, result *consensus.Result) {
	if o.learning == nil {
		return
	}

	seen := map[string]bool{}
	for _, candidate := range candidates {
		if candidate.SourceIndex < 0 || candidate.SourceIndex >= len(sources) {
			continue
		}
		domain := common.RootDomainOf(sources[candidate.SourceIndex].URL)
		if domain == "" {
			continue
		}
		key := domain + "|" + candidate.Field
		if seen[key] {
			continue
		}
		seen[key] = true
		_ = o.learning.RecordDomainFieldSeen(ctx, domain, candidate.Field)
	}

	for field, provenance := range result.Fields {
		if provenance.Value == models.UnknownValue || provenance.Value == "" {
			continue
		}
		for _, row := range provenance.Evidence {
			if row.URL == "" {
				continue
			}
			if err := o.learning.RecordURLYield(ctx, row.URL, field, job.Category); err != nil {
				o.logger.Debug().Err(err).Msg("Learning record failed")
			}
			if domain := common.RootDomainOf(row.URL); domain != "" {
				_ = o.learning.RecordDomainFieldUsed(ctx, domain, field)
			}
		}
		o.recordAnchorAndAlias(ctx, job, field, provenance.Value, candidates)
	}
}

// recordAnchorAndAlias learns the label phrase that surfaced an accepted
// DOM value and, when the value resolves in the component library, the
// alias spelling that was actually observed
func (o *Orchestrator) recordAnchorAndAlias(ctx context.Context, job *models.Job, field, value string, candidates []models.Candidate) {
	for _, candidate := range candidates {
		if candidate.Field != field || candidate.Value != value {
			continue
		}
		if candidate.Method == models.MethodDOM {
			if phrase := domLabelPhrase(candidate.KeyPath); phrase != "" {
				_ = o.learning.RecordAnchorPhrase(ctx, field, job.Category, phrase)
			}
		}
	}
	if o.pack.Components == nil {
		return
	}
	if token, ok := o.pack.Components.Resolve(value); ok {
		if entry, exists := o.pack.Components.Components[token]; exists {
			_ = o.learning.RecordComponentAlias(ctx, entry.ComponentType, value)
		}
	}
}

// domLabelPhrase pulls the normalized label out of a DOM candidate's
// key path ("<where>:<label>")
func domLabelPhrase(keyPath string) string {
	if i := strings.LastIndex(keyPath, ":"); i >= 0 {
		return keyPath[i+1:]
	}
	return ""
}

func (o *Orchestrator) targetCompleteness(job *models.Job) float64 {
	if job.Requirements != nil && job.Requirements.TargetCompleteness > 0 {
		return job.Requirements.TargetCompleteness
	}
	if o.category.Schema.TargetCompleteness > 0 {
		return o.category.Schema.TargetCompleteness
	}
	return o.config.Runtime.TargetCompleteness
}

func (o *Orchestrator) targetConfidence(job *models.Job) float64 {
	if job.Requirements != nil && job.Requirements.TargetConfidence > 0 {
		return job.Requirements.TargetConfidence
	}
	if o.category.Schema.TargetConfidence > 0 {
		return o.category.Schema.TargetConfidence
	}
	return o.config.Runtime.TargetConfidence
}

func coverageOverall(summary *RoundSummary) float64 {
	if len(summary.Provenance) == 0 {
		return 0
	}
	covered := 0
	for _, provenance := range summary.Provenance {
		if provenance.Value != models.UnknownValue && provenance.Value != "" {
			covered++
		}
	}
	return float64(covered) / float64(len(summary.Provenance))
}

func withoutLocked(fields []string, locked map[string]bool) []string {
	var out []string
	for _, field := range fields {
		if !locked[field] {
			out = append(out, field)
		}
	}
	return out
}
