package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// Confidence weights. Pure function of the reconciliation inputs so runs
// are deterministic.
const (
	weightIdentity  = 0.35
	weightAgreement = 0.40
	weightTier      = 0.25
	weightConflict  = 0.15
)

// Reducer can override winner selection for a field. It receives the
// candidate groups sorted by the default ranking and returns the index of
// the group to accept.
type Reducer func(groups []Group) int

// PreferHighestTier is a built-in reducer that promotes the group whose
// best evidence comes from the most trusted tier, breaking ties by the
// default order.
func PreferHighestTier(groups []Group) int {
	best := 0
	for i, g := range groups {
		if models.TierPriority(g.BestTier) > models.TierPriority(groups[best].BestTier) {
			best = i
		}
	}
	return best
}

// Group is one set of equivalent normalized values for a field
type Group struct {
	Normalized            string
	Display               string // first raw spelling seen
	Confirmations         int    // distinct confirming sources
	ApprovedConfirmations int    // distinct confirming approved sources
	BestMethodPriority    int
	BestTier              models.SourceTier
	FirstSeq              int
	Evidence              []models.EvidenceRow
}

// NewValueProposal is an enum value not present in known_values
type NewValueProposal struct {
	Field     string `json:"field"`
	Value     string `json:"value"`
	SourceURL string `json:"source_url,omitempty"`
}

// Options tunes reconciliation
type Options struct {
	PassTargetDefault  int                // Approved confirmations needed for non-critical fields (default 1)
	PassTargetCritical int                // Approved confirmations needed for critical fields (default 2)
	IdentityConfidence float64            // From identity evaluation, feeds per-field confidence
	Anchors            map[string]string  // field -> pre-known value; conflicts depress confidence
	MajorConflicts     map[string]bool    // fields with an unresolved major anchor/constraint conflict
	Reducers           map[string]Reducer // per-field selection overrides
}

// Result is the consensus output for one round
type Result struct {
	Fields                  map[string]models.FieldProvenance
	FieldOrder              []string
	Candidates              map[string][]models.Candidate // per-field surviving candidates
	BelowPassTarget         []string
	CriticalBelowPassTarget []string
	NewValuesProposed       []NewValueProposal
	Contradictions          []string
}

// Engine reconciles candidates into per-field accepted values
type Engine struct {
	pack   *rulepack.Pack
	logger arbor.ILogger
}

func New(pack *rulepack.Pack, logger arbor.ILogger) *Engine {
	return &Engine{pack: pack, logger: logger}
}

// Reconcile partitions candidates by field, groups equivalent values,
// applies pass targets and reducers, and computes per-field provenance.
func (e *Engine) Reconcile(candidates []models.Candidate, sources []models.Source, opts Options) *Result {
	if opts.PassTargetDefault <= 0 {
		opts.PassTargetDefault = 1
	}
	if opts.PassTargetCritical <= 0 {
		opts.PassTargetCritical = 2
	}

	result := &Result{
		Fields:     map[string]models.FieldProvenance{},
		FieldOrder: e.pack.Rules.FieldOrder,
		Candidates: map[string][]models.Candidate{},
	}

	byField := map[string][]models.Candidate{}
	for _, candidate := range candidates {
		if _, known := e.pack.Rules.Fields[candidate.Field]; !known {
			continue
		}
		byField[candidate.Field] = append(byField[candidate.Field], candidate)
	}

	for _, field := range e.pack.Rules.FieldOrder {
		rule := e.pack.Rules.Fields[field]
		fieldCandidates := e.applyRejectRules(rule, byField[field], result)
		result.Candidates[field] = fieldCandidates

		var provenance models.FieldProvenance
		if rule.OutputShape == models.OutputShapeList {
			provenance = e.reconcileList(rule, fieldCandidates, sources, opts)
		} else {
			provenance = e.reconcileScalar(rule, fieldCandidates, sources, opts, result)
		}

		if provenance.Value == models.UnknownValue && provenance.UnknownReason == "" {
			provenance.UnknownReason = unknownReason(rule)
		}
		provenance.Traffic = e.trafficLight(rule, &provenance)
		result.Fields[field] = provenance

		if !provenance.MeetsPassTarget {
			result.BelowPassTarget = append(result.BelowPassTarget, field)
			if rule.IsCritical() {
				result.CriticalBelowPassTarget = append(result.CriticalBelowPassTarget, field)
			}
		}
	}

	e.logger.Debug().
		Int("fields", len(result.Fields)).
		Int("below_pass_target", len(result.BelowPassTarget)).
		Int("new_values", len(result.NewValuesProposed)).
		Msg("Consensus reconciliation complete")

	return result
}

// applyRejectRules drops candidates that fail reject_candidate
// cross-validation rules; flag_for_review failures become contradictions
func (e *Engine) applyRejectRules(rule models.FieldRule, candidates []models.Candidate, result *Result) []models.Candidate {
	if e.pack.CrossRules == nil || len(candidates) == 0 {
		return candidates
	}

	kept := make([]models.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		rejected := false
		for _, cross := range e.pack.CrossRules.Rules {
			if cross.Type != "range" || cross.TriggerField != rule.FieldKey {
				continue
			}
			numeric, ok := parseLooseNumber(candidate.Value)
			if !ok {
				continue
			}
			inRange := (cross.Min == nil || numeric >= *cross.Min) && (cross.Max == nil || numeric <= *cross.Max)
			if inRange {
				continue
			}
			if cross.OnFail == models.ActionRejectCandidate {
				rejected = true
			} else {
				result.Contradictions = append(result.Contradictions,
					fmt.Sprintf("%s: value %q outside %s", rule.FieldKey, candidate.Value, cross.RuleID))
			}
		}
		if !rejected {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// buildGroups folds candidates into equivalence groups. Confirmations
// count distinct sources, not candidates, so three methods on one page
// are still one confirmation.
func (e *Engine) buildGroups(rule models.FieldRule, candidates []models.Candidate, sources []models.Source) []Group {
	index := map[string]int{}
	var groups []Group
	groupSources := map[string]map[int]bool{}
	groupApproved := map[string]map[int]bool{}

	for seq, candidate := range candidates {
		normalized := NormalizeValue(rule, candidate.Value)
		if normalized == "" {
			continue
		}

		source := sourceAt(sources, candidate.SourceIndex)

		gi, exists := index[normalized]
		if !exists {
			gi = len(groups)
			index[normalized] = gi
			groups = append(groups, Group{
				Normalized: normalized,
				Display:    strings.TrimSpace(candidate.Value),
				FirstSeq:   seq,
			})
			groupSources[normalized] = map[int]bool{}
			groupApproved[normalized] = map[int]bool{}
		}

		group := &groups[gi]
		if !groupSources[normalized][candidate.SourceIndex] {
			groupSources[normalized][candidate.SourceIndex] = true
			group.Confirmations++
			if source.ApprovedDomain {
				groupApproved[normalized][candidate.SourceIndex] = true
				group.ApprovedConfirmations++
			}
		}
		if priority := models.MethodPriority(candidate.Method); priority > group.BestMethodPriority {
			group.BestMethodPriority = priority
		}
		if models.TierPriority(source.Tier) > models.TierPriority(group.BestTier) {
			group.BestTier = source.Tier
		}
		group.Evidence = append(group.Evidence, models.EvidenceRow{
			Tier:     source.Tier,
			TierName: models.TierName(source.Tier),
			Method:   candidate.Method,
			URL:      source.URL,
			Quote:    candidate.Quote,
		})
	}
	return groups
}

// rankGroups sorts by approved confirmations, total confirmations, best
// method priority, then insertion order
func rankGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.ApprovedConfirmations != b.ApprovedConfirmations {
			return a.ApprovedConfirmations > b.ApprovedConfirmations
		}
		if a.Confirmations != b.Confirmations {
			return a.Confirmations > b.Confirmations
		}
		if a.BestMethodPriority != b.BestMethodPriority {
			return a.BestMethodPriority > b.BestMethodPriority
		}
		return a.FirstSeq < b.FirstSeq
	})
}

func (e *Engine) reconcileScalar(rule models.FieldRule, candidates []models.Candidate, sources []models.Source, opts Options, result *Result) models.FieldProvenance {
	passTarget := opts.PassTargetDefault
	if rule.IsCritical() {
		passTarget = opts.PassTargetCritical
	}
	provenance := models.FieldProvenance{
		Value:      models.UnknownValue,
		PassTarget: passTarget,
	}

	groups := e.buildGroups(rule, candidates, sources)
	if len(groups) == 0 {
		return provenance
	}
	rankGroups(groups)

	winnerIdx := 0
	if reducer, ok := opts.Reducers[rule.FieldKey]; ok && reducer != nil {
		winnerIdx = reducer(groups)
		if winnerIdx < 0 || winnerIdx >= len(groups) {
			winnerIdx = 0
		}
	}
	winner := groups[winnerIdx]

	e.proposeNewValues(rule, groups, result)

	provenance.Confirmations = winner.Confirmations
	provenance.ApprovedConfirmations = winner.ApprovedConfirmations
	// Pass targets count approved confirmations only; community volume
	// cannot buy acceptance
	provenance.MeetsPassTarget = winner.ApprovedConfirmations >= passTarget

	if !provenance.MeetsPassTarget {
		provenance.UnknownReason = "insufficient_confirmations"
		return provenance
	}
	if opts.MajorConflicts[rule.FieldKey] {
		provenance.UnknownReason = "constraint_conflict"
		provenance.MeetsPassTarget = false
		return provenance
	}

	provenance.Value = winner.Display
	provenance.Evidence = winner.Evidence
	provenance.Confidence = e.confidence(rule, winner, groups, opts)
	return provenance
}

// reconcileList unions distinct member tokens across sources
func (e *Engine) reconcileList(rule models.FieldRule, candidates []models.Candidate, sources []models.Source, opts Options) models.FieldProvenance {
	passTarget := opts.PassTargetDefault
	if rule.IsCritical() {
		passTarget = opts.PassTargetCritical
	}
	provenance := models.FieldProvenance{
		Value:      models.UnknownValue,
		PassTarget: passTarget,
	}

	seen := map[string]bool{}
	var members []string
	sourceSet := map[int]bool{}
	approvedSet := map[int]bool{}
	var evidence []models.EvidenceRow
	bestTier := models.TierUnknown

	for _, candidate := range candidates {
		source := sourceAt(sources, candidate.SourceIndex)
		contributed := false
		for _, token := range SplitListValue(candidate.Value) {
			normalized := NormalizeValue(rule, token)
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true
			members = append(members, strings.TrimSpace(token))
			contributed = true
		}
		if contributed {
			sourceSet[candidate.SourceIndex] = true
			if source.ApprovedDomain {
				approvedSet[candidate.SourceIndex] = true
			}
			if models.TierPriority(source.Tier) > models.TierPriority(bestTier) {
				bestTier = source.Tier
			}
			evidence = append(evidence, models.EvidenceRow{
				Tier:     source.Tier,
				TierName: models.TierName(source.Tier),
				Method:   candidate.Method,
				URL:      source.URL,
				Quote:    candidate.Quote,
			})
		}
	}

	if len(members) == 0 {
		return provenance
	}

	provenance.Confirmations = len(sourceSet)
	provenance.ApprovedConfirmations = len(approvedSet)
	provenance.MeetsPassTarget = provenance.ApprovedConfirmations >= passTarget
	if !provenance.MeetsPassTarget {
		provenance.UnknownReason = "insufficient_confirmations"
		return provenance
	}

	provenance.Value = strings.Join(members, ", ")
	provenance.Evidence = evidence
	pseudo := Group{
		Confirmations:         provenance.Confirmations,
		ApprovedConfirmations: provenance.ApprovedConfirmations,
		BestTier:              bestTier,
	}
	provenance.Confidence = e.confidence(rule, pseudo, []Group{pseudo}, opts)
	return provenance
}

// confidence is the per-field score:
// clamp01(0.35·identity + 0.40·agreement + 0.25·tierBias − 0.15·anchorConflicts)
func (e *Engine) confidence(rule models.FieldRule, winner Group, groups []Group, opts Options) float64 {
	disagreements := 0
	for _, group := range groups {
		if group.Normalized != winner.Normalized {
			disagreements += group.Confirmations
		}
	}

	agreement := 0.0
	if winner.ApprovedConfirmations+disagreements > 0 {
		agreement = float64(winner.ApprovedConfirmations) / float64(winner.ApprovedConfirmations+disagreements)
	} else if winner.Confirmations > 0 {
		// No approved sources anywhere; fall back to total agreement
		agreement = float64(winner.Confirmations) / float64(winner.Confirmations+disagreements)
	}

	tierBias := 0.0
	switch winner.BestTier {
	case models.TierManufacturer:
		tierBias = 1.0
	case models.TierLab:
		tierBias = 0.6
	case models.TierCommunity:
		tierBias = 0.3
	}

	anchorConflict := 0.0
	if anchor, ok := opts.Anchors[rule.FieldKey]; ok && anchor != "" {
		if NormalizeValue(rule, anchor) != winner.Normalized {
			anchorConflict = 1.0
		}
	}

	score := weightIdentity*opts.IdentityConfidence +
		weightAgreement*agreement +
		weightTier*tierBias -
		weightConflict*anchorConflict
	return clamp01(score)
}

// proposeNewValues emits curation rows for enum values outside known_values
func (e *Engine) proposeNewValues(rule models.FieldRule, groups []Group, result *Result) {
	if rule.DataType != models.DataTypeEnum || e.pack.KnownValues == nil {
		return
	}
	entry, ok := e.pack.KnownValues.Enums[rule.FieldKey]
	if !ok {
		return
	}
	known := map[string]bool{}
	for _, value := range entry.Values {
		known[NormalizeValue(rule, value)] = true
	}
	for _, group := range groups {
		if known[group.Normalized] {
			continue
		}
		sourceURL := ""
		if len(group.Evidence) > 0 {
			sourceURL = group.Evidence[0].URL
		}
		result.NewValuesProposed = append(result.NewValuesProposed, NewValueProposal{
			Field:     rule.FieldKey,
			Value:     group.Display,
			SourceURL: sourceURL,
		})
	}
}

// trafficLight grades the accepted value's evidence quality
func (e *Engine) trafficLight(rule models.FieldRule, provenance *models.FieldProvenance) *models.TrafficLight {
	light := &models.TrafficLight{
		Color:         models.TrafficRed,
		UnknownReason: provenance.UnknownReason,
	}

	if provenance.Value == models.UnknownValue {
		light.Reason = "no accepted value"
		return light
	}

	var top *models.EvidenceRow
	for i := range provenance.Evidence {
		row := &provenance.Evidence[i]
		if top == nil || models.TierPriority(row.Tier) > models.TierPriority(top.Tier) {
			top = row
		}
	}
	if top != nil {
		light.SourceTier = top.Tier
		light.SourceMethod = top.Method
		light.SourceURL = top.URL
	}

	inComponentLibrary := false
	if e.pack.Components != nil {
		_, inComponentLibrary = e.pack.Components.Resolve(provenance.Value)
	}

	switch {
	case (top != nil && top.Tier == models.TierManufacturer) || inComponentLibrary:
		light.Color = models.TrafficGreen
		light.Reason = "tier-1 or component-library evidence"
	case top != nil && top.Tier == models.TierLab:
		light.Color = models.TrafficYellow
		light.Reason = "tier-2 evidence"
	default:
		light.Reason = "low-trust evidence"
	}
	return light
}

func unknownReason(rule models.FieldRule) string {
	if rule.UnknownReasonDefault != "" {
		return rule.UnknownReasonDefault
	}
	return models.UnknownReasonNotFound
}

func sourceAt(sources []models.Source, index int) models.Source {
	if index >= 0 && index < len(sources) {
		return sources[index]
	}
	return models.Source{}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
