package evidence

import (
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

const (
	maxEnumOptions   = 24
	maxKnownEntities = 16
	maxPrimeSnippets = 6
	maxSnippetChars  = 2400
)

// EvidenceSpec is the per-field evidence requirement slice
type EvidenceSpec struct {
	Required bool `json:"required"`
	MinRefs  int  `json:"min_refs"`
}

// ContractSlice is the per-field contract sent to the model. Prompts
// never include raw rules, only this slice.
type ContractSlice struct {
	Field         string                       `json:"field"`
	DataType      models.DataType              `json:"data_type"`
	OutputShape   models.OutputShape           `json:"output_shape"`
	RequiredLevel models.RequiredLevel         `json:"required_level"`
	Description   string                       `json:"description,omitempty"`
	Unit          string                       `json:"unit,omitempty"`
	Evidence      EvidenceSpec                 `json:"evidence"`
	EnumOptions   []string                     `json:"enum_options,omitempty"`
	KnownEntities []string                     `json:"known_entities,omitempty"`
	Range         *models.RangeContract        `json:"range,omitempty"`
	Constraints   []models.CrossValidationRule `json:"constraints,omitempty"`
}

// StateSlice is the current accepted value for a field being repaired
type StateSlice struct {
	Value         string  `json:"value"`
	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`
}

// Snippet is one prime-source excerpt, converted to markdown. Raw HTML
// never enters a pack.
type Snippet struct {
	URL      string            `json:"url"`
	Host     string            `json:"host"`
	Tier     models.SourceTier `json:"tier"`
	Markdown string            `json:"markdown"`
}

// Pack is the complete evidence payload for one LLM extraction call
type Pack struct {
	Category string                `json:"category"`
	Identity models.IdentityLock   `json:"identity"`
	Fields   []ContractSlice       `json:"fields"`
	Snippets []Snippet             `json:"snippets,omitempty"`
	State    map[string]StateSlice `json:"state,omitempty"` // Present when repairing
}

// SourcedPage pairs a fetched page with its source attributes
type SourcedPage struct {
	Source models.Source
	Page   *models.PageData
}

// Builder assembles evidence packs from a rule pack and fetched pages
type Builder struct {
	pack      *rulepack.Pack
	converter *md.Converter
	logger    arbor.ILogger
}

// NewBuilder creates an evidence pack builder bound to a loaded rule pack
func NewBuilder(pack *rulepack.Pack, logger arbor.ILogger) *Builder {
	return &Builder{
		pack:      pack,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// highStakes reports whether a field gets the expanded send policy:
// prime-source snippets, current state when repairing, and full
// constraint slices
func highStakes(rule models.FieldRule) bool {
	if rule.IsRequired() || models.IsIdentityField(rule.FieldKey) {
		return true
	}
	return rule.MinEvidenceRefs >= 2
}

// Build assembles the evidence pack for one extraction call. State rows
// are included only for target fields that already hold a value (repair).
func (b *Builder) Build(job *models.Job, targetFields []string, pages []SourcedPage, state map[string]models.FieldProvenance) *Pack {
	pack := &Pack{
		Category: job.Category,
		Identity: job.IdentityLock,
	}

	anyHighStakes := false
	for _, field := range targetFields {
		rule, ok := b.pack.Rule(field)
		if !ok {
			continue
		}
		slice := b.contractSlice(rule)
		if highStakes(rule) {
			anyHighStakes = true
			slice.Constraints = b.constraintsFor(rule.FieldKey)
			if row, repairing := state[rule.FieldKey]; repairing && row.Value != models.UnknownValue && row.Value != "" {
				if pack.State == nil {
					pack.State = map[string]StateSlice{}
				}
				pack.State[rule.FieldKey] = StateSlice{
					Value:         row.Value,
					Confidence:    row.Confidence,
					EvidenceCount: len(row.Evidence),
				}
			}
		}
		pack.Fields = append(pack.Fields, slice)
	}

	if anyHighStakes {
		pack.Snippets = b.primeSnippets(pages)
	}

	b.logger.Debug().
		Str("category", job.Category).
		Int("fields", len(pack.Fields)).
		Int("snippets", len(pack.Snippets)).
		Bool("repairing", len(pack.State) > 0).
		Msg("Evidence pack assembled")

	return pack
}

func (b *Builder) contractSlice(rule models.FieldRule) ContractSlice {
	slice := ContractSlice{
		Field:         rule.FieldKey,
		DataType:      rule.DataType,
		OutputShape:   rule.OutputShape,
		RequiredLevel: rule.RequiredLevel,
		Description:   rule.Description,
		Unit:          rule.Unit,
		Evidence: EvidenceSpec{
			Required: rule.EvidenceRequired,
			MinRefs:  rule.MinEvidenceRefs,
		},
	}
	if rule.Contract != nil {
		slice.Range = rule.Contract.Range
	}
	slice.EnumOptions = b.enumOptions(rule.FieldKey)
	slice.KnownEntities = b.knownEntities(rule.FieldKey)
	return slice
}

// enumOptions returns the known values for an enum field, capped
func (b *Builder) enumOptions(fieldKey string) []string {
	if b.pack.KnownValues == nil {
		return nil
	}
	entry, ok := b.pack.KnownValues.Enums[fieldKey]
	if !ok || len(entry.Values) == 0 {
		return nil
	}
	values := entry.Values
	if len(values) > maxEnumOptions {
		values = values[:maxEnumOptions]
	}
	return values
}

// knownEntities returns component tokens whose component type matches the
// field, capped. Gives the model the canonical vocabulary for component
// references (sensors, switches, chipsets).
func (b *Builder) knownEntities(fieldKey string) []string {
	if b.pack.Components == nil {
		return nil
	}
	var tokens []string
	for token, entry := range b.pack.Components.Components {
		if models.NormalizeFieldKey(entry.ComponentType) == fieldKey {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	if len(tokens) > maxKnownEntities {
		tokens = tokens[:maxKnownEntities]
	}
	return tokens
}

// constraintsFor returns the cross-validation rules that trigger on a field
func (b *Builder) constraintsFor(fieldKey string) []models.CrossValidationRule {
	if b.pack.CrossRules == nil {
		return nil
	}
	var out []models.CrossValidationRule
	for _, rule := range b.pack.CrossRules.Rules {
		if rule.TriggerField == fieldKey {
			out = append(out, rule)
			continue
		}
		for _, trigger := range rule.TriggerFields {
			if trigger == fieldKey {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

// primeSnippets selects excerpts across distinct hosts, best tiers first,
// and converts them to markdown
func (b *Builder) primeSnippets(pages []SourcedPage) []Snippet {
	sorted := make([]SourcedPage, 0, len(pages))
	for _, page := range pages {
		if page.Page == nil || page.Page.HTML == "" {
			continue
		}
		sorted = append(sorted, page)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return models.TierPriority(sorted[i].Source.Tier) > models.TierPriority(sorted[j].Source.Tier)
	})

	seenHosts := map[string]bool{}
	var out []Snippet
	for _, page := range sorted {
		if len(out) >= maxPrimeSnippets {
			break
		}
		if seenHosts[page.Source.Host] {
			continue
		}
		markdown, err := b.converter.ConvertString(page.Page.HTML)
		if err != nil {
			b.logger.Debug().Err(err).Str("url", page.Source.URL).Msg("Markdown conversion failed, skipping snippet")
			continue
		}
		markdown = strings.TrimSpace(markdown)
		if markdown == "" {
			continue
		}
		if len(markdown) > maxSnippetChars {
			markdown = markdown[:maxSnippetChars]
		}
		seenHosts[page.Source.Host] = true
		out = append(out, Snippet{
			URL:      page.Source.URL,
			Host:     page.Source.Host,
			Tier:     page.Source.Tier,
			Markdown: markdown,
		})
	}
	return out
}
