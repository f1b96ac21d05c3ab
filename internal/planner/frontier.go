package planner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

// Priority weights compose descending: approved bonus dominates tier,
// tier dominates role, then path affinity and learned yield nudge order.
const (
	approvedBonus   = 1000.0
	maxPathAffinity = 25.0
	maxLearnedYield = 15.0
)

// specPathHints are path fragments that signal spec-sheet content
var specPathHints = []string{"spec", "technical", "datasheet", "product", "features", "support"}

type frontierItem struct {
	source   models.Source
	priority float64
	seq      int
}

// Frontier is the de-duplicated, policy-ordered URL queue for one run.
// Ordering is deterministic given the same inputs and learning state;
// ties break by insertion order.
type Frontier struct {
	cfg      *category.Config
	learning interfaces.LearningStorage
	logger   arbor.ILogger

	items       []frontierItem
	seen        map[string]bool
	budgets     map[string]*HostBudget
	needFields  []string
	nextSeq     int
	dedupeDrops int
}

// NewFrontier creates an empty frontier bound to a category's host policy.
// learning may be nil (yield weight contributes zero).
func NewFrontier(cfg *category.Config, learning interfaces.LearningStorage, logger arbor.ILogger) *Frontier {
	return &Frontier{
		cfg:      cfg,
		learning: learning,
		logger:   logger,
		seen:     map[string]bool{},
		budgets:  map[string]*HostBudget{},
	}
}

// SetNeedFields updates the field keys whose hints feed path affinity
func (f *Frontier) SetNeedFields(fields []string) {
	f.needFields = fields
}

// Enqueue adds a URL, deduplicating by canonical form and dropping
// denied hosts. Returns true when the URL entered the frontier.
func (f *Frontier) Enqueue(ctx context.Context, rawURL, discoveredFrom string) bool {
	source := f.cfg.SourceFor(rawURL)
	if source.URL == "" || source.Host == "" {
		return false
	}
	if f.seen[source.URL] {
		f.dedupeDrops++
		if budget, ok := f.budgets[source.Host]; ok {
			budget.DedupeHits++
		}
		return false
	}
	if f.cfg.IsDenied(source.RootDomain) {
		f.logger.Debug().Str("host", source.Host).Msg("Denied host dropped from frontier")
		return false
	}
	source.DiscoveredFrom = discoveredFrom

	f.seen[source.URL] = true
	f.items = append(f.items, frontierItem{
		source:   source,
		priority: f.priorityOf(ctx, source),
		seq:      f.nextSeq,
	})
	f.nextSeq++
	return true
}

// EnqueueSeeds loads the category's approved seed sources
func (f *Frontier) EnqueueSeeds(ctx context.Context) int {
	added := 0
	for _, seed := range f.cfg.ApprovedSeedSources() {
		if f.Enqueue(ctx, seed.URL, "") {
			added++
		}
	}
	return added
}

// Next pops the highest-priority source whose host is currently
// fetchable. Returns false when nothing is eligible.
func (f *Frontier) Next(now time.Time) (models.Source, bool) {
	sort.SliceStable(f.items, func(i, j int) bool {
		if f.items[i].priority != f.items[j].priority {
			return f.items[i].priority > f.items[j].priority
		}
		return f.items[i].seq < f.items[j].seq
	})

	for i, item := range f.items {
		budget := f.BudgetFor(item.source.Host)
		if !budget.Fetchable(now) {
			continue
		}
		f.items = append(f.items[:i], f.items[i+1:]...)
		budget.Started++
		return item.source, true
	}
	return models.Source{}, false
}

// Pending reports how many sources remain queued (fetchable or not)
func (f *Frontier) Pending() int {
	return len(f.items)
}

// HasFetchable reports whether any queued source could be handed out now
func (f *Frontier) HasFetchable(now time.Time) bool {
	for _, item := range f.items {
		if f.BudgetFor(item.source.Host).Fetchable(now) {
			return true
		}
	}
	return false
}

// BudgetFor returns (creating if needed) the budget row for a host
func (f *Frontier) BudgetFor(host string) *HostBudget {
	budget, ok := f.budgets[host]
	if !ok {
		budget = NewHostBudget(host)
		f.budgets[host] = budget
	}
	return budget
}

// RecordOutcome applies a classified fetch result to the host budget
func (f *Frontier) RecordOutcome(host string, class models.OutcomeClass, now time.Time) {
	f.BudgetFor(host).RecordOutcome(class, now)
}

// BlockHost removes the host for the rest of the run and drops its
// queued URLs (brand mismatch on an approved host)
func (f *Frontier) BlockHost(host, reason string) {
	f.BudgetFor(host).BlockForRun()
	kept := f.items[:0]
	for _, item := range f.items {
		if item.source.Host != host {
			kept = append(kept, item)
		}
	}
	f.items = kept
	f.logger.Warn().Str("host", host).Str("reason", reason).Msg("Host blocked for run")
}

// Budgets returns the per-host accounting for the run summary
func (f *Frontier) Budgets() map[string]*HostBudget {
	return f.budgets
}

// priorityOf computes the composite ordering score for a source
func (f *Frontier) priorityOf(ctx context.Context, source models.Source) float64 {
	score := 0.0
	if source.ApprovedDomain {
		score += approvedBonus
	}
	score += float64(models.TierPriority(source.Tier))
	score += float64(models.RolePriority(source.Role))
	score += f.pathAffinity(source.URL)
	score += f.learnedYield(ctx, source.RootDomain)
	return score
}

// pathAffinity rewards URL paths that look like spec or product pages
// and paths mentioning currently needed fields
func (f *Frontier) pathAffinity(url string) float64 {
	path := strings.ToLower(url)
	score := 0.0
	for _, hint := range specPathHints {
		if strings.Contains(path, hint) {
			score += 5
		}
	}
	for _, field := range f.needFields {
		token := strings.ReplaceAll(field, "_", "-")
		if strings.Contains(path, token) || strings.Contains(path, strings.ReplaceAll(field, "_", "")) {
			score += 5
		}
	}
	if score > maxPathAffinity {
		score = maxPathAffinity
	}
	return score
}

// learnedYield converts historical domain-field yield into a bounded
// bonus averaged over the currently needed fields
func (f *Frontier) learnedYield(ctx context.Context, rootDomain string) float64 {
	if f.learning == nil || len(f.needFields) == 0 {
		return 0
	}
	total := 0.0
	counted := 0
	for _, field := range f.needFields {
		yield, err := f.learning.DomainFieldScore(ctx, rootDomain, field)
		if err != nil {
			continue
		}
		total += yield
		counted++
	}
	if counted == 0 {
		return 0
	}
	score := (total / float64(counted)) * maxLearnedYield
	if score > maxLearnedYield {
		score = maxLearnedYield
	}
	return score
}

// CanonicalKey exposes the dedupe key used by the frontier
func CanonicalKey(rawURL string) string {
	return common.CanonicalizeURL(rawURL)
}
