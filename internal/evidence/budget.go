package evidence

import (
	"sync"

	"github.com/ternarybob/specforge/internal/rulepack"
)

// Budget tracks per-field and per-run AI call allowances. Fields whose
// budget is exhausted are excluded from a round's target list; the first
// exclusion per field is reported once as an event.
type Budget struct {
	mu           sync.Mutex
	remaining    map[string]int
	runRemaining int
	reported     map[string]bool
}

// NewBudget seeds per-field allowances from the rule pack. Fields with
// ai_mode "disabled" start at zero.
func NewBudget(pack *rulepack.Pack, defaultFieldCalls, maxCallsPerRun int) *Budget {
	remaining := make(map[string]int, len(pack.Rules.FieldOrder))
	for _, key := range pack.Rules.FieldOrder {
		rule := pack.Rules.Fields[key]
		if rule.AIMode == "disabled" {
			remaining[key] = 0
			continue
		}
		remaining[key] = rule.AICallBudget(defaultFieldCalls)
	}
	return &Budget{
		remaining:    remaining,
		runRemaining: maxCallsPerRun,
		reported:     map[string]bool{},
	}
}

// FilterTargets splits a target list into fields with budget left and
// fields excluded this round. Newly exhausted fields appear in events
// exactly once across the run.
func (b *Budget) FilterTargets(fields []string) (allowed, excluded, events []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, field := range fields {
		if b.runRemaining <= 0 || b.remaining[field] <= 0 {
			excluded = append(excluded, field)
			if !b.reported[field] {
				b.reported[field] = true
				events = append(events, "ai_budget_exhausted:"+field)
			}
			continue
		}
		allowed = append(allowed, field)
	}
	return allowed, excluded, events
}

// Consume decrements the budget for each field covered by one call, plus
// the run-level allowance. Returns false when the run budget is gone.
func (b *Budget) Consume(fields []string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runRemaining <= 0 {
		return false
	}
	b.runRemaining--
	for _, field := range fields {
		if b.remaining[field] > 0 {
			b.remaining[field]--
		}
	}
	return true
}

// Remaining returns the per-field allowance left
func (b *Budget) Remaining(field string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining[field]
}

// RunRemaining returns the run-level allowance left
func (b *Budget) RunRemaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runRemaining
}
