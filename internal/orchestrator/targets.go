package orchestrator

import (
	"sort"

	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// uncertainThreshold marks a filled field as worth re-targeting
const uncertainThreshold = 0.6

// TargetSet is the per-round field targeting decision
type TargetSet struct {
	Fields    []string // fields this round hunts for, in rule order
	Escalated []string // fields missing for two or more rounds running
}

// SelectTargets picks the fields the next round hunts for: missing
// required fields, critical fields below pass target, and the most
// uncertain filled fields. With no prior round state it targets the
// full required-and-critical contract.
func SelectTargets(pack *rulepack.Pack, prev *RoundSummary, mode string, missStreak map[string]int) TargetSet {
	if prev == nil {
		return TargetSet{Fields: contractFields(pack)}
	}

	picked := map[string]bool{}
	var targets []string
	add := func(field string) {
		if field != "" && !picked[field] {
			picked[field] = true
			targets = append(targets, field)
		}
	}

	for _, field := range prev.MissingRequiredFields {
		add(field)
	}
	for _, field := range prev.CriticalFieldsBelowPassTarget {
		add(field)
	}
	for _, field := range uncertainFields(prev, mode) {
		add(field)
	}

	if len(targets) == 0 {
		targets = contractFields(pack)
	} else {
		targets = orderByPack(pack, targets)
	}

	var escalated []string
	for _, field := range targets {
		if missStreak[field] >= 2 {
			escalated = append(escalated, field)
		}
	}
	return TargetSet{Fields: targets, Escalated: escalated}
}

// contractFields is the required-plus-critical union in rule order
func contractFields(pack *rulepack.Pack) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{pack.RequiredFields(), pack.CriticalFields()} {
		for _, field := range list {
			if !seen[field] {
				seen[field] = true
				out = append(out, field)
			}
		}
	}
	return orderByPack(pack, out)
}

// uncertainFields lists filled fields with low confidence, lowest first.
// Balanced mode retargets at most three; aggressive modes widen the net.
func uncertainFields(prev *RoundSummary, mode string) []string {
	type scored struct {
		field      string
		confidence float64
	}
	var rows []scored
	for field, provenance := range prev.Provenance {
		if provenance.Value == models.UnknownValue || provenance.Value == "" {
			continue
		}
		if provenance.Confidence < uncertainThreshold {
			rows = append(rows, scored{field, provenance.Confidence})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].confidence < rows[j].confidence })

	limit := 3
	switch mode {
	case common.ModeAggressive:
		limit = 6
	case common.ModeUberAggressive:
		limit = len(rows)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.field)
	}
	return out
}

// orderByPack sorts a field subset into the rule pack's field order
func orderByPack(pack *rulepack.Pack, fields []string) []string {
	wanted := map[string]bool{}
	for _, field := range fields {
		wanted[field] = true
	}
	var out []string
	for _, field := range pack.Rules.FieldOrder {
		if wanted[field] {
			out = append(out, field)
			delete(wanted, field)
		}
	}
	// Fields outside the declared order keep their incoming position
	for _, field := range fields {
		if wanted[field] {
			out = append(out, field)
		}
	}
	return out
}
