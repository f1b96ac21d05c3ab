package rulepack

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// BuildKeyMigrations compares the previous compile's field set with the
// current one and produces the key_migrations artifact. Bump is major if
// any field is removed or has a breaking contract change (type, shape, or
// enum policy), minor on added fields, else patch.
func BuildKeyMigrations(previous, current *FieldRulesDoc, previousMigrations *models.KeyMigrations, renames map[string]string) *models.KeyMigrations {
	out := &models.KeyMigrations{
		Migrations: []models.Migration{},
		KeyMap:     map[string]string{},
	}

	previousVersion := "0.0.0"
	if previousMigrations != nil && previousMigrations.Version != "" {
		previousVersion = previousMigrations.Version
		// Carry forward the accumulated key map
		for from, to := range previousMigrations.KeyMap {
			out.KeyMap[from] = to
		}
	}

	// Renames declared by the workbook apply first
	renamedFrom := map[string]bool{}
	renameKeys := make([]string, 0, len(renames))
	for from := range renames {
		renameKeys = append(renameKeys, from)
	}
	sort.Strings(renameKeys)
	for _, from := range renameKeys {
		to := models.NormalizeFieldKey(renames[from])
		from = models.NormalizeFieldKey(from)
		if from == "" || to == "" || from == to {
			continue
		}
		out.Migrations = append(out.Migrations, models.Migration{
			Type: models.MigrationRename,
			From: from,
			To:   to,
		})
		out.KeyMap[from] = to
		renamedFrom[from] = true
	}

	var added, removed, breaking, changed []string

	if previous == nil {
		// First compile: everything is "added" but version starts at 1.0.0
		out.Version = "1.0.0"
		out.PreviousVersion = ""
		out.Bump = "minor"
		out.Summary = fmt.Sprintf("initial compile with %d fields", len(current.FieldOrder))
		return out
	}

	for key := range previous.Fields {
		if _, ok := current.Fields[key]; !ok && !renamedFrom[key] {
			removed = append(removed, key)
		}
	}
	for key, rule := range current.Fields {
		prevRule, ok := previous.Fields[key]
		if !ok {
			added = append(added, key)
			continue
		}
		if prevRule.DataType != rule.DataType || prevRule.OutputShape != rule.OutputShape ||
			(prevRule.EnumPolicy == "open" && rule.EnumPolicy == "closed") {
			breaking = append(breaking, key)
		} else if !rulesEquivalent(prevRule, rule) {
			changed = append(changed, key)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(breaking)

	for _, key := range removed {
		out.Migrations = append(out.Migrations, models.Migration{
			Type: models.MigrationDeprecate,
			From: key,
			Note: "field removed from workbook",
		})
	}

	bump := "patch"
	if len(removed) > 0 || len(breaking) > 0 {
		bump = "major"
	} else if len(added) > 0 {
		bump = "minor"
	}

	out.PreviousVersion = previousVersion
	out.Bump = bump
	out.Version = bumpSemver(previousVersion, bump)
	out.Summary = fmt.Sprintf("%d added, %d removed, %d breaking, %d changed", len(added), len(removed), len(breaking), len(changed))

	return out
}

// rulesEquivalent compares the non-volatile metadata of two rules
func rulesEquivalent(a, b models.FieldRule) bool {
	if a.RequiredLevel != b.RequiredLevel || a.Availability != b.Availability ||
		a.Difficulty != b.Difficulty || a.Effort != b.Effort ||
		a.EvidenceRequired != b.EvidenceRequired || a.Unit != b.Unit ||
		a.Group != b.Group || a.DisplayName != b.DisplayName {
		return false
	}
	ar, br := a.Contract, b.Contract
	if (ar == nil) != (br == nil) {
		return false
	}
	if ar != nil && br != nil {
		if !rangeEqual(ar.Range, br.Range) {
			return false
		}
	}
	return true
}

func rangeEqual(a, b *models.RangeContract) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return floatPtrEqual(a.Min, b.Min) && floatPtrEqual(a.Max, b.Max)
}

func floatPtrEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// bumpSemver increments a semver string by bump kind; malformed versions
// reset to 1.0.0
func bumpSemver(version, bump string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return "1.0.0"
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	patch, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "1.0.0"
	}
	switch bump {
	case "major":
		return fmt.Sprintf("%d.0.0", major+1)
	case "minor":
		return fmt.Sprintf("%d.%d.0", major, minor+1)
	default:
		return fmt.Sprintf("%d.%d.%d", major, minor, patch+1)
	}
}

// ApplyKeyMigrations rewrites record keys through the migration key map.
// Renames process in input order and never re-apply to an already-mapped
// key; a visited set guards against A→B→A cycles. The operation is
// idempotent: applying it twice equals applying it once.
func ApplyKeyMigrations(record map[string]string, migrations *models.KeyMigrations) map[string]string {
	if migrations == nil || len(migrations.KeyMap) == 0 {
		return record
	}

	out := make(map[string]string, len(record))

	targets := make(map[string]bool, len(migrations.KeyMap))
	for _, to := range migrations.KeyMap {
		targets[to] = true
	}

	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// First pass: keys that are already canonical (rename targets or
	// unmapped) keep their slots before any rename lands on them
	for _, key := range keys {
		if _, mapped := migrations.KeyMap[key]; targets[key] || !mapped {
			out[key] = record[key]
		}
	}

	// Second pass: follow rename chains for the rest, never clobbering a
	// slot claimed in the first pass; a visited set guards rename cycles
	for _, key := range keys {
		if _, mapped := migrations.KeyMap[key]; targets[key] || !mapped {
			continue
		}
		dest := key
		visited := map[string]bool{}
		for {
			next, ok := migrations.KeyMap[dest]
			if !ok || visited[dest] || next == dest {
				break
			}
			visited[dest] = true
			dest = next
		}
		if _, exists := out[dest]; !exists {
			out[dest] = record[key]
		}
	}

	return out
}
