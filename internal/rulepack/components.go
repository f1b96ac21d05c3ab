package rulepack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// DirComponentOverrides is the per-category override drop under _overrides
const DirComponentOverrides = "components"

var aliasSquashRe = regexp.MustCompile(`\s+`)

// ComponentIndex resolves free-text component mentions (sensors, switches,
// chipsets) to canonical tokens. Tokens are "<canonical_name>::<maker>",
// lowercased; colliding tokens get a numeric suffix in load order.
type ComponentIndex struct {
	Components map[string]models.ComponentEntry // token -> entry
	// aliases maps a squashed alias to the first token that claimed it;
	// ambiguous maps it to every claimant for conflict reporting.
	aliases   map[string]string
	ambiguous map[string][]string
}

// ComponentOverrideDoc is one file under _overrides/components/
type ComponentOverrideDoc struct {
	Mode       string                  `json:"mode"` // "merge" (default) or "replace"
	Components []models.ComponentEntry `json:"components"`
	Aliases    map[string][]string     `json:"aliases,omitempty"` // token -> extra aliases
}

// squashAlias canonicalizes an alias for lookup: lowercase, collapse
// whitespace, strip punctuation variance
func squashAlias(alias string) string {
	alias = strings.ToLower(strings.TrimSpace(alias))
	alias = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(alias)
	return aliasSquashRe.ReplaceAllString(alias, " ")
}

// ComponentToken builds the canonical token for an entry
func ComponentToken(entry models.ComponentEntry) string {
	canonical := squashAlias(entry.CanonicalName)
	maker := squashAlias(entry.Maker)
	return strings.ReplaceAll(canonical, " ", "_") + "::" + strings.ReplaceAll(maker, " ", "_")
}

// BuildComponentIndex loads the compiled component DB plus override files
// and produces a resolvable index. Override files apply after the base
// DB: mode "replace" drops the base entries first, "merge" layers on top.
func BuildComponentIndex(helperRoot, category string) (*ComponentIndex, error) {
	categoryDir := CategoryDir(helperRoot, category)

	var entries []models.ComponentEntry
	extraAliases := map[string][]string{}

	baseDir := filepath.Join(categoryDir, DirGenerated, DirComponentDB)
	base, err := readComponentDir(baseDir)
	if err != nil {
		return nil, err
	}
	entries = append(entries, base...)

	overrideDir := filepath.Join(categoryDir, DirOverrides, DirComponentOverrides)
	overrideFiles, err := os.ReadDir(overrideDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read component overrides: %w", err)
	}
	names := make([]string, 0, len(overrideFiles))
	for _, f := range overrideFiles {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(overrideDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read component override %s: %w", name, err)
		}
		var doc ComponentOverrideDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("missing_or_invalid: component override %s: %w", name, err)
		}
		if strings.EqualFold(doc.Mode, "replace") {
			entries = entries[:0]
			extraAliases = map[string][]string{}
		}
		entries = append(entries, doc.Components...)
		for token, aliases := range doc.Aliases {
			extraAliases[token] = append(extraAliases[token], aliases...)
		}
	}

	return indexComponents(entries, extraAliases), nil
}

// indexComponents assigns tokens (suffixing collisions in load order) and
// builds the first-wins alias index with an ambiguity side table
func indexComponents(entries []models.ComponentEntry, extraAliases map[string][]string) *ComponentIndex {
	index := &ComponentIndex{
		Components: make(map[string]models.ComponentEntry, len(entries)),
		aliases:    map[string]string{},
		ambiguous:  map[string][]string{},
	}

	tokenCounts := map[string]int{}
	for _, entry := range entries {
		token := ComponentToken(entry)
		tokenCounts[token]++
		if n := tokenCounts[token]; n > 1 {
			token = fmt.Sprintf("%s#%d", token, n)
		}
		entry.Token = token
		index.Components[token] = entry

		claim := func(alias string) {
			key := squashAlias(alias)
			if key == "" {
				return
			}
			if prior, taken := index.aliases[key]; taken {
				if prior != token {
					index.ambiguous[key] = appendUnique(index.ambiguous[key], prior, token)
				}
				return
			}
			index.aliases[key] = token
		}

		claim(entry.CanonicalName)
		claim(entry.Maker + " " + entry.CanonicalName)
		for _, alias := range entry.Aliases {
			claim(alias)
		}
		for _, alias := range extraAliases[token] {
			claim(alias)
		}
	}

	return index
}

// Resolve maps a free-text mention to its component token. The second
// return is false for unknown mentions; ambiguous mentions resolve to the
// first claimant, with AmbiguousFor exposing the full claimant set.
func (x *ComponentIndex) Resolve(mention string) (string, bool) {
	token, ok := x.aliases[squashAlias(mention)]
	return token, ok
}

// AmbiguousFor returns every token that claimed an alias, or nil when the
// alias is unambiguous
func (x *ComponentIndex) AmbiguousFor(mention string) []string {
	return x.ambiguous[squashAlias(mention)]
}

// Entry looks up the entry behind a token
func (x *ComponentIndex) Entry(token string) (models.ComponentEntry, bool) {
	entry, ok := x.Components[token]
	return entry, ok
}

// Properties returns the property map a resolved mention implies, used to
// backfill component-derived fields
func (x *ComponentIndex) Properties(mention string) (map[string]interface{}, bool) {
	token, ok := x.Resolve(mention)
	if !ok {
		return nil, false
	}
	entry, ok := x.Components[token]
	if !ok {
		return nil, false
	}
	return entry.Properties, true
}

func readComponentDir(dir string) ([]models.ComponentEntry, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read component db: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	var out []models.ComponentEntry
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read component db file %s: %w", name, err)
		}
		var entries []models.ComponentEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("missing_or_invalid: component db %s: %w", name, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

func appendUnique(list []string, values ...string) []string {
	for _, value := range values {
		found := false
		for _, existing := range list {
			if existing == value {
				found = true
				break
			}
		}
		if !found {
			list = append(list, value)
		}
	}
	return list
}
