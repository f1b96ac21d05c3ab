package rulepack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/specforge/internal/models"
)

// Pack is one fully loaded, immutable rule pack. Callers must not mutate
// a Pack returned by the loader; the same pointer is shared across calls
// until the underlying files change.
type Pack struct {
	Category       string
	Rules          *FieldRulesDoc
	UICatalog      *models.UIFieldCatalog
	KnownValues    *models.KnownValues
	ParseTemplates *models.ParseTemplates
	CrossRules     *models.CrossValidationRules
	FieldGroups    *models.FieldGroups
	KeyMigrations  *models.KeyMigrations
	Manifest       *models.Manifest
	Components     *ComponentIndex
	Version        string
}

// Rule looks up a field rule by key, following key migrations so callers
// can pass legacy keys.
func (p *Pack) Rule(key string) (models.FieldRule, bool) {
	key = models.NormalizeFieldKey(key)
	if p.KeyMigrations != nil {
		if mapped, ok := p.KeyMigrations.KeyMap[key]; ok {
			key = mapped
		}
	}
	rule, ok := p.Rules.Fields[key]
	return rule, ok
}

// RequiredFields returns field keys at or above the given level, in
// workbook order
func (p *Pack) RequiredFields() []string {
	var out []string
	for _, key := range p.Rules.FieldOrder {
		rule := p.Rules.Fields[key]
		if rule.IsRequired() {
			out = append(out, key)
		}
	}
	return out
}

// CriticalFields returns critical field keys in workbook order
func (p *Pack) CriticalFields() []string {
	var out []string
	for _, key := range p.Rules.FieldOrder {
		rule := p.Rules.Fields[key]
		if rule.IsCritical() {
			out = append(out, key)
		}
	}
	return out
}

type cacheEntry struct {
	pack        *Pack
	signature   string
	lastProbeAt time.Time
	mu          sync.Mutex
}

// Loader caches loaded packs keyed by (helperRoot, category) and reloads
// when the generated artifacts or component overrides change on disk.
// Change detection uses an mtime+size signature memoized for one second,
// so hot paths pay at most one stat sweep per second per category.
type Loader struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewLoader creates an empty pack loader
func NewLoader() *Loader {
	return &Loader{entries: map[string]*cacheEntry{}}
}

const signatureProbeInterval = time.Second

// Load returns the cached pack for a category, reloading if stale
func (l *Loader) Load(helperRoot, category string) (*Pack, error) {
	category = NormalizeCategory(category)
	key := helperRoot + "|" + category

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &cacheEntry{}
		l.entries[key] = entry
	}
	l.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := time.Now()
	if entry.pack != nil && now.Sub(entry.lastProbeAt) < signatureProbeInterval {
		return entry.pack, nil
	}

	signature := packSignature(helperRoot, category)
	entry.lastProbeAt = now
	if entry.pack != nil && signature == entry.signature {
		return entry.pack, nil
	}

	pack, err := loadPack(helperRoot, category)
	if err != nil {
		return nil, err
	}
	entry.pack = pack
	entry.signature = signature
	return pack, nil
}

// InvalidateCache evicts every cached pack whose key contains substr; an
// empty substr evicts everything
func (l *Loader) InvalidateCache(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for key := range l.entries {
		if substr == "" || strings.Contains(key, substr) {
			delete(l.entries, key)
			evicted++
		}
	}
	return evicted
}

// loadPack reads every artifact of a compiled pack from disk
func loadPack(helperRoot, category string) (*Pack, error) {
	finalDir := filepath.Join(CategoryDir(helperRoot, category), DirGenerated)

	pack := &Pack{Category: category}

	var rules FieldRulesDoc
	if err := readJSON(filepath.Join(finalDir, models.ArtifactFieldRules), &rules); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactFieldRules, err)
	}
	pack.Rules = &rules

	var catalog models.UIFieldCatalog
	if err := readJSON(filepath.Join(finalDir, models.ArtifactUICatalog), &catalog); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactUICatalog, err)
	}
	pack.UICatalog = &catalog

	var known models.KnownValues
	if err := readJSON(filepath.Join(finalDir, models.ArtifactKnownValues), &known); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactKnownValues, err)
	}
	pack.KnownValues = &known

	var templates models.ParseTemplates
	if err := readJSON(filepath.Join(finalDir, models.ArtifactParseTemplates), &templates); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactParseTemplates, err)
	}
	pack.ParseTemplates = &templates

	var cross models.CrossValidationRules
	if err := readJSON(filepath.Join(finalDir, models.ArtifactCrossValidation), &cross); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactCrossValidation, err)
	}
	pack.CrossRules = &cross

	var groups models.FieldGroups
	if err := readJSON(filepath.Join(finalDir, models.ArtifactFieldGroups), &groups); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactFieldGroups, err)
	}
	pack.FieldGroups = &groups

	var migrations models.KeyMigrations
	if err := readJSON(filepath.Join(finalDir, models.ArtifactKeyMigrations), &migrations); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactKeyMigrations, err)
	}
	pack.KeyMigrations = &migrations
	pack.Version = migrations.Version

	var manifest models.Manifest
	if err := readJSON(filepath.Join(finalDir, models.ArtifactManifest), &manifest); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: %s: %w", models.ArtifactManifest, err)
	}
	pack.Manifest = &manifest

	components, err := BuildComponentIndex(helperRoot, category)
	if err != nil {
		return nil, err
	}
	pack.Components = components

	return pack, nil
}

// packSignature fingerprints the files the loader depends on: the
// generated JSON artifacts plus the component_db and override dirs.
// Any mtime or size change flips the signature.
func packSignature(helperRoot, category string) string {
	categoryDir := CategoryDir(helperRoot, category)
	finalDir := filepath.Join(categoryDir, DirGenerated)

	var rows []string

	stat := func(path string) {
		info, err := os.Stat(path)
		if err != nil {
			rows = append(rows, path+"|absent")
			return
		}
		rows = append(rows, fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano()))
	}

	for _, name := range []string{
		models.ArtifactFieldRules,
		models.ArtifactUICatalog,
		models.ArtifactKnownValues,
		models.ArtifactParseTemplates,
		models.ArtifactCrossValidation,
		models.ArtifactFieldGroups,
		models.ArtifactKeyMigrations,
		models.ArtifactManifest,
	} {
		stat(filepath.Join(finalDir, name))
	}

	for _, dir := range []string{
		filepath.Join(finalDir, DirComponentDB),
		filepath.Join(categoryDir, DirOverrides, DirComponentOverrides),
	} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			rows = append(rows, dir+"|absent")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			stat(filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(rows)
	return strings.Join(rows, "\n")
}
