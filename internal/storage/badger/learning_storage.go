package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// LearningStorage persists the cross-run feedback signals: which URLs
// and domains actually yield fields, which label phrases sit next to
// values, and which alias spellings name a component. Writes are
// counter increments, never overwrites.
type LearningStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.LearningStorage = (*LearningStorage)(nil)

// NewLearningStorage creates the learning store over an open database
func NewLearningStorage(db *BadgerDB, logger arbor.ILogger) *LearningStorage {
	return &LearningStorage{db: db, logger: logger}
}

// RecordURLYield bumps the runs-seen counter for a URL that provided a
// winning value for the field
func (s *LearningStorage) RecordURLYield(ctx context.Context, url, field, category string) error {
	url = strings.TrimSpace(url)
	if url == "" || field == "" {
		return fmt.Errorf("url and field are required")
	}

	entry := interfaces.URLMemoryEntry{URL: url, Field: field, Category: category, RunsSeen: 1}

	var existing interfaces.URLMemoryEntry
	if err := s.db.Store().Get(url, &existing); err == nil {
		entry.RunsSeen = existing.RunsSeen + 1
	} else if !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to read url memory for %s: %w", url, err)
	}

	if err := s.db.Store().Upsert(url, entry); err != nil {
		return fmt.Errorf("failed to record url yield for %s: %w", url, err)
	}
	return nil
}

// RecordDomainFieldSeen counts a domain offering a candidate for the field
func (s *LearningStorage) RecordDomainFieldSeen(ctx context.Context, domain, field string) error {
	return s.bumpDomainField(domain, field, func(row *interfaces.DomainFieldYield) {
		row.SeenCount++
	})
}

// RecordDomainFieldUsed counts a domain's candidate winning consensus
func (s *LearningStorage) RecordDomainFieldUsed(ctx context.Context, domain, field string) error {
	return s.bumpDomainField(domain, field, func(row *interfaces.DomainFieldYield) {
		row.UsedCount++
	})
}

func (s *LearningStorage) bumpDomainField(domain, field string, bump func(*interfaces.DomainFieldYield)) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || field == "" {
		return fmt.Errorf("domain and field are required")
	}
	key := domain + "|" + field

	row := interfaces.DomainFieldYield{Key: key, Domain: domain, Field: field}
	var existing interfaces.DomainFieldYield
	if err := s.db.Store().Get(key, &existing); err == nil {
		row = existing
	} else if !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to read domain yield for %s: %w", key, err)
	}
	bump(&row)

	if err := s.db.Store().Upsert(key, row); err != nil {
		return fmt.Errorf("failed to record domain yield for %s: %w", key, err)
	}
	return nil
}

// DomainFieldScore returns the used/seen ratio for a domain and field.
// A domain never seen offering the field scores zero.
func (s *LearningStorage) DomainFieldScore(ctx context.Context, domain, field string) (float64, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	key := domain + "|" + field

	var row interfaces.DomainFieldYield
	if err := s.db.Store().Get(key, &row); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read domain yield for %s: %w", key, err)
	}
	if row.SeenCount == 0 {
		return 0, nil
	}
	return float64(row.UsedCount) / float64(row.SeenCount), nil
}

// RecordAnchorPhrase counts a label phrase observed next to a field value
func (s *LearningStorage) RecordAnchorPhrase(ctx context.Context, field, category, phrase string) error {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if field == "" || phrase == "" {
		return fmt.Errorf("field and phrase are required")
	}
	key := field + "|" + category + "|" + phrase

	row := interfaces.FieldAnchorPhrase{Key: key, Field: field, Category: category, Phrase: phrase, Count: 1}
	var existing interfaces.FieldAnchorPhrase
	if err := s.db.Store().Get(key, &existing); err == nil {
		row.Count = existing.Count + 1
	} else if !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to read anchor phrase for %s: %w", key, err)
	}

	if err := s.db.Store().Upsert(key, row); err != nil {
		return fmt.Errorf("failed to record anchor phrase for %s: %w", key, err)
	}
	return nil
}

// TopAnchorPhrases returns the most frequently seen phrases for a field
// and category, highest count first
func (s *LearningStorage) TopAnchorPhrases(ctx context.Context, field, category string, limit int) ([]interfaces.FieldAnchorPhrase, error) {
	var rows []interfaces.FieldAnchorPhrase
	query := badgerhold.Where("Field").Eq(field).And("Category").Eq(category)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to query anchor phrases for %s: %w", field, err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Phrase < rows[j].Phrase
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// RecordComponentAlias counts an alias spelling for a component type
func (s *LearningStorage) RecordComponentAlias(ctx context.Context, componentType, alias string) error {
	alias = strings.TrimSpace(alias)
	if componentType == "" || alias == "" {
		return fmt.Errorf("component type and alias are required")
	}
	key := componentType + "|" + strings.ToLower(alias)

	row := interfaces.ComponentAlias{Key: key, ComponentType: componentType, Alias: alias, Count: 1}
	var existing interfaces.ComponentAlias
	if err := s.db.Store().Get(key, &existing); err == nil {
		row.Count = existing.Count + 1
	} else if !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to read component alias for %s: %w", key, err)
	}

	if err := s.db.Store().Upsert(key, row); err != nil {
		return fmt.Errorf("failed to record component alias for %s: %w", key, err)
	}
	return nil
}
