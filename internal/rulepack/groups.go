package rulepack

import (
	"sort"

	"github.com/ternarybob/specforge/internal/models"
)

// BuildFieldGroups groups field keys: the UI catalog's group|section wins,
// then the rule's group, then "general". Group keys and member field keys
// are sorted.
func BuildFieldGroups(rules []models.FieldRule, catalog *models.UIFieldCatalog) *models.FieldGroups {
	catalogGroup := map[string]string{}
	if catalog != nil {
		for _, entry := range catalog.Fields {
			group := entry.Group
			if entry.Section != "" {
				group = entry.Group + "|" + entry.Section
			}
			if group != "" {
				catalogGroup[entry.FieldKey] = group
			}
		}
	}

	groups := map[string][]string{}
	for _, rule := range rules {
		group := catalogGroup[rule.FieldKey]
		if group == "" {
			group = rule.Group
		}
		if group == "" {
			group = "general"
		}
		groups[group] = append(groups[group], rule.FieldKey)
	}

	for key := range groups {
		sort.Strings(groups[key])
	}

	return &models.FieldGroups{Groups: groups}
}
