package category

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
)

// Per-category config files under <categoriesRoot>/<category>/
const (
	FileSchema          = "schema.json"
	FileSources         = "sources.json"
	FileRequiredFields  = "required_fields.json"
	FileSearchTemplates = "search_templates.json"
	FileAnchors         = "anchors.json"
)

var categoryToken = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Schema carries per-category targets and field classifications layered
// over the rule pack
type Schema struct {
	Category           string   `json:"category"`
	RequiredFields     []string `json:"required_fields,omitempty"`
	CriticalFields     []string `json:"critical_fields,omitempty"`
	EditorialFields    []string `json:"editorial_fields,omitempty"`
	TargetCompleteness float64  `json:"target_completeness,omitempty"`
	TargetConfidence   float64  `json:"target_confidence,omitempty"`
	PassTargetDefault  int      `json:"pass_target_default,omitempty"`
	PassTargetCritical int      `json:"pass_target_critical,omitempty"`
}

// SourceRegistry is the approved/denied host registry
type SourceRegistry struct {
	Approved ApprovedHosts `json:"approved"`
	Denylist []string      `json:"denylist,omitempty"`
}

// ApprovedHosts buckets approved domains by registry role
type ApprovedHosts struct {
	Manufacturer []string `json:"manufacturer,omitempty"`
	Lab          []string `json:"lab,omitempty"`
	Database     []string `json:"database,omitempty"`
	Retailer     []string `json:"retailer,omitempty"`
}

// SearchTemplate is one query template; placeholders {brand} {model}
// {variant} {field} expand at planning time
type SearchTemplate struct {
	Name     string `json:"name"`
	Template string `json:"template"`
	Role     string `json:"role,omitempty"` // "identity", "field", "discovery"
}

// AnchorPolicy configures how an anchor field is compared against
// extracted values
type AnchorPolicy struct {
	Compare        string  `json:"compare"` // "numeric", "list_max", "exact"
	MinorThreshold float64 `json:"minor_threshold,omitempty"`
	MajorThreshold float64 `json:"major_threshold,omitempty"`
	Unit           string  `json:"unit,omitempty"`
}

// Config is the immutable per-run category configuration
type Config struct {
	Category        string
	Schema          Schema
	Sources         SourceRegistry
	SearchTemplates []SearchTemplate
	Anchors         map[string]AnchorPolicy

	approvedIndex map[string]hostPolicy
	deniedIndex   map[string]bool
}

type hostPolicy struct {
	tier models.SourceTier
	role models.SourceRole
}

// Load reads the category config directory. schema.json and sources.json
// are mandatory; the rest default to empty.
func Load(categoriesRoot, category string) (*Config, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if !categoryToken.MatchString(category) {
		return nil, fmt.Errorf("missing_or_invalid: category token %q", category)
	}
	dir := filepath.Join(categoriesRoot, category)

	cfg := &Config{
		Category: category,
		Anchors:  map[string]AnchorPolicy{},
	}

	if err := readRequiredJSON(filepath.Join(dir, FileSchema), &cfg.Schema); err != nil {
		return nil, err
	}
	if cfg.Schema.Category == "" {
		cfg.Schema.Category = category
	}
	applySchemaDefaults(&cfg.Schema)

	if err := readRequiredJSON(filepath.Join(dir, FileSources), &cfg.Sources); err != nil {
		return nil, err
	}

	// required_fields.json supplements the schema's list when present
	var required []string
	if err := readOptionalJSON(filepath.Join(dir, FileRequiredFields), &required); err != nil {
		return nil, err
	}
	cfg.Schema.RequiredFields = mergeFieldLists(cfg.Schema.RequiredFields, required)

	if err := readOptionalJSON(filepath.Join(dir, FileSearchTemplates), &cfg.SearchTemplates); err != nil {
		return nil, err
	}
	if err := readOptionalJSON(filepath.Join(dir, FileAnchors), &cfg.Anchors); err != nil {
		return nil, err
	}

	cfg.buildHostIndexes()
	return cfg, nil
}

func applySchemaDefaults(schema *Schema) {
	if schema.TargetCompleteness <= 0 {
		schema.TargetCompleteness = 0.9
	}
	if schema.TargetConfidence <= 0 {
		schema.TargetConfidence = 0.75
	}
	if schema.PassTargetDefault <= 0 {
		schema.PassTargetDefault = 1
	}
	if schema.PassTargetCritical <= 0 {
		schema.PassTargetCritical = 2
	}
}

// buildHostIndexes flattens the registry into lookup maps. Registry
// buckets map to tiers: manufacturer 1, lab 2, database 2, retailer 3.
// The "database" bucket carries role other since it is neither editorial
// nor commerce.
func (c *Config) buildHostIndexes() {
	c.approvedIndex = map[string]hostPolicy{}
	c.deniedIndex = map[string]bool{}

	add := func(domains []string, tier models.SourceTier, role models.SourceRole) {
		for _, domain := range domains {
			domain = normalizeDomain(domain)
			if domain == "" {
				continue
			}
			if _, exists := c.approvedIndex[domain]; !exists {
				c.approvedIndex[domain] = hostPolicy{tier: tier, role: role}
			}
		}
	}
	add(c.Sources.Approved.Manufacturer, models.TierManufacturer, models.RoleManufacturer)
	add(c.Sources.Approved.Lab, models.TierLab, models.RoleLab)
	add(c.Sources.Approved.Database, models.TierLab, models.RoleOther)
	add(c.Sources.Approved.Retailer, models.TierCommunity, models.RoleRetailer)

	for _, domain := range c.Sources.Denylist {
		domain = normalizeDomain(domain)
		if domain != "" {
			c.deniedIndex[domain] = true
		}
	}
}

// ClassifyHost returns the tier/role policy for a root domain. Unknown
// hosts come back tier unknown, role other, approved false.
func (c *Config) ClassifyHost(rootDomain string) (models.SourceTier, models.SourceRole, bool) {
	policy, ok := c.approvedIndex[normalizeDomain(rootDomain)]
	if !ok {
		return models.TierUnknown, models.RoleOther, false
	}
	return policy.tier, policy.role, true
}

// IsDenied reports whether a root domain is on the denylist
func (c *Config) IsDenied(rootDomain string) bool {
	return c.deniedIndex[normalizeDomain(rootDomain)]
}

// SourceFor builds a Source for a URL under this category's host policy
func (c *Config) SourceFor(rawURL string) models.Source {
	canonical := common.CanonicalizeURL(rawURL)
	host := common.HostOf(canonical)
	root := common.RootDomainOf(canonical)
	tier, role, approved := c.ClassifyHost(root)
	return models.Source{
		URL:            canonical,
		Host:           host,
		RootDomain:     root,
		Tier:           tier,
		Role:           role,
		ApprovedDomain: approved,
	}
}

// ApprovedSeedSources expands every approved domain into an https root
// URL source, manufacturer first, preserving registry order
func (c *Config) ApprovedSeedSources() []models.Source {
	var out []models.Source
	seed := func(domains []string) {
		for _, domain := range domains {
			domain = normalizeDomain(domain)
			if domain == "" {
				continue
			}
			out = append(out, c.SourceFor("https://"+domain+"/"))
		}
	}
	seed(c.Sources.Approved.Manufacturer)
	seed(c.Sources.Approved.Lab)
	seed(c.Sources.Approved.Database)
	seed(c.Sources.Approved.Retailer)
	return out
}

// AnchorPolicyFor returns the comparison policy for an anchor field,
// falling back to exact string compare
func (c *Config) AnchorPolicyFor(field string) AnchorPolicy {
	if policy, ok := c.Anchors[models.NormalizeFieldKey(field)]; ok {
		if policy.Compare == "" {
			policy.Compare = "exact"
		}
		return policy
	}
	return AnchorPolicy{Compare: "exact"}
}

// ExpandTemplate substitutes job identity values into a search template
func ExpandTemplate(template string, job *models.Job, field string) string {
	replacer := strings.NewReplacer(
		"{brand}", job.IdentityLock.Brand,
		"{model}", job.IdentityLock.Model,
		"{variant}", job.IdentityLock.Variant,
		"{sku}", job.IdentityLock.SKU,
		"{category}", job.Category,
		"{field}", strings.ReplaceAll(field, "_", " "),
	)
	query := replacer.Replace(template)
	return strings.Join(strings.Fields(query), " ")
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	return strings.TrimSuffix(domain, "/")
}

func mergeFieldLists(base, extra []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, field := range list {
			key := models.NormalizeFieldKey(field)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func readRequiredJSON(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("missing_or_invalid: %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("missing_or_invalid: %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readOptionalJSON(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("missing_or_invalid: %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("missing_or_invalid: %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ListCategories enumerates category directories under the root, sorted
func ListCategories(categoriesRoot string) ([]string, error) {
	entries, err := os.ReadDir(categoriesRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories root: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && categoryToken.MatchString(entry.Name()) {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
