package category

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/models"
)

func scaffoldConfig(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "gaming_mice")
	require.NoError(t, os.MkdirAll(dir, 0755))

	write := func(name string, value interface{}) {
		data, err := json.Marshal(value)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}

	write(FileSchema, Schema{
		CriticalFields: []string{"brand", "model"},
	})
	write(FileSources, SourceRegistry{
		Approved: ApprovedHosts{
			Manufacturer: []string{"logitechg.com", "www.razer.com"},
			Lab:          []string{"rtings.com"},
			Database:     []string{"mouse-specs.example.org"},
			Retailer:     []string{"amazon.com"},
		},
		Denylist: []string{"spam-reviews.example.com"},
	})
	write(FileRequiredFields, []string{"Brand", "Model", "weight", "sensor"})
	write(FileSearchTemplates, []SearchTemplate{
		{Name: "identity", Template: "{brand} {model} {variant} specifications", Role: "identity"},
		{Name: "field", Template: "{brand} {model} {field}", Role: "field"},
	})
	write(FileAnchors, map[string]AnchorPolicy{
		"weight":       {Compare: "numeric", MinorThreshold: 2, MajorThreshold: 2},
		"dpi":          {Compare: "list_max", MinorThreshold: 100, MajorThreshold: 1000},
		"polling_rate": {Compare: "list_max"},
	})
	return root
}

func TestLoadCategoryConfig(t *testing.T) {
	root := scaffoldConfig(t)
	cfg, err := Load(root, "gaming_mice")
	require.NoError(t, err)

	assert.Equal(t, "gaming_mice", cfg.Category)
	// Defaults applied
	assert.InDelta(t, 0.9, cfg.Schema.TargetCompleteness, 1e-9)
	assert.InDelta(t, 0.75, cfg.Schema.TargetConfidence, 1e-9)
	assert.Equal(t, 1, cfg.Schema.PassTargetDefault)
	assert.Equal(t, 2, cfg.Schema.PassTargetCritical)
	// required_fields.json merged and normalized
	assert.Equal(t, []string{"brand", "model", "weight", "sensor"}, cfg.Schema.RequiredFields)
	assert.Len(t, cfg.SearchTemplates, 2)
}

func TestLoadRejectsBadCategoryToken(t *testing.T) {
	_, err := Load(t.TempDir(), "Gaming Mice!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_or_invalid")
}

func TestLoadMissingSchemaFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "gaming_mice"), 0755))
	_, err := Load(root, "gaming_mice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileSchema)
}

func TestClassifyHost(t *testing.T) {
	root := scaffoldConfig(t)
	cfg, err := Load(root, "gaming_mice")
	require.NoError(t, err)

	tests := []struct {
		domain       string
		wantTier     models.SourceTier
		wantRole     models.SourceRole
		wantApproved bool
	}{
		{"logitechg.com", models.TierManufacturer, models.RoleManufacturer, true},
		{"razer.com", models.TierManufacturer, models.RoleManufacturer, true}, // www. stripped at index time
		{"rtings.com", models.TierLab, models.RoleLab, true},
		{"mouse-specs.example.org", models.TierLab, models.RoleOther, true},
		{"amazon.com", models.TierCommunity, models.RoleRetailer, true},
		{"random-blog.net", models.TierUnknown, models.RoleOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			tier, role, approved := cfg.ClassifyHost(tt.domain)
			assert.Equal(t, tt.wantTier, tier)
			assert.Equal(t, tt.wantRole, role)
			assert.Equal(t, tt.wantApproved, approved)
		})
	}

	assert.True(t, cfg.IsDenied("spam-reviews.example.com"))
	assert.False(t, cfg.IsDenied("logitechg.com"))
}

func TestSourceForBuildsPolicy(t *testing.T) {
	root := scaffoldConfig(t)
	cfg, err := Load(root, "gaming_mice")
	require.NoError(t, err)

	source := cfg.SourceFor("https://www.LogitechG.com/en-us/products/gaming-mice/pro-x-superlight.html?utm_source=x")
	assert.Equal(t, "www.logitechg.com", source.Host)
	assert.Equal(t, "logitechg.com", source.RootDomain)
	assert.Equal(t, models.TierManufacturer, source.Tier)
	assert.Equal(t, models.RoleManufacturer, source.Role)
	assert.True(t, source.ApprovedDomain)
	assert.NotContains(t, source.URL, "utm_source")
}

func TestApprovedSeedSourcesOrder(t *testing.T) {
	root := scaffoldConfig(t)
	cfg, err := Load(root, "gaming_mice")
	require.NoError(t, err)

	seeds := cfg.ApprovedSeedSources()
	require.Len(t, seeds, 5)
	// Manufacturers first, in registry order
	assert.Equal(t, "logitechg.com", seeds[0].RootDomain)
	assert.Equal(t, "razer.com", seeds[1].RootDomain)
	assert.Equal(t, models.RoleLab, seeds[2].Role)
}

func TestAnchorPolicyFallback(t *testing.T) {
	root := scaffoldConfig(t)
	cfg, err := Load(root, "gaming_mice")
	require.NoError(t, err)

	weight := cfg.AnchorPolicyFor("weight")
	assert.Equal(t, "numeric", weight.Compare)
	assert.InDelta(t, 2.0, weight.MajorThreshold, 1e-9)

	sensor := cfg.AnchorPolicyFor("sensor")
	assert.Equal(t, "exact", sensor.Compare)
}

func TestExpandTemplate(t *testing.T) {
	job := &models.Job{
		ProductID: "m1",
		Category:  "gaming_mice",
		IdentityLock: models.IdentityLock{
			Brand:   "Logitech",
			Model:   "G Pro X",
			Variant: "Superlight",
		},
	}

	query := ExpandTemplate("{brand} {model} {variant} specifications", job, "")
	assert.Equal(t, "Logitech G Pro X Superlight specifications", query)

	// Field placeholder converts underscores, absent variant collapses
	job.IdentityLock.Variant = ""
	query = ExpandTemplate("{brand} {model} {variant} {field}", job, "polling_rate")
	assert.Equal(t, "Logitech G Pro X polling rate", query)
}
