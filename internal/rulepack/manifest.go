package rulepack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
)

// BuildManifest enumerates every non-manifest artifact under the
// generated dir, hashes JSON files over their canonical semantic form
// (volatile keys stripped) and other files byte-for-byte, and returns
// sorted (path, sha256, bytes) rows.
func BuildManifest(category, finalDir string) (*models.Manifest, error) {
	var entries []models.ManifestEntry

	err := filepath.Walk(finalDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(finalDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == models.ArtifactManifest {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read artifact %s: %w", rel, err)
		}

		var hash string
		if strings.HasSuffix(rel, ".json") {
			hash = common.HashSemanticJSON(data)
		} else {
			hash = common.HashBytes(data)
		}
		entries = append(entries, models.ManifestEntry{
			Path:   rel,
			SHA256: hash,
			Bytes:  len(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return &models.Manifest{
		Category:      category,
		Algorithm:     "sha256",
		ArtifactCount: len(entries),
		Entries:       entries,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// VerifyManifest recomputes artifact hashes and compares with the stored
// manifest. Returns one error string per mismatched, missing, or
// unlisted artifact.
func VerifyManifest(manifest *models.Manifest, finalDir string) []string {
	var errs []string

	recomputed, err := BuildManifest(manifest.Category, finalDir)
	if err != nil {
		return []string{fmt.Sprintf("manifest validation failed: %v", err)}
	}

	stored := make(map[string]models.ManifestEntry, len(manifest.Entries))
	for _, entry := range manifest.Entries {
		stored[entry.Path] = entry
	}

	for _, entry := range recomputed.Entries {
		want, ok := stored[entry.Path]
		if !ok {
			errs = append(errs, fmt.Sprintf("manifest validation failed: %s not listed in manifest", entry.Path))
			continue
		}
		if want.SHA256 != entry.SHA256 {
			errs = append(errs, fmt.Sprintf("manifest validation failed: %s", entry.Path))
		}
		delete(stored, entry.Path)
	}
	for path := range stored {
		errs = append(errs, fmt.Sprintf("manifest validation failed: %s missing on disk", path))
	}

	if manifest.ArtifactCount != recomputed.ArtifactCount {
		errs = append(errs, fmt.Sprintf("manifest validation failed: artifact_count %d != %d on disk", manifest.ArtifactCount, recomputed.ArtifactCount))
	}

	sort.Strings(errs)
	return errs
}
