package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/orchestrator"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes an identity component for use in artifact paths
func Slug(value string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// RunWriter persists the artifacts of one completed run under
// final/<category>/<brand>/<model>/runs/<runId>/
type RunWriter struct {
	store  interfaces.ArtifactStore
	logger arbor.ILogger
}

// NewRunWriter creates a writer over an artifact store
func NewRunWriter(store interfaces.ArtifactStore, logger arbor.ILogger) *RunWriter {
	return &RunWriter{store: store, logger: logger}
}

// RunPrefix returns the artifact prefix for one run
func RunPrefix(category, brand, model, runID string) string {
	return path.Join("final", Slug(category), Slug(brand), Slug(model), "runs", runID)
}

// PersistRun writes the normalized record, provenance, run summary,
// per-round history, and the category sheet row for a finished run
func (w *RunWriter) PersistRun(ctx context.Context, runID string, result *orchestrator.RunResult) error {
	if result == nil || result.Job == nil {
		return fmt.Errorf("run result is incomplete")
	}

	job := result.Job
	prefix := RunPrefix(job.Category, job.IdentityLock.Brand, job.IdentityLock.Model, runID)

	if err := w.putJSON(ctx, path.Join(prefix, "normalized.json"), result.Record); err != nil {
		return err
	}
	if result.Summary != nil {
		if err := w.putJSON(ctx, path.Join(prefix, "provenance.json"), result.Summary.Provenance); err != nil {
			return err
		}
	}
	if err := w.putJSON(ctx, path.Join(prefix, "summary.json"), result); err != nil {
		return err
	}

	for _, summary := range result.Summaries {
		line, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode round summary: %w", err)
		}
		if err := w.store.AppendLine(ctx, path.Join(prefix, "rounds.jsonl"), line); err != nil {
			return err
		}
	}

	if err := w.appendSheetRow(ctx, runID, result); err != nil {
		return err
	}

	w.logger.Info().
		Str("product_id", job.ProductID).
		Str("run_id", runID).
		Str("prefix", prefix).
		Msg("Run artifacts persisted")
	return nil
}

func (w *RunWriter) putJSON(ctx context.Context, key string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s: %w", key, err)
	}
	return w.store.Put(ctx, key, data)
}

// appendSheetRow appends one TSV row to the category spec sheet and
// keeps a columns sidecar describing the row layout
func (w *RunWriter) appendSheetRow(ctx context.Context, runID string, result *orchestrator.RunResult) error {
	record := result.Record
	if record == nil {
		return nil
	}

	fieldOrder := []string{}
	if result.Summary != nil {
		fieldOrder = result.Summary.FieldOrder
	}

	columns := append([]string{"product_id", "run_id", "brand", "model", "validated", "confidence"}, fieldOrder...)
	row := []string{
		result.Job.ProductID,
		runID,
		record.Brand,
		record.Model,
		fmt.Sprintf("%t", record.Quality.Validated),
		fmt.Sprintf("%.3f", record.Quality.Confidence),
	}
	for _, field := range fieldOrder {
		row = append(row, sanitizeTSV(record.Fields[field]))
	}

	sheet := path.Join("final", Slug(result.Job.Category), "specsheet.tsv")
	header := path.Join("final", Slug(result.Job.Category), "specsheet.columns.tsv")
	if err := w.store.Put(ctx, header, []byte(strings.Join(columns, "\t")+"\n")); err != nil {
		return err
	}
	return w.store.AppendLine(ctx, sheet, []byte(strings.Join(row, "\t")))
}

func sanitizeTSV(value string) string {
	value = strings.ReplaceAll(value, "\t", " ")
	return strings.ReplaceAll(value, "\n", " ")
}
