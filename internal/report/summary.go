package report

import (
	"fmt"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/orchestrator"
)

// BuildSummaryMarkdown renders a run's outcome as a human-readable
// markdown document: identity, quality verdict, per-field table with
// evidence grades, and the round history.
func BuildSummaryMarkdown(result *orchestrator.RunResult) string {
	var b strings.Builder
	job := result.Job
	summary := result.Summary

	fmt.Fprintf(&b, "# %s %s\n\n", job.IdentityLock.Brand, job.IdentityLock.Model)
	if job.IdentityLock.Variant != "" {
		fmt.Fprintf(&b, "Variant: %s\n\n", job.IdentityLock.Variant)
	}
	fmt.Fprintf(&b, "Category: `%s` | Product: `%s`\n\n", job.Category, job.ProductID)

	b.WriteString("## Verdict\n\n")
	fmt.Fprintf(&b, "| Validated | Reason | Confidence | Completeness | Rounds | Stop |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	if summary != nil {
		fmt.Fprintf(&b, "| %t | %s | %.2f | %.2f | %d | %s |\n\n",
			summary.Validated, summary.ValidatedReason, summary.Confidence,
			summary.CompletenessRequired, result.Rounds, result.StopReason)
	} else {
		fmt.Fprintf(&b, "| - | - | - | - | %d | %s |\n\n", result.Rounds, result.StopReason)
	}

	if summary != nil && len(summary.FieldOrder) > 0 {
		b.WriteString("## Fields\n\n")
		b.WriteString("| Field | Value | Grade | Confirmations | Confidence |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, field := range summary.FieldOrder {
			provenance, ok := summary.Provenance[field]
			if !ok {
				continue
			}
			value := provenance.Value
			if value == models.UnknownValue && provenance.UnknownReason != "" {
				value = fmt.Sprintf("unk (%s)", provenance.UnknownReason)
			}
			grade := "-"
			if provenance.Traffic != nil {
				grade = string(provenance.Traffic.Color)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d/%d | %.2f |\n",
				field, escapeCell(value), grade,
				provenance.ApprovedConfirmations, provenance.PassTarget,
				provenance.Confidence)
		}
		b.WriteString("\n")
	}

	if summary != nil && len(summary.MissingRequiredFields) > 0 {
		b.WriteString("## Missing required fields\n\n")
		for _, field := range summary.MissingRequiredFields {
			fmt.Fprintf(&b, "- %s\n", field)
		}
		b.WriteString("\n")
	}

	if len(result.Summaries) > 0 {
		b.WriteString("## Rounds\n\n")
		b.WriteString("| Round | Fetched | Matched | New URLs | New fields | Confidence |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, round := range result.Summaries {
			fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %.2f |\n",
				round.Round, round.SourcesFetched, round.SourcesIdentityMatched,
				round.NewURLsSeen, round.NewFieldsFilled, round.Confidence)
		}
		b.WriteString("\n")
	}

	if summary != nil && len(summary.Events) > 0 {
		b.WriteString("## Events\n\n")
		for _, event := range summary.Events {
			fmt.Fprintf(&b, "- %s\n", event)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func escapeCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(value, "\n", " ")
}
