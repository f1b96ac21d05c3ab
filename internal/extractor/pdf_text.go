package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// PDFTextExtractor pulls plain text out of PDF payloads using pdfcpu.
// pdfcpu works on files, so each extraction round-trips through a temp
// directory that is removed afterwards.
type PDFTextExtractor struct {
	tempDir string
	logger  arbor.ILogger
}

var _ interfaces.PDFExtractor = (*PDFTextExtractor)(nil)

// NewPDFTextExtractor creates the pdfcpu-backed text extractor
func NewPDFTextExtractor(logger arbor.ILogger) *PDFTextExtractor {
	tempDir := filepath.Join(os.TempDir(), "specforge-pdf")
	os.MkdirAll(tempDir, 0755)
	return &PDFTextExtractor{tempDir: tempDir, logger: logger}
}

// ExtractText extracts the full text of a PDF payload, page-ordered
func (e *PDFTextExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty pdf payload")
	}

	id := uuid.NewString()
	tempFile := filepath.Join(e.tempDir, id+".pdf")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp pdf: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(e.tempDir, id)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract pdf content: %w", err)
	}

	// pdfcpu writes one Content_page_N file per page
	pageTexts := map[int]string{}
	entries, _ := os.ReadDir(outDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text, ok := pageTexts[pageNum]
		if !ok || text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(text)
	}

	e.logger.Debug().Int("pages", pageCount).Int("bytes", len(data)).Msg("PDF text extracted")
	return builder.String(), nil
}
