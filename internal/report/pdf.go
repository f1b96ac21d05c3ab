package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Exporter renders run summaries as PDF documents
type Exporter struct {
	logger arbor.ILogger
}

// NewExporter creates a PDF exporter
func NewExporter(logger arbor.ILogger) *Exporter {
	return &Exporter{logger: logger}
}

// MarkdownToPDF converts a markdown summary into a PDF byte slice.
// The renderer covers the constructs BuildSummaryMarkdown emits:
// headings, paragraphs, emphasis, inline code, lists, and tables.
func (e *Exporter) MarkdownToPDF(markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 9)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	walker := &pdfWalker{pdf: pdf, source: source}
	if err := ast.Walk(doc, walker.walk); err != nil {
		return nil, fmt.Errorf("failed to render summary pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	e.logger.Debug().Int("bytes", buf.Len()).Msg("Summary PDF generated")
	return buf.Bytes(), nil
}

type pdfWalker struct {
	pdf    *fpdf.Fpdf
	source []byte
	bold   bool
	italic bool
	lists  int
}

func (w *pdfWalker) resetFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont("Arial", style, 9)
}

func (w *pdfWalker) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			w.pdf.Ln(4)
			size := 14.0 - float64(node.Level)
			if size < 9 {
				size = 9
			}
			w.pdf.SetFont("Arial", "B", size)
		} else {
			w.pdf.Ln(6)
			w.resetFont()
		}

	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(6)
		}

	case *ast.Text:
		if entering {
			w.pdf.Write(5, string(node.Text(w.source)))
		}

	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.resetFont()

	case *ast.CodeSpan:
		if entering {
			w.pdf.SetFont("Courier", "", 9)
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if textNode, ok := child.(*ast.Text); ok {
					w.pdf.Write(5, string(textNode.Segment.Value(w.source)))
				}
			}
		} else {
			w.resetFont()
		}
		return ast.WalkSkipChildren, nil

	case *ast.List:
		if entering {
			w.lists++
		} else {
			w.lists--
			if w.lists == 0 {
				w.pdf.Ln(2)
			}
		}

	case *ast.ListItem:
		if entering {
			w.pdf.Ln(5)
			w.pdf.SetX(14 + float64(w.lists)*4)
			w.pdf.Write(5, "- ")
		}

	case *extast.Table:
		if entering {
			w.renderTable(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (w *pdfWalker) renderTable(table *extast.Table) {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch row := child.(type) {
			case *extast.TableRow:
				rows = append(rows, cellTexts(row, w.source))
			case *extast.TableHeader:
				collect(row)
			}
		}
	}
	collect(table)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	w.pdf.Ln(2)
	width := 186.0 / float64(len(rows[0]))
	for i, row := range rows {
		if i == 0 {
			w.pdf.SetFont("Arial", "B", 8)
			w.pdf.SetFillColor(235, 235, 235)
		} else {
			w.pdf.SetFont("Arial", "", 8)
			w.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			w.pdf.CellFormat(width, 6, truncateCell(w.pdf, cell, width-2), "1", 0, "L", i == 0, 0, "")
		}
		w.pdf.Ln(-1)
	}
	w.pdf.Ln(3)
	w.resetFont()
}

func cellTexts(row ast.Node, source []byte) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			cells = append(cells, string(cell.Text(source)))
		}
	}
	return cells
}

func truncateCell(pdf *fpdf.Fpdf, value string, width float64) string {
	if pdf.GetStringWidth(value) <= width {
		return value
	}
	for len(value) > 3 && pdf.GetStringWidth(value+"...") > width {
		value = value[:len(value)-1]
	}
	return value + "..."
}
