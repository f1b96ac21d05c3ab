package interfaces

import (
	"context"
)

// PDFExtractor pulls plain text out of a PDF payload
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}
