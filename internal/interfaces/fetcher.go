package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/specforge/internal/models"
)

// Fetcher acquires page data for one source. Implementations must surface
// captured network JSON responses, LD-JSON script payloads, and embedded
// state blobs when the transport can observe them.
type Fetcher interface {
	Fetch(ctx context.Context, source *models.Source, timeout time.Duration) (*models.PageData, error)
}
