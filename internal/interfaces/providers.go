package interfaces

import (
	"context"

	"github.com/ternarybob/exerceo/internal/models"
)

// SearchProvider - interface for corpus document retrieval.
//
// Dataset assembly queries a provider for candidate documents. The default
// implementation talks to an external search service over HTTP; tests and
// offline runs use the filesystem fallback.
type SearchProvider interface {
	// Search returns up to limit documents matching the query, best first.
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)

	// Name identifies the provider in logs.
	Name() string
}

// FeedbackProvider - interface for the interaction feedback buffer.
//
// The HTTP surface appends items; continuous training drains them in
// batches. Implementations are bounded and drop the oldest item on
// overflow rather than blocking ingest.
type FeedbackProvider interface {
	// Submit appends an item to the buffer.
	Submit(item models.FeedbackItem) error

	// Drain removes and returns up to limit items, oldest first.
	Drain(limit int) []models.FeedbackItem

	// Len reports the number of buffered items.
	Len() int
}
