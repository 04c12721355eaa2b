// Package keyword provides the full-text (BM25) index over chunk text.
package keyword

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// HeadingBoost multiplies matches in the chunk heading. Values <= 1 disable the boost.
	HeadingBoost float64
	// Fuzziness is the maximum edit distance per term (1 or 2). 0 means exact terms.
	Fuzziness int
}

// KeywordIndex defines keyword index operations keyed by chunk ID.
type KeywordIndex interface {
	// Replace removes oldIDs and indexes chunks in a single batch.
	Replace(ctx context.Context, oldIDs []string, chunks []*models.Chunk) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// Reset drops every document.
	Reset() error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. Results are ordered by Score descending.
type KeywordResult struct {
	ID    string
	Score float64
}
