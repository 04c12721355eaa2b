// Package vector provides the in-memory cosine index over chunk vectors.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// Reset drops all vectors. The next Add fixes the dimension again.
	Reset()
	Dimensions() int
	Size() int
	Close() error
}

// VectorResult is a single vector search hit keyed by chunk ID.
type VectorResult struct {
	ID    string
	Score float64 // Inner product, equal to cosine similarity for normalized vectors
}
