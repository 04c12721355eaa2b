// Package storage defines the persistence interface for the index: file records,
// chunks with their vectors, the embedding cache and small settings.
package storage

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// Storage defines file, chunk and embedding persistence operations.
// Implementations must allow reads while a write transaction is in flight.
type Storage interface {
	// File registry
	GetFile(ctx context.Context, path string) (*models.FileRecord, error)
	ListFiles(ctx context.Context) ([]*models.FileRecord, error)
	// ReplaceFileChunks upserts rec and swaps the file's whole chunk set in one
	// transaction. Chunks without an ID get one assigned. Returns the IDs of the
	// chunks that were replaced.
	ReplaceFileChunks(ctx context.Context, rec *models.FileRecord, chunks []*models.Chunk) ([]string, error)
	// DeleteFile removes the record and its chunks, returning the removed chunk IDs.
	DeleteFile(ctx context.Context, path string) ([]string, error)
	// InvalidateFile clears the stored hash so the next sync reprocesses the file.
	InvalidateFile(ctx context.Context, path string) error
	// ResetEmbeddings drops every chunk vector and marks all files as missing embeddings.
	ResetEmbeddings(ctx context.Context) error

	// Chunks
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	GetChunksByFile(ctx context.Context, path string) ([]*models.Chunk, error)
	ForEachChunk(ctx context.Context, fn func(*models.Chunk) error) error

	// Embedding cache keyed by (plugin id, chunk hash)
	GetCachedEmbeddings(ctx context.Context, pluginID string, hashes []string) (map[string][]float32, error)
	PutCachedEmbeddings(ctx context.Context, pluginID string, vectors map[string][]float32) error
	PruneEmbeddingCache(ctx context.Context) (int64, error)

	// Settings
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	// Stats
	CountFiles(ctx context.Context) (total int64, partial int64, err error)
	CountChunks(ctx context.Context) (total int64, embedded int64, err error)

	Close() error
}
