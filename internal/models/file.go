// Package models defines core data structures for indexed files, chunks, queries, and results.
package models

import "time"

// FileRecord is the index's view of one notebook file.
type FileRecord struct {
	Path        string    `json:"path" db:"path"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	ModTime     time.Time `json:"modified_time" db:"mod_time"`
	Size        int64     `json:"size_bytes" db:"size"`
	IndexedAt   time.Time `json:"indexed_at" db:"indexed_at"`
	// IndexedWithEmbeddings is true only if every chunk of the file has a vector.
	IndexedWithEmbeddings bool `json:"indexed_with_embeddings" db:"indexed_with_embeddings"`
	ChunkCount            int  `json:"chunk_count" db:"-"`
}

// Chunk is one passage of a file.
type Chunk struct {
	ID        string    `json:"id" db:"id"`
	FilePath  string    `json:"file_path" db:"file_path"`
	Ordinal   int       `json:"ordinal" db:"ordinal"`
	Heading   string    `json:"heading,omitempty" db:"heading"`
	StartLine int       `json:"start_line" db:"start_line"`
	EndLine   int       `json:"end_line" db:"end_line"`
	Text      string    `json:"text" db:"text"`
	Hash      string    `json:"hash" db:"hash"`
	Vector    []float32 `json:"-" db:"vector"`
}

// HasVector reports whether embeddings were generated for the chunk.
func (c *Chunk) HasVector() bool {
	return len(c.Vector) > 0
}
