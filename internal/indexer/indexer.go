package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// Document is a notebook file read from disk, ready to be chunked.
type Document struct {
	Path    string // notebook-relative, slash separated
	Content []byte
	Hash    string
	ModTime time.Time
	Size    int64
}

// Indexer discovers notebook files and turns them into chunks.
type Indexer struct {
	root       string
	extensions []string
	chunker    *Chunker
	extractor  *extract.Extractor
	logger     *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer for the notebook at root.
// If extensions is empty every regular file is considered. extractor may be nil; when nil,
// files are treated as plain text.
func NewIndexer(root string, extensions []string, chunker *Chunker, extractor *extract.Extractor, opts ...IndexerOption) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultTargetSize, DefaultOverlap)
	}
	idx := &Indexer{
		root:       filepath.Clean(root),
		extensions: extensions,
		chunker:    chunker,
		extractor:  extractor,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Root returns the notebook root directory.
func (idx *Indexer) Root() string {
	return idx.root
}

// Allowed reports whether a path has an indexed extension and is not inside a hidden directory.
func (idx *Indexer) Allowed(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return false
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	return len(idx.extensions) == 0 || extensionAllowed(ext, idx.extensions)
}

// Walk returns the notebook-relative paths of all indexable regular files under root.
// A missing root yields an empty list so a fresh notebook syncs cleanly.
func (idx *Indexer) Walk(ctx context.Context) ([]string, error) {
	info, err := os.Stat(idx.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat notebook root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", idx.root)
	}
	var paths []string
	err = filepath.WalkDir(idx.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == idx.root {
				return walkErr
			}
			if idx.logger != nil {
				idx.logger.Warn("indexer skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != idx.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.Allowed(d.Name()) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		rel, relErr := fileid.RelPath(idx.root, path)
		if relErr != nil {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk notebook: %w", err)
	}
	return paths, nil
}

// Read loads a notebook file and computes its content hash.
func (idx *Indexer) Read(rel string) (*Document, error) {
	abs := fileid.AbsPath(idx.root, rel)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", rel)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return &Document{
		Path:    rel,
		Content: content,
		Hash:    fileid.ContentHash(content),
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, nil
}

// Chunk extracts the document's text and splits it into chunks owned by the document.
func (idx *Indexer) Chunk(doc *Document) ([]*models.Chunk, error) {
	text := string(doc.Content)
	if idx.extractor != nil {
		var err error
		text, err = idx.extractor.ExtractBytes(doc.Content, filepath.Ext(doc.Path))
		if err != nil {
			return nil, fmt.Errorf("extract content: %w", err)
		}
	}
	chunks := idx.chunker.Chunk([]byte(text))
	for _, ch := range chunks {
		ch.FilePath = doc.Path
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer chunked file", zap.String("path", doc.Path), zap.Int("chunks", len(chunks)))
	}
	return chunks, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
