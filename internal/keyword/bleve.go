package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kioku/internal/models"
)

// chunkDoc is the document shape stored in bleve for one chunk.
type chunkDoc struct {
	Text    string `json:"text"`
	Heading string `json:"heading"`
	Path    string `json:"path"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	path  string
	mu    sync.RWMutex
	index bleve.Index
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so names and exact
	// terms in notes match the way they were written.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("heading", textFieldMapping)
	pathFieldMapping := bleve.NewKeywordFieldMapping()
	pathFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("path", pathFieldMapping)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// An empty path creates an in-memory index.
// If the mapping changes, remove the index directory; the sync service rebuilds it from storage.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{path: path, index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{path: path, index: index}, nil
}

// Replace deletes oldIDs and indexes chunks in one batch.
func (b *BleveIndex) Replace(ctx context.Context, oldIDs []string, chunks []*models.Chunk) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	batch := b.index.NewBatch()
	for _, id := range oldIDs {
		batch.Delete(id)
	}
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk %d of %s has no id", c.Ordinal, c.FilePath)
		}
		if err := batch.Index(c.ID, chunkDoc{Text: c.Text, Heading: c.Heading, Path: c.FilePath}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	return b.index.Batch(batch)
}

// Delete removes chunks from the index. Unknown IDs are ignored.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	return b.Replace(ctx, ids, nil)
}

// Search runs a match query over chunk text and heading and returns up to limit results.
// With opts.Fuzziness > 0 each term matches within that edit distance.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	headingBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.HeadingBoost > 1 {
			headingBoost = opts.HeadingBoost
		}
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	q := bleve.NewDisjunctionQuery(
		buildFieldQuery(query, "text", 1.0, fuzziness),
		buildFieldQuery(query, "heading", headingBoost, fuzziness),
	)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	// Equal scores fall back to ID order so repeated queries return the same ranking.
	req.SortBy([]string{"-_score", "_id"})

	b.mu.RLock()
	defer b.mu.RUnlock()
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// buildFieldQuery matches query against one field. With fuzziness, each term
// becomes a FuzzyQuery and any term may match.
func buildFieldQuery(query, field string, boost float64, fuzziness int) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if fuzziness == 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Reset drops every document by recreating the index.
func (b *BleveIndex) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.index.Close(); err != nil {
		return fmt.Errorf("close Bleve index: %w", err)
	}
	var (
		index bleve.Index
		err   error
	)
	if b.path == "" {
		index, err = bleve.NewMemOnly(newMapping())
	} else {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("remove Bleve index: %w", err)
		}
		index, err = bleve.New(b.path, newMapping())
	}
	if err != nil {
		return fmt.Errorf("recreate Bleve index: %w", err)
	}
	b.index = index
	return nil
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
