package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

// PluginProvider hands out the active embedding plugin when it is ready.
type PluginProvider interface {
	Ready(ctx context.Context) (embedding.Plugin, bool)
}

// Engine runs recall over the keyword and vector indexes. It only reads.
type Engine struct {
	storage      storage.Storage
	plugins      PluginProvider
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	config       *config.SearchConfig
	dailyFolder  string
	logger       *zap.Logger
	observe      func(mode string, d time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for degraded-mode warnings.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers a callback invoked after each recall with its mode and duration.
func WithObserver(fn func(mode string, d time.Duration)) Option {
	return func(e *Engine) { e.observe = fn }
}

// NewEngine creates a recall engine. dailyFolder is the notebook-relative folder
// whose files are categorized as daily logs.
func NewEngine(
	storage storage.Storage,
	plugins PluginProvider,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.SearchConfig,
	dailyFolder string,
	opts ...Option,
) *Engine {
	e := &Engine{
		storage:      storage,
		plugins:      plugins,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
		dailyFolder:  strings.Trim(dailyFolder, "/"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recall runs keyword search and, when the active plugin is ready, vector search,
// fuses both rankings and returns the results grouped by category.
// Only keyword index or storage failures are returned as errors; any vector-side
// failure degrades the call to keyword-only mode.
// Unset limits in the query take the configured defaults. The caller's query is not modified.
func (e *Engine) Recall(ctx context.Context, in *models.RecallQuery) (*models.RecallResponse, error) {
	startTime := time.Now()
	query := e.normalize(in)
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if e.config.MaxLimit > 0 && query.MaxResults > e.config.MaxLimit {
		query.MaxResults = e.config.MaxLimit
	}

	var (
		keywordResults []*keyword.KeywordResult
		keywordErr     error
		vectorIDs      []string
		hybrid         bool
		wg             sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		keywordResults, keywordErr = e.keywordIndex.Search(ctx, query.Query, e.candidateLimit(), &keyword.SearchOptions{
			HeadingBoost: e.config.HeadingBoost,
			Fuzziness:    e.config.Fuzziness,
		})
	}()

	if plugin, ok := e.plugins.Ready(ctx); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := e.vectorSearch(ctx, plugin, query.Query)
			if err != nil {
				e.warn("vector search unavailable, using keyword results only", err)
				return
			}
			vectorIDs = ids
			hybrid = true
		}()
	}

	wg.Wait()
	if keywordErr != nil {
		return nil, fmt.Errorf("keyword search failed: %w", keywordErr)
	}

	keywordIDs := make([]string, len(keywordResults))
	for i, r := range keywordResults {
		keywordIDs[i] = r.ID
	}
	fused := FuseRRF(keywordIDs, vectorIDs, e.config.RRFK)

	minScore := query.MinScoreValue()
	passing := make([]*FusedResult, 0, len(fused))
	ids := make([]string, 0, len(fused))
	for _, r := range fused {
		if r.Score < minScore {
			continue
		}
		passing = append(passing, r)
		ids = append(ids, r.ID)
	}

	chunks, err := e.storage.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	results := make([]*models.RecallResult, 0, query.MaxResults)
	for _, r := range passing {
		if len(results) == query.MaxResults {
			break
		}
		c, ok := chunks[r.ID]
		if !ok {
			// Index entry for a chunk replaced since; the next sync repairs it.
			continue
		}
		results = append(results, &models.RecallResult{
			ChunkID:   c.ID,
			Path:      c.FilePath,
			Heading:   c.Heading,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Snippet:   utils.Truncate(c.Text, e.config.SnippetMaxLength),
			Score:     r.Score,
			Category:  e.Category(c.FilePath),
			Rank:      len(results) + 1,
		})
	}

	mode := models.ModeKeyword
	if hybrid {
		mode = models.ModeHybrid
	}
	elapsed := time.Since(startTime)
	if e.observe != nil {
		e.observe(mode, elapsed)
	}
	return &models.RecallResponse{
		Query:     query.Query,
		Mode:      mode,
		Total:     len(results),
		Groups:    GroupByCategory(results),
		QueryTime: elapsed.Milliseconds(),
	}, nil
}

// normalize copies q and fills unset limits from the search config.
func (e *Engine) normalize(q *models.RecallQuery) *models.RecallQuery {
	out := *q
	if out.MaxResults <= 0 {
		out.MaxResults = e.config.MaxResults
	}
	if out.MinScore == nil && e.config.MinScore != nil {
		v := *e.config.MinScore
		out.MinScore = &v
	} else if out.MinScore != nil {
		v := *out.MinScore
		out.MinScore = &v
	}
	return &out
}

// vectorSearch embeds the query and returns chunk IDs above the similarity floor.
func (e *Engine) vectorSearch(ctx context.Context, plugin embedding.Plugin, query string) ([]string, error) {
	if e.vectorIndex.Size() == 0 {
		return nil, nil
	}
	queryVec, err := plugin.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// Vectors from a previous plugin have another length; do not compare across them.
	if dims := e.vectorIndex.Dimensions(); dims != len(queryVec) {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(queryVec), dims)
	}
	hits, err := e.vectorIndex.Search(ctx, queryVec, e.candidateLimit())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < e.config.VectorMinSimilarity {
			break
		}
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Category returns the source category for a notebook-relative path.
func (e *Engine) Category(path string) string {
	if e.dailyFolder != "" && strings.HasPrefix(path, e.dailyFolder+"/") {
		return models.CategoryDaily
	}
	return models.CategoryNotebook
}

func (e *Engine) candidateLimit() int {
	if e.config.CandidateLimit > 0 {
		return e.config.CandidateLimit
	}
	return 50
}

func (e *Engine) warn(msg string, err error) {
	if e.logger != nil {
		e.logger.Warn(msg, zap.Error(err))
	}
}

// GroupByCategory splits ranked results by category. Groups appear in the order
// of their best result and keep rank order inside.
func GroupByCategory(results []*models.RecallResult) []*models.RecallGroup {
	groups := make([]*models.RecallGroup, 0, 2)
	byCategory := make(map[string]*models.RecallGroup, 2)
	for _, r := range results {
		g, ok := byCategory[r.Category]
		if !ok {
			g = &models.RecallGroup{Category: r.Category}
			byCategory[r.Category] = g
			groups = append(groups, g)
		}
		g.Results = append(g.Results, r)
	}
	return groups
}
