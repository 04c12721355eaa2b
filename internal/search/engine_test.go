package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/embedding/mocks"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

type staticProvider struct {
	plugin embedding.Plugin
	ready  bool
}

func (s staticProvider) Ready(context.Context) (embedding.Plugin, bool) {
	return s.plugin, s.ready && s.plugin != nil
}

type fixture struct {
	store   *storage.SQLiteStorage
	keyword *keyword.BleveIndex
	vectors *vector.MemoryIndex
	cfg     *config.SearchConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })
	vec, err := vector.NewMemoryIndex(0)
	require.NoError(t, err)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return &fixture{store: store, keyword: kw, vectors: vec, cfg: &cfg.Search}
}

// addFile stores one chunk per text and indexes it everywhere. vecs may be nil.
func (f *fixture) addFile(t *testing.T, path string, texts []string, vecs [][]float32) []*models.Chunk {
	t.Helper()
	ctx := context.Background()
	chunks := make([]*models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &models.Chunk{FilePath: path, Ordinal: i, StartLine: i + 1, EndLine: i + 1, Text: text, Hash: text}
		if vecs != nil {
			chunks[i].Vector = vecs[i]
		}
	}
	_, err := f.store.ReplaceFileChunks(ctx, &models.FileRecord{Path: path, ContentHash: path}, chunks)
	require.NoError(t, err)
	require.NoError(t, f.keyword.Replace(ctx, nil, chunks))
	if vecs != nil {
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		require.NoError(t, f.vectors.Add(ctx, ids, vecs))
	}
	return chunks
}

func (f *fixture) engine(p PluginProvider) *Engine {
	return NewEngine(f.store, p, f.vectors, f.keyword, f.cfg, "daily")
}

func TestRecall_KeywordOnlyWhenNoPlugin(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "reference/contacts.md", []string{"John Smith - Engineering Lead - john@example.com"}, nil)
	f.addFile(t, "notes/other.md", []string{"Unrelated gardening notes"}, nil)

	var observedMode string
	e := NewEngine(f.store, staticProvider{}, f.vectors, f.keyword, f.cfg, "daily",
		WithObserver(func(mode string, _ time.Duration) { observedMode = mode }))
	resp, err := e.Recall(context.Background(), &models.RecallQuery{Query: "Engineering"})
	require.NoError(t, err)

	assert.Equal(t, models.ModeKeyword, resp.Mode)
	assert.Equal(t, models.ModeKeyword, observedMode)
	require.Equal(t, 1, resp.Total)
	require.Len(t, resp.Groups, 1)
	r := resp.Groups[0].Results[0]
	assert.Equal(t, "reference/contacts.md", r.Path)
	assert.Contains(t, r.Snippet, "Engineering")
	assert.Equal(t, models.CategoryNotebook, r.Category)
	assert.InDelta(t, 0.5, r.Score, 1e-9)
	assert.Equal(t, 1, r.Rank)
}

func TestRecall_MinScoreIsCallerTunable(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "a.md", []string{"quarterly planning"}, nil)
	e := f.engine(staticProvider{})

	high := 0.6
	resp, err := e.Recall(context.Background(), &models.RecallQuery{Query: "planning", MinScore: &high})
	require.NoError(t, err)
	assert.Zero(t, resp.Total, "keyword-only scores top out at 0.5")

	zero := 0.0
	resp, err = e.Recall(context.Background(), &models.RecallQuery{Query: "planning", MinScore: &zero})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
}

func TestRecall_HybridFusesVectorHits(t *testing.T) {
	ctrl := gomock.NewController(t)
	plugin := mocks.NewMockPlugin(ctrl)
	plugin.EXPECT().Embed(gomock.Any(), "alpha").Return([]float32{1, 0}, nil)

	f := newFixture(t)
	chunks := f.addFile(t, "a.md",
		[]string{"alpha budget review", "alpha roadmap"},
		[][]float32{{0, 1}, {1, 0}},
	)

	resp, err := f.engine(staticProvider{plugin: plugin, ready: true}).
		Recall(context.Background(), &models.RecallQuery{Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeHybrid, resp.Mode)
	require.Equal(t, 2, resp.Total)
	results := resp.Groups[0].Results
	// The roadmap chunk is the only vector hit above the similarity floor.
	assert.Equal(t, chunks[1].ID, results[0].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[0].Score, 0.5)
}

func TestRecall_EmbedFailureDegrades(t *testing.T) {
	ctrl := gomock.NewController(t)
	plugin := mocks.NewMockPlugin(ctrl)
	plugin.EXPECT().Embed(gomock.Any(), gomock.Any()).Return(nil, models.ErrPluginUnavailable)

	f := newFixture(t)
	f.addFile(t, "a.md", []string{"alpha roadmap"}, [][]float32{{1, 0}})

	resp, err := f.engine(staticProvider{plugin: plugin, ready: true}).
		Recall(context.Background(), &models.RecallQuery{Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeKeyword, resp.Mode)
	assert.Equal(t, 1, resp.Total)
}

func TestRecall_DimensionMismatchDegrades(t *testing.T) {
	ctrl := gomock.NewController(t)
	plugin := mocks.NewMockPlugin(ctrl)
	plugin.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1, 0, 0}, nil)

	f := newFixture(t)
	f.addFile(t, "a.md", []string{"alpha roadmap"}, [][]float32{{1, 0}})

	resp, err := f.engine(staticProvider{plugin: plugin, ready: true}).
		Recall(context.Background(), &models.RecallQuery{Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeKeyword, resp.Mode)
}

func TestRecall_GroupsByCategory(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "daily/2024-05-01.md", []string{"standup about the launch"}, nil)
	f.addFile(t, "projects/launch.md", []string{"launch checklist for the launch"}, nil)

	resp, err := f.engine(staticProvider{}).Recall(context.Background(), &models.RecallQuery{Query: "launch"})
	require.NoError(t, err)
	require.Len(t, resp.Groups, 2)
	seen := map[string]string{}
	for _, g := range resp.Groups {
		for _, r := range g.Results {
			assert.Equal(t, g.Category, r.Category)
			seen[r.Path] = r.Category
		}
	}
	assert.Equal(t, models.CategoryDaily, seen["daily/2024-05-01.md"])
	assert.Equal(t, models.CategoryNotebook, seen["projects/launch.md"])
}

func TestRecall_SkipsStaleIndexEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.keyword.Replace(ctx, nil, []*models.Chunk{
		{ID: "ghost", FilePath: "gone.md", Text: "phantom entry", StartLine: 1, EndLine: 1},
	}))
	resp, err := f.engine(staticProvider{}).Recall(ctx, &models.RecallQuery{Query: "phantom"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
}

func TestRecall_MaxResults(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "a.md", []string{"topic one", "topic two", "topic three"}, nil)
	resp, err := f.engine(staticProvider{}).Recall(context.Background(), &models.RecallQuery{Query: "topic", MaxResults: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
}

func TestRecall_UsesConfiguredDefaults(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "a.md", []string{"topic one", "topic two", "topic three"}, nil)
	f.cfg.MaxResults = 1
	e := f.engine(staticProvider{})

	resp, err := e.Recall(context.Background(), &models.RecallQuery{Query: "topic"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)

	high := 0.6
	f.cfg.MinScore = &high
	resp, err = e.Recall(context.Background(), &models.RecallQuery{Query: "topic"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total, "configured floor applies when the query sets none")

	zero := 0.0
	resp, err = e.Recall(context.Background(), &models.RecallQuery{Query: "topic", MinScore: &zero, MaxResults: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total, "query values override the config")
}

func TestRecall_LeavesQueryUntouched(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "a.md", []string{"alpha"}, nil)
	f.cfg.MaxLimit = 5

	q := &models.RecallQuery{Query: "  alpha  ", MaxResults: 50}
	_, err := f.engine(staticProvider{}).Recall(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "  alpha  ", q.Query)
	assert.Equal(t, 50, q.MaxResults)
	assert.Nil(t, q.MinScore)
}

func TestRecall_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine(staticProvider{}).Recall(context.Background(), &models.RecallQuery{Query: "   "})
	assert.True(t, errors.Is(err, models.ErrEmptyQuery))
}

func TestCategory(t *testing.T) {
	e := NewEngine(nil, staticProvider{}, nil, nil, &config.SearchConfig{}, "/daily/")
	assert.Equal(t, models.CategoryDaily, e.Category("daily/2024-01-01.md"))
	assert.Equal(t, models.CategoryNotebook, e.Category("dailyish.md"))
	assert.Equal(t, models.CategoryNotebook, e.Category("notes/daily/x.md"))
}
