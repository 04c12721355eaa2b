package mcp

import (
	"context"
	"errors"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
)

type fakeRecaller struct {
	got  *models.RecallQuery
	resp *models.RecallResponse
	err  error
}

func (f *fakeRecaller) Recall(_ context.Context, q *models.RecallQuery) (*models.RecallResponse, error) {
	f.got = q
	return f.resp, f.err
}

type fakeNotebook struct {
	calls []string
	err   error
}

func (f *fakeNotebook) Read(path string, from, to int) (*notebook.Excerpt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &notebook.Excerpt{Path: path, From: from, To: to, TotalLines: 10, Content: "line"}, nil
}

func (f *fakeNotebook) record(call, path string) (*notebook.WriteResult, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return &notebook.WriteResult{Path: path}, f.err
	}
	return &notebook.WriteResult{Path: path}, nil
}

func (f *fakeNotebook) WriteFile(_ context.Context, path, _ string) (*notebook.WriteResult, error) {
	return f.record("write", path)
}

func (f *fakeNotebook) AppendSection(_ context.Context, path, heading, _ string) (*notebook.WriteResult, error) {
	return f.record("append:"+heading, path)
}

func (f *fakeNotebook) ReplaceSection(_ context.Context, path, heading, _ string) (*notebook.WriteResult, error) {
	return f.record("replace:"+heading, path)
}

func (f *fakeNotebook) DailyLog(_ context.Context, _ string) (*notebook.WriteResult, error) {
	return f.record("daily", "daily/2024-05-01.md")
}

type fakeStatus struct{}

func (fakeStatus) Status(context.Context) (*models.Status, error) {
	return &models.Status{Files: 3, Chunks: 7, ActivePlugin: "hash"}, nil
}

func call(args map[string]any) mcpgo.CallToolRequest {
	var req mcpgo.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcpgo.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestRecallHandler(t *testing.T) {
	f := &fakeRecaller{resp: &models.RecallResponse{
		Query: "engineering", Mode: models.ModeKeyword, Total: 1,
		Groups: []*models.RecallGroup{{Category: models.CategoryNotebook, Results: []*models.RecallResult{{
			Path: "reference/contacts.md", Heading: "People", StartLine: 1, EndLine: 3,
			Snippet: "John Smith - Engineering Lead", Score: 0.5, Rank: 1,
		}}}},
	}}
	res, err := makeRecallHandler(f)(context.Background(), call(map[string]any{
		"query": "engineering", "max_results": 5.0, "min_score": 0.1,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	out := text(t, res)
	assert.Contains(t, out, "reference/contacts.md:1-3")
	assert.Contains(t, out, "Engineering Lead")
	assert.Equal(t, 5, f.got.MaxResults)
	require.NotNil(t, f.got.MinScore)
	assert.InDelta(t, 0.1, *f.got.MinScore, 1e-9)
}

func TestRecallHandler_DefaultsAndErrors(t *testing.T) {
	f := &fakeRecaller{resp: &models.RecallResponse{Query: "x"}}
	res, err := makeRecallHandler(f)(context.Background(), call(map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.Nil(t, f.got.MinScore)
	assert.Contains(t, text(t, res), "No results")

	f.err = models.ErrEmptyQuery
	res, err = makeRecallHandler(f)(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNotebookHandlers(t *testing.T) {
	nb := &fakeNotebook{}
	ctx := context.Background()

	res, err := makeNotebookReadHandler(nb)(ctx, call(map[string]any{"path": "a.md", "from": 2.0, "to": 4.0}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "a.md (lines 2-4 of 10)")

	res, err = makeNotebookReadHandler(nb)(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	for _, mode := range []string{"write", "append", "replace"} {
		res, err = makeNotebookWriteHandler(nb)(ctx, call(map[string]any{
			"path": "p.md", "content": "x", "mode": mode, "heading": "Tasks",
		}))
		require.NoError(t, err)
		assert.Equal(t, "Wrote p.md.", text(t, res))
	}
	assert.Equal(t, []string{"write", "append:Tasks", "replace:Tasks"}, nb.calls)

	res, err = makeNotebookWriteHandler(nb)(ctx, call(map[string]any{"path": "p.md", "mode": "delete"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = makeDailyLogHandler(nb)(ctx, call(map[string]any{"text": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "Wrote daily/2024-05-01.md.", text(t, res))
}

func TestWriteResult(t *testing.T) {
	res, err := writeResult(nil, models.ErrInvalidPath)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = writeResult(&notebook.WriteResult{Path: "a.md"}, errors.New("index down"))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "indexing failed")
}

func TestStatusHandler(t *testing.T) {
	res, err := makeStatusHandler(fakeStatus{})(context.Background(), call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, `"files": 3`)
	assert.Contains(t, out, `"active_plugin": "hash"`)
}
