package notebook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/models"
)

type recordingSyncer struct {
	paths []string
	err   error
}

func (r *recordingSyncer) SyncFile(_ context.Context, path string) (*models.SyncResult, error) {
	r.paths = append(r.paths, path)
	if r.err != nil {
		return nil, r.err
	}
	return &models.SyncResult{Updated: 1}, nil
}

func newNotebook(t *testing.T) (*Notebook, *recordingSyncer) {
	t.Helper()
	s := &recordingSyncer{}
	clock := func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return New(t.TempDir(), "daily", s, WithClock(clock)), s
}

func readFile(t *testing.T, n *Notebook, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(n.Root(), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestResolve(t *testing.T) {
	n, _ := newNotebook(t)
	rel, abs, err := n.Resolve("projects//kioku/./plan.md")
	require.NoError(t, err)
	assert.Equal(t, "projects/kioku/plan.md", rel)
	assert.Equal(t, filepath.Join(n.Root(), "projects", "kioku", "plan.md"), abs)

	for _, bad := range []string{"", "  ", "/etc/passwd", "../x.md", "a/../../x.md", ".git/config", "a/.hidden/b.md", "."} {
		_, _, err := n.Resolve(bad)
		assert.Truef(t, errors.Is(err, models.ErrInvalidPath), "path %q", bad)
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	n, _ := newNotebook(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(n.Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, _, err := n.Resolve("link/secret.md")
	assert.True(t, errors.Is(err, models.ErrInvalidPath))
}

func TestWriteFile(t *testing.T) {
	n, s := newNotebook(t)
	ctx := context.Background()
	res, err := n.WriteFile(ctx, "ideas/new.md", "# Ideas\n\nfirst")
	require.NoError(t, err)
	assert.Equal(t, "ideas/new.md", res.Path)
	assert.Equal(t, 1, res.Sync.Updated)
	assert.Equal(t, []string{"ideas/new.md"}, s.paths)
	assert.Equal(t, "# Ideas\n\nfirst", readFile(t, n, "ideas/new.md"))

	_, err = n.WriteFile(ctx, "scan.pdf", "x")
	assert.True(t, errors.Is(err, models.ErrInvalidPath))
	_, err = n.WriteFile(ctx, "../escape.md", "x")
	assert.True(t, errors.Is(err, models.ErrInvalidPath))
	assert.Len(t, s.paths, 1)

	entries, err := os.ReadDir(filepath.Join(n.Root(), "ideas"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFile_SyncFailureIsReported(t *testing.T) {
	n, s := newNotebook(t)
	s.err = errors.New("index down")
	res, err := n.WriteFile(context.Background(), "a.md", "text")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "a.md", res.Path)
	assert.Equal(t, "text", readFile(t, n, "a.md"))
}

func TestAppendSection(t *testing.T) {
	n, _ := newNotebook(t)
	ctx := context.Background()
	_, err := n.WriteFile(ctx, "p.md", "# Project\n\nintro\n\n## Tasks\n\n- one\n\n## Notes\n\nkeep\n")
	require.NoError(t, err)

	_, err = n.AppendSection(ctx, "p.md", "Tasks", "- two")
	require.NoError(t, err)
	assert.Equal(t, "# Project\n\nintro\n\n## Tasks\n\n- one\n- two\n\n## Notes\n\nkeep\n", readFile(t, n, "p.md"))

	_, err = n.AppendSection(ctx, "p.md", "## notes", "more")
	require.NoError(t, err)
	assert.Equal(t, "# Project\n\nintro\n\n## Tasks\n\n- one\n- two\n\n## Notes\n\nkeep\nmore\n", readFile(t, n, "p.md"))
}

func TestAppendSection_CreatesSectionAndFile(t *testing.T) {
	n, s := newNotebook(t)
	ctx := context.Background()
	_, err := n.AppendSection(ctx, "people/ana.md", "Contact", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "## Contact\n\nana@example.com\n", readFile(t, n, "people/ana.md"))

	_, err = n.AppendSection(ctx, "people/ana.md", "Birthday", "June")
	require.NoError(t, err)
	assert.Equal(t, "## Contact\n\nana@example.com\n\n## Birthday\n\nJune\n", readFile(t, n, "people/ana.md"))
	assert.Equal(t, []string{"people/ana.md", "people/ana.md"}, s.paths)

	_, err = n.AppendSection(ctx, "people/ana.md", "  ", "x")
	assert.Error(t, err)
}

func TestReplaceSection(t *testing.T) {
	n, _ := newNotebook(t)
	ctx := context.Background()
	_, err := n.WriteFile(ctx, "p.md", "# Project\n\n## Status\n\nold\nstale\n\n### Detail\n\nnested\n\n## Next\n\nlater\n")
	require.NoError(t, err)

	_, err = n.ReplaceSection(ctx, "p.md", "Status", "green")
	require.NoError(t, err)
	assert.Equal(t, "# Project\n\n## Status\n\ngreen\n\n## Next\n\nlater\n", readFile(t, n, "p.md"))

	_, err = n.ReplaceSection(ctx, "p.md", "Next", "soon")
	require.NoError(t, err)
	assert.Equal(t, "# Project\n\n## Status\n\ngreen\n\n## Next\n\nsoon\n", readFile(t, n, "p.md"))
}

func TestReplaceSection_IgnoresHeadingsInCode(t *testing.T) {
	n, _ := newNotebook(t)
	ctx := context.Background()
	_, err := n.WriteFile(ctx, "c.md", "## Snippet\n\n```\n## Snippet\n```\n")
	require.NoError(t, err)
	_, err = n.ReplaceSection(ctx, "c.md", "Snippet", "gone")
	require.NoError(t, err)
	assert.Equal(t, "## Snippet\n\ngone\n", readFile(t, n, "c.md"))
}

func TestDailyLog(t *testing.T) {
	n, s := newNotebook(t)
	ctx := context.Background()
	res, err := n.DailyLog(ctx, "met with the team")
	require.NoError(t, err)
	assert.Equal(t, "daily/2024-05-01.md", res.Path)
	_, err = n.DailyLog(ctx, "shipped\nthe release")
	require.NoError(t, err)

	assert.Equal(t, "# 2024-05-01\n\n- 09:30 met with the team\n- 09:30 shipped\n  the release\n", readFile(t, n, res.Path))
	assert.Equal(t, []string{"daily/2024-05-01.md", "daily/2024-05-01.md"}, s.paths)

	_, err = n.DailyLog(ctx, "   ")
	assert.Error(t, err)
}

func TestRead(t *testing.T) {
	n, _ := newNotebook(t)
	ctx := context.Background()
	_, err := n.WriteFile(ctx, "r.md", "one\ntwo\nthree\nfour\n")
	require.NoError(t, err)

	ex, err := n.Read("r.md", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nfour", ex.Content)
	assert.Equal(t, 4, ex.TotalLines)

	ex, err = n.Read("r.md", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", ex.Content)
	assert.Equal(t, 2, ex.From)
	assert.Equal(t, 3, ex.To)

	ex, err = n.Read("r.md", 3, 99)
	require.NoError(t, err)
	assert.Equal(t, "three\nfour", ex.Content)

	_, err = n.Read("r.md", 9, 0)
	assert.True(t, errors.Is(err, models.ErrInvalidRange))
	_, err = n.Read("r.md", 3, 2)
	assert.True(t, errors.Is(err, models.ErrInvalidRange))
	_, err = n.Read("missing.md", 0, 0)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
