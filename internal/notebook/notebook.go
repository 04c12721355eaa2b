// Package notebook provides the write-side helpers used by the assistant layer:
// whole-file writes, section edits and the daily log. Every write is followed by a
// single-file sync so the index reflects the change immediately.
package notebook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
)

// FileSyncer re-indexes one notebook file after it was written.
type FileSyncer interface {
	SyncFile(ctx context.Context, path string) (*models.SyncResult, error)
}

// WriteResult reports the written file and the sync that followed.
type WriteResult struct {
	Path string             `json:"path"`
	Sync *models.SyncResult `json:"sync,omitempty"`
}

// Excerpt is a line range of a notebook file.
type Excerpt struct {
	Path       string `json:"path"`
	From       int    `json:"from"`
	To         int    `json:"to"`
	TotalLines int    `json:"total_lines"`
	Content    string `json:"content"`
}

// Notebook reads and writes files under the notebook root.
type Notebook struct {
	root        string
	dailyFolder string
	syncer      FileSyncer
	md          goldmark.Markdown
	logger      *zap.Logger
	now         func() time.Time

	// mu serializes read-modify-write cycles on files.
	mu sync.Mutex
}

// Option configures a Notebook.
type Option func(*Notebook)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *Notebook) { n.logger = l }
}

// WithClock overrides the time source used for daily log entries.
func WithClock(now func() time.Time) Option {
	return func(n *Notebook) { n.now = now }
}

// New creates a notebook rooted at root. syncer may be nil when no index is attached.
func New(root, dailyFolder string, syncer FileSyncer, opts ...Option) *Notebook {
	n := &Notebook{
		root:        root,
		dailyFolder: strings.Trim(filepath.ToSlash(dailyFolder), "/"),
		syncer:      syncer,
		md:          goldmark.New(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Root returns the notebook root directory.
func (n *Notebook) Root() string {
	return n.root
}

// Resolve validates a notebook-relative path and returns its cleaned relative and
// absolute forms. Paths that are absolute, escape the root, or touch hidden
// directories are rejected with ErrInvalidPath.
func (n *Notebook) Resolve(path string) (rel, abs string, err error) {
	p := strings.TrimSpace(filepath.ToSlash(path))
	if p == "" || strings.HasPrefix(p, "/") || filepath.IsAbs(path) || filepath.VolumeName(path) != "" {
		return "", "", fmt.Errorf("%w: %q", models.ErrInvalidPath, path)
	}
	rel = filepath.ToSlash(filepath.Clean(p))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("%w: %q", models.ErrInvalidPath, path)
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", "", fmt.Errorf("%w: %q", models.ErrInvalidPath, path)
		}
	}
	abs = fileid.AbsPath(n.root, rel)
	if err := n.checkSymlinks(abs); err != nil {
		return "", "", err
	}
	return rel, abs, nil
}

// checkSymlinks rejects paths whose existing parent resolves outside the root.
func (n *Notebook) checkSymlinks(abs string) error {
	root, err := filepath.EvalSymlinks(n.root)
	if err != nil {
		// A root that does not exist yet cannot contain links.
		return nil
	}
	dir := filepath.Dir(abs)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if _, relErr := fileid.RelPath(root, resolved); relErr != nil {
				return fmt.Errorf("%w: %s resolves outside the notebook", models.ErrInvalidPath, abs)
			}
			return nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func (n *Notebook) resolveText(path string) (string, string, error) {
	rel, abs, err := n.Resolve(path)
	if err != nil {
		return "", "", err
	}
	if !extract.IsText(filepath.Ext(rel)) {
		return "", "", fmt.Errorf("%w: %s is not a text file", models.ErrInvalidPath, rel)
	}
	return rel, abs, nil
}

// Read returns lines from through to (1-based, inclusive) of a text file. A zero
// from starts at the first line and a zero to runs to the last.
func (n *Notebook) Read(path string, from, to int) (*Excerpt, error) {
	rel, abs, err := n.resolveText(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	lines := splitLines(string(data))
	total := len(lines)
	if from < 0 || to < 0 || (to > 0 && to < from) {
		return nil, fmt.Errorf("%w: %d-%d", models.ErrInvalidRange, from, to)
	}
	if from == 0 {
		from = 1
	}
	if to == 0 || to > total {
		to = total
	}
	if total == 0 {
		return &Excerpt{Path: rel, From: 0, To: 0}, nil
	}
	if from > total {
		return nil, fmt.Errorf("%w: line %d of %d", models.ErrInvalidRange, from, total)
	}
	return &Excerpt{
		Path:       rel,
		From:       from,
		To:         to,
		TotalLines: total,
		Content:    strings.Join(lines[from-1:to], "\n"),
	}, nil
}

// WriteFile creates or overwrites a text file and syncs it.
func (n *Notebook) WriteFile(ctx context.Context, path, content string) (*WriteResult, error) {
	rel, abs, err := n.resolveText(path)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	err = writeAtomic(abs, []byte(content))
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return n.synced(ctx, rel)
}

// AppendSection adds text to the end of the section titled heading. The section is
// created at the end of the file, and the file itself, when missing.
func (n *Notebook) AppendSection(ctx context.Context, path, heading, text string) (*WriteResult, error) {
	return n.editSection(ctx, path, heading, func(body []string) []string {
		return append(trimBlankTail(body), strings.Split(strings.TrimRight(text, "\n"), "\n")...)
	})
}

// ReplaceSection swaps the body of the section titled heading for text, keeping the
// heading line. The section is created when missing.
func (n *Notebook) ReplaceSection(ctx context.Context, path, heading, text string) (*WriteResult, error) {
	return n.editSection(ctx, path, heading, func([]string) []string {
		return strings.Split(strings.TrimRight(text, "\n"), "\n")
	})
}

func (n *Notebook) editSection(ctx context.Context, path, heading string, edit func(body []string) []string) (*WriteResult, error) {
	heading = strings.TrimSpace(heading)
	if heading == "" {
		return nil, fmt.Errorf("section heading cannot be empty")
	}
	rel, abs, err := n.resolveText(path)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	data, err := os.ReadFile(abs)
	if err != nil && !os.IsNotExist(err) {
		n.mu.Unlock()
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	updated := n.applySection(data, heading, edit)
	err = writeAtomic(abs, []byte(updated))
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return n.synced(ctx, rel)
}

// DailyLog appends a timestamped bullet to today's file in the daily folder,
// creating it with a date heading when needed.
func (n *Notebook) DailyLog(ctx context.Context, text string) (*WriteResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("daily log entry cannot be empty")
	}
	now := n.now()
	day := now.Format("2006-01-02")
	rel := day + ".md"
	if n.dailyFolder != "" {
		rel = n.dailyFolder + "/" + rel
	}
	rel, abs, err := n.Resolve(rel)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	data, err := os.ReadFile(abs)
	if err != nil && !os.IsNotExist(err) {
		n.mu.Unlock()
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	var b strings.Builder
	if len(data) == 0 {
		b.WriteString("# " + day + "\n\n")
	} else {
		b.Write(data)
		if data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	entry := strings.ReplaceAll(text, "\n", "\n  ")
	fmt.Fprintf(&b, "- %s %s\n", now.Format("15:04"), entry)
	err = writeAtomic(abs, []byte(b.String()))
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return n.synced(ctx, rel)
}

// synced runs the follow-up sync. The write has already happened, so a sync failure
// is returned alongside the result.
func (n *Notebook) synced(ctx context.Context, rel string) (*WriteResult, error) {
	res := &WriteResult{Path: rel}
	if n.syncer == nil {
		return res, nil
	}
	result, err := n.syncer.SyncFile(ctx, rel)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("sync after write failed", zap.String("path", rel), zap.Error(err))
		}
		return res, fmt.Errorf("sync %s: %w", rel, err)
	}
	res.Sync = result
	return res, nil
}

func writeAtomic(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".kioku-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, 0644); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(name, abs); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func trimBlankTail(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
