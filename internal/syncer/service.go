// Package syncer reconciles the notebook folder with the index: it detects added,
// changed and removed files, re-chunks and re-embeds them, and repairs files that
// were indexed while the embedding plugin was unavailable.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// Sync outcomes reported per file to the Observer.
const (
	OutcomeAdded   = "added"
	OutcomeUpdated = "updated"
	OutcomeRemoved = "removed"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// PluginProvider is the slice of the plugin registry the sync service uses.
type PluginProvider interface {
	Ready(ctx context.Context) (embedding.Plugin, bool)
	ActiveID() string
	SetActive(ctx context.Context, id string) error
}

// Observer receives sync events, e.g. for metrics.
type Observer interface {
	FileSynced(outcome string)
	SyncCompleted(d time.Duration)
}

// errStorage marks failures of the index itself. They abort the current call.
var errStorage = errors.New("index storage failure")

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errStorage, op, err)
}

// Service is the only writer of the index.
type Service struct {
	indexer      *indexer.Indexer
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex
	vectorIndex  vector.VectorIndex
	plugins      PluginProvider
	cache        *embedding.EmbeddingCache
	logger       *zap.Logger
	observer     Observer
	health       func(id string) *models.PluginHealth
	diskPaths    []string
	batchSize    int
	embedTimeout time.Duration

	// mu serializes every mutation of the index.
	mu sync.Mutex

	stateMu  sync.Mutex
	running  bool
	next     *pendingSync
	inFlight atomic.Int32
	last     *models.LastSync
}

// pendingSync is a full sync requested while another was running. All callers
// that arrive during one pass share the single follow-up pass.
type pendingSync struct {
	done    chan struct{}
	waiters int
	result  *models.SyncResult
	err     error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver sets the sync event observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithEmbeddingCache sets the in-memory cache in front of the stored embedding cache.
func WithEmbeddingCache(c *embedding.EmbeddingCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithHealthSource sets where Status reads the active plugin's last known health.
func WithHealthSource(fn func(id string) *models.PluginHealth) Option {
	return func(s *Service) { s.health = fn }
}

// WithDiskPaths sets the files and directories summed for Status disk usage.
func WithDiskPaths(paths ...string) Option {
	return func(s *Service) { s.diskPaths = paths }
}

// WithEmbedTimeout bounds each embedding batch call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) { s.embedTimeout = d }
}

// WithBatchSize sets how many chunks go into one EmbedBatch call.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a sync service over the given index parts.
func NewService(
	ix *indexer.Indexer,
	store storage.Storage,
	keywordIndex keyword.KeywordIndex,
	vectorIndex vector.VectorIndex,
	plugins PluginProvider,
	opts ...Option,
) *Service {
	s := &Service{
		indexer:      ix,
		storage:      store,
		keywordIndex: keywordIndex,
		vectorIndex:  vectorIndex,
		plugins:      plugins,
		batchSize:    32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FullSync reconciles every file under the notebook root with the index.
// Per-file failures are collected in the result. Storage failures abort the pass
// and are returned. A call made while a pass is running waits for one follow-up
// pass shared with every other caller that arrived meanwhile.
func (s *Service) FullSync(ctx context.Context) (*models.SyncResult, error) {
	s.stateMu.Lock()
	if s.running {
		if s.next == nil {
			s.next = &pendingSync{done: make(chan struct{})}
		}
		p := s.next
		p.waiters++
		s.stateMu.Unlock()
		select {
		case <-p.done:
			return p.result, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.running = true
	s.stateMu.Unlock()

	result, err := s.fullSyncPass(ctx)
	// Follow-up passes serve other callers, so they outlive this caller's cancellation.
	followCtx := context.WithoutCancel(ctx)
	for {
		s.stateMu.Lock()
		p := s.next
		s.next = nil
		if p == nil {
			s.running = false
			s.stateMu.Unlock()
			break
		}
		s.stateMu.Unlock()
		s.log().Debug("running coalesced full sync", zap.Int("requests", p.waiters))
		p.result, p.err = s.fullSyncPass(followCtx)
		close(p.done)
	}
	return result, err
}

func (s *Service) fullSyncPass(ctx context.Context) (*models.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	start := time.Now()
	log := s.log().With(zap.String("sync_id", uuid.NewString()))
	log.Debug("full sync started")

	result := &models.SyncResult{}
	paths, err := s.indexer.Walk(ctx)
	if err != nil {
		return result, fmt.Errorf("list notebook files: %w", err)
	}
	records, err := s.storage.ListFiles(ctx)
	if err != nil {
		return result, storageErr("list files", err)
	}
	known := make(map[string]*models.FileRecord, len(records))
	for _, rec := range records {
		known[rec.Path] = rec
	}

	state := s.newPassState(ctx)
	onDisk := make(map[string]struct{}, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		onDisk[rel] = struct{}{}
		outcome, err := s.syncPath(ctx, rel, known[rel], state)
		if err != nil {
			if errors.Is(err, errStorage) {
				return result, err
			}
			log.Warn("file sync failed", zap.String("path", rel), zap.Error(err))
			result.AddError(rel, err)
			s.observe(OutcomeError)
			continue
		}
		s.count(result, outcome)
	}

	for _, rec := range records {
		if _, ok := onDisk[rec.Path]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.removeLocked(ctx, rec.Path); err != nil {
			return result, err
		}
		s.count(result, OutcomeRemoved)
	}

	if n, err := s.storage.PruneEmbeddingCache(ctx); err != nil {
		log.Warn("prune embedding cache failed", zap.Error(err))
	} else if n > 0 {
		log.Debug("pruned embedding cache", zap.Int64("entries", n))
	}

	elapsed := time.Since(start)
	s.recordLastSync(ctx, start, elapsed, result)
	if s.observer != nil {
		s.observer.SyncCompleted(elapsed)
	}
	log.Info("full sync finished",
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", elapsed))
	return result, nil
}

// SyncFile reconciles one file. path may be notebook-relative or absolute inside
// the root. A path that no longer exists on disk is removed from the index.
func (s *Service) SyncFile(ctx context.Context, path string) (*models.SyncResult, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	if !s.indexer.Allowed(rel) {
		return &models.SyncResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	result := &models.SyncResult{}
	rec, err := s.storage.GetFile(ctx, rel)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, storageErr("get file", err)
	}
	if errors.Is(err, models.ErrNotFound) {
		rec = nil
	}

	outcome, err := s.syncPath(ctx, rel, rec, s.newPassState(ctx))
	switch {
	case err == nil:
		s.count(result, outcome)
	case errors.Is(err, fs.ErrNotExist):
		if rec == nil {
			return result, nil
		}
		if err := s.removeLocked(ctx, rel); err != nil {
			return nil, err
		}
		s.count(result, OutcomeRemoved)
	case errors.Is(err, errStorage):
		return nil, err
	default:
		s.log().Warn("file sync failed", zap.String("path", rel), zap.Error(err))
		result.AddError(rel, err)
		s.observe(OutcomeError)
	}
	return result, nil
}

// RemoveFile drops a file and all its chunks from the index. Unknown paths are a no-op.
func (s *Service) RemoveFile(ctx context.Context, path string) (*models.SyncResult, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.SyncResult{}
	err = s.removeLocked(ctx, rel)
	if errors.Is(err, models.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	s.count(result, OutcomeRemoved)
	return result, nil
}

// removeLocked deletes a file record and cascades to both indexes. Caller holds mu.
func (s *Service) removeLocked(ctx context.Context, rel string) error {
	ids, err := s.storage.DeleteFile(ctx, rel)
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	if err != nil {
		return storageErr("delete file", err)
	}
	if err := s.keywordIndex.Delete(ctx, ids); err != nil {
		return storageErr("delete keyword entries", err)
	}
	if err := s.vectorIndex.Remove(ctx, ids); err != nil {
		return storageErr("delete vectors", err)
	}
	s.log().Debug("file removed from index", zap.String("path", rel), zap.Int("chunks", len(ids)))
	return nil
}

// relPath converts an absolute path inside the root to a notebook-relative one.
func (s *Service) relPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		rel := filepath.ToSlash(filepath.Clean(path))
		if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			return "", fmt.Errorf("%w: %s", models.ErrInvalidPath, path)
		}
		return rel, nil
	}
	rel, err := fileid.RelPath(s.indexer.Root(), path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidPath, err)
	}
	return rel, nil
}

func (s *Service) count(result *models.SyncResult, outcome string) {
	switch outcome {
	case OutcomeAdded:
		result.Added++
	case OutcomeUpdated:
		result.Updated++
	case OutcomeRemoved:
		result.Removed++
	case OutcomeSkipped:
		result.Skipped++
	}
	s.observe(outcome)
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.FileSynced(outcome)
	}
}

func (s *Service) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}
