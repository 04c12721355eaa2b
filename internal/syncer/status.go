package syncer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// LastSyncKey is the meta key holding the JSON summary of the last full sync.
const LastSyncKey = "last_sync"

// Status reports index counts, the active plugin and its health, and the last sync.
func (s *Service) Status(ctx context.Context) (*models.Status, error) {
	files, partial, err := s.storage.CountFiles(ctx)
	if err != nil {
		return nil, storageErr("count files", err)
	}
	chunks, embedded, err := s.storage.CountChunks(ctx)
	if err != nil {
		return nil, storageErr("count chunks", err)
	}
	st := &models.Status{
		Files:          int(files),
		PartialFiles:   int(partial),
		Chunks:         int(chunks),
		EmbeddedChunks: int(embedded),
		ActivePlugin:   s.plugins.ActiveID(),
		Syncing:        s.inFlight.Load() > 0,
	}
	if st.ActivePlugin != "" && s.health != nil {
		st.PluginHealth = s.health(st.ActivePlugin)
	}
	st.LastSync, err = s.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	if len(s.diskPaths) > 0 {
		n, err := storage.DiskUsageBytes(s.diskPaths...)
		if err != nil {
			s.log().Warn("disk usage unavailable", zap.Error(err))
		}
		st.DiskUsageBytes = n
	}
	return st, nil
}

// ListFiles returns the per-file index state. With partialOnly, only files that
// are missing embeddings are returned.
func (s *Service) ListFiles(ctx context.Context, partialOnly bool) ([]*models.FileRecord, error) {
	files, err := s.storage.ListFiles(ctx)
	if err != nil {
		return nil, storageErr("list files", err)
	}
	if !partialOnly {
		return files, nil
	}
	out := files[:0]
	for _, f := range files {
		if !f.IndexedWithEmbeddings {
			out = append(out, f)
		}
	}
	return out, nil
}

// LastSync returns the most recent full sync, including one from a previous run,
// or nil if none has completed.
func (s *Service) LastSync(ctx context.Context) (*models.LastSync, error) {
	s.stateMu.Lock()
	last := s.last
	s.stateMu.Unlock()
	if last != nil {
		return last, nil
	}
	raw, err := s.storage.GetMeta(ctx, LastSyncKey)
	if err != nil {
		return nil, storageErr("read last sync", err)
	}
	if raw == "" {
		return nil, nil
	}
	var stored models.LastSync
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.log().Warn("ignoring unreadable last sync record", zap.Error(err))
		return nil, nil
	}
	return &stored, nil
}

func (s *Service) recordLastSync(ctx context.Context, start time.Time, elapsed time.Duration, result *models.SyncResult) {
	last := &models.LastSync{At: start, DurationMS: elapsed.Milliseconds(), Result: *result}
	s.stateMu.Lock()
	s.last = last
	s.stateMu.Unlock()

	raw, err := json.Marshal(last)
	if err == nil {
		err = s.storage.SetMeta(ctx, LastSyncKey, string(raw))
	}
	if err != nil {
		s.log().Warn("persist last sync failed", zap.Error(err))
	}
}

// HasPartialFiles reports whether any file is indexed without embeddings.
func (s *Service) HasPartialFiles(ctx context.Context) (bool, error) {
	files, err := s.ListFiles(ctx, true)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}
