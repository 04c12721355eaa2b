package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

// VectorsPluginKey is the meta key naming the plugin that produced the stored vectors.
const VectorsPluginKey = "vectors_plugin"

const rebuildBatchSize = 500

// Hydrate prepares the in-memory parts of the index at startup: it drops vectors
// left by a different plugin, loads stored vectors into the vector index, and
// rebuilds the keyword index from storage when their chunk counts disagree.
func (s *Service) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.plugins.ActiveID()
	produced, err := s.storage.GetMeta(ctx, VectorsPluginKey)
	if err != nil {
		return storageErr("read vectors plugin", err)
	}
	if active != "" && produced != "" && produced != active {
		s.log().Info("stored vectors come from another plugin; re-embedding on next sync",
			zap.String("stored", produced), zap.String("active", active))
		if err := s.resetEmbeddingsLocked(ctx); err != nil {
			return err
		}
	}

	if err := s.loadVectorsLocked(ctx); err != nil {
		return err
	}
	return s.reconcileKeywordLocked(ctx)
}

func (s *Service) loadVectorsLocked(ctx context.Context) error {
	s.vectorIndex.Reset()
	var (
		ids     []string
		vecs    [][]float32
		loaded  int
		dropped int
	)
	flush := func() {
		if len(ids) == 0 {
			return
		}
		// Fall back to one by one so a stray dimension only costs its own chunk.
		if err := s.vectorIndex.Add(ctx, ids, vecs); err != nil {
			for i := range ids {
				if err := s.vectorIndex.Add(ctx, ids[i:i+1], vecs[i:i+1]); err != nil {
					dropped++
					continue
				}
				loaded++
			}
		} else {
			loaded += len(ids)
		}
		ids, vecs = ids[:0], vecs[:0]
	}
	err := s.storage.ForEachChunk(ctx, func(c *models.Chunk) error {
		if !c.HasVector() {
			return nil
		}
		ids = append(ids, c.ID)
		vecs = append(vecs, c.Vector)
		if len(ids) == rebuildBatchSize {
			flush()
		}
		return nil
	})
	if err != nil {
		return storageErr("load vectors", err)
	}
	flush()
	if dropped > 0 {
		s.log().Warn("skipped stored vectors with a mismatched dimension", zap.Int("count", dropped))
	}
	s.log().Debug("vector index loaded", zap.Int("vectors", loaded))
	return nil
}

// reconcileKeywordLocked rebuilds the keyword index from stored chunks when the
// two disagree, e.g. after a crash between the storage commit and the index write.
func (s *Service) reconcileKeywordLocked(ctx context.Context) error {
	indexed, err := s.keywordIndex.DocCount()
	if err != nil {
		return storageErr("count keyword documents", err)
	}
	stored, _, err := s.storage.CountChunks(ctx)
	if err != nil {
		return storageErr("count chunks", err)
	}
	if int64(indexed) == stored {
		return nil
	}
	s.log().Info("keyword index out of date; rebuilding",
		zap.Uint64("indexed", indexed), zap.Int64("stored", stored))
	if err := s.keywordIndex.Reset(); err != nil {
		return storageErr("reset keyword index", err)
	}
	batch := make([]*models.Chunk, 0, rebuildBatchSize)
	err = s.storage.ForEachChunk(ctx, func(c *models.Chunk) error {
		batch = append(batch, c)
		if len(batch) < rebuildBatchSize {
			return nil
		}
		err := s.keywordIndex.Replace(ctx, nil, batch)
		batch = batch[:0]
		return err
	})
	if err == nil && len(batch) > 0 {
		err = s.keywordIndex.Replace(ctx, nil, batch)
	}
	if err != nil {
		return storageErr("rebuild keyword index", err)
	}
	return nil
}

// ResetEmbeddings drops every stored vector and marks all files as missing
// embeddings so the next full sync re-embeds them.
func (s *Service) ResetEmbeddings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetEmbeddingsLocked(ctx)
}

func (s *Service) resetEmbeddingsLocked(ctx context.Context) error {
	if err := s.storage.ResetEmbeddings(ctx); err != nil {
		return storageErr("reset embeddings", err)
	}
	if err := s.storage.SetMeta(ctx, VectorsPluginKey, ""); err != nil {
		return storageErr("clear vectors plugin", err)
	}
	s.vectorIndex.Reset()
	return nil
}

// SwitchPlugin activates another embedding plugin, discards vectors from the
// previous one and runs a full sync. An empty id switches embeddings off.
func (s *Service) SwitchPlugin(ctx context.Context, id string) (*models.SyncResult, error) {
	if id == s.plugins.ActiveID() {
		return s.FullSync(ctx)
	}
	if err := s.plugins.SetActive(ctx, id); err != nil {
		return nil, fmt.Errorf("activate plugin: %w", err)
	}
	if err := s.ResetEmbeddings(ctx); err != nil {
		return nil, err
	}
	return s.FullSync(ctx)
}
