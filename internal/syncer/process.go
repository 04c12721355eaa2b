package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
)

// passState holds the embedding plugin for one pass. Once an embedding call fails
// the plugin is treated as unavailable for the rest of the pass.
type passState struct {
	plugin embedding.Plugin
	down   bool
	tagged bool
}

func (s *Service) newPassState(ctx context.Context) *passState {
	plugin, ready := s.plugins.Ready(ctx)
	if !ready {
		return &passState{down: true}
	}
	return &passState{plugin: plugin}
}

func (p *passState) available() bool {
	return p.plugin != nil && !p.down
}

// syncPath brings one file's index entries up to date and reports the outcome.
//
// A file is skipped only when its record exists, the stored hash equals the
// current hash, and either every chunk already has a vector or no plugin can
// produce vectors right now. A matching hash with missing vectors and a working
// plugin is reprocessed; that is how an outage heals.
func (s *Service) syncPath(ctx context.Context, rel string, rec *models.FileRecord, state *passState) (string, error) {
	doc, err := s.indexer.Read(rel)
	if err != nil {
		return "", err
	}
	if rec != nil && rec.ContentHash == doc.Hash && (rec.IndexedWithEmbeddings || !state.available()) {
		return OutcomeSkipped, nil
	}

	chunks, err := s.indexer.Chunk(doc)
	if err != nil {
		return "", err
	}
	complete := s.embedChunks(ctx, rel, chunks, state)

	next := &models.FileRecord{
		Path:                  rel,
		ContentHash:           doc.Hash,
		ModTime:               doc.ModTime,
		Size:                  doc.Size,
		IndexedAt:             time.Now(),
		IndexedWithEmbeddings: complete,
	}
	oldIDs, err := s.storage.ReplaceFileChunks(ctx, next, chunks)
	if err != nil {
		return "", storageErr("replace chunks", err)
	}
	if err := s.keywordIndex.Replace(ctx, oldIDs, chunks); err != nil {
		// The rows are committed; clearing the hash makes the next sync redo the file.
		if invErr := s.storage.InvalidateFile(ctx, rel); invErr != nil {
			s.log().Error("invalidate file failed", zap.String("path", rel), zap.Error(invErr))
		}
		return "", storageErr("update keyword index", err)
	}
	if err := s.replaceVectors(ctx, oldIDs, chunks); err != nil {
		s.log().Warn("vector index update failed", zap.String("path", rel), zap.Error(err))
	}

	if !complete {
		s.log().Info("file indexed without embeddings", zap.String("path", rel), zap.Int("chunks", len(chunks)))
	}
	if rec == nil {
		return OutcomeAdded, nil
	}
	return OutcomeUpdated, nil
}

func (s *Service) replaceVectors(ctx context.Context, oldIDs []string, chunks []*models.Chunk) error {
	if err := s.vectorIndex.Remove(ctx, oldIDs); err != nil {
		return err
	}
	ids := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if c.HasVector() {
			ids = append(ids, c.ID)
			vecs = append(vecs, c.Vector)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.vectorIndex.Add(ctx, ids, vecs)
}

// embedChunks fills chunk vectors from the caches and the plugin. It reports
// whether every chunk ended up with a vector. Provider failures are logged and
// leave the remaining chunks without vectors.
func (s *Service) embedChunks(ctx context.Context, rel string, chunks []*models.Chunk, state *passState) bool {
	if len(chunks) == 0 {
		return true
	}
	if !state.available() {
		return false
	}
	pluginID := state.plugin.ID()
	if !state.tagged {
		if err := s.storage.SetMeta(ctx, VectorsPluginKey, pluginID); err != nil {
			s.log().Warn("record vectors plugin failed", zap.Error(err))
		}
		state.tagged = true
	}

	// Group chunks by hash so identical passages are embedded once.
	byHash := make(map[string][]*models.Chunk, len(chunks))
	var order []string
	for _, c := range chunks {
		if _, ok := byHash[c.Hash]; !ok {
			order = append(order, c.Hash)
		}
		byHash[c.Hash] = append(byHash[c.Hash], c)
	}
	assign := func(hash string, vec []float32) {
		for _, c := range byHash[hash] {
			c.Vector = vec
		}
	}

	var misses []string
	for _, h := range order {
		if s.cache != nil {
			if vec, ok := s.cache.Get(embedding.CacheKey(pluginID, h)); ok {
				assign(h, vec)
				continue
			}
		}
		misses = append(misses, h)
	}

	if len(misses) > 0 {
		stored, err := s.storage.GetCachedEmbeddings(ctx, pluginID, misses)
		if err != nil {
			s.log().Warn("embedding cache lookup failed", zap.Error(err))
			stored = nil
		}
		remaining := misses[:0]
		for _, h := range misses {
			if vec, ok := stored[h]; ok {
				assign(h, vec)
				s.remember(pluginID, h, vec)
				continue
			}
			remaining = append(remaining, h)
		}
		misses = remaining
	}

	fresh := make(map[string][]float32, len(misses))
	for start := 0; start < len(misses); start += s.batchSize {
		end := min(start+s.batchSize, len(misses))
		hashes := misses[start:end]
		texts := make([]string, len(hashes))
		for i, h := range hashes {
			texts[i] = byHash[h][0].Text
		}
		vecs, err := s.embedBatch(ctx, state.plugin, texts)
		if err != nil {
			state.down = true
			s.log().Warn("embedding failed; indexing without vectors",
				zap.String("path", rel), zap.String("plugin", pluginID), zap.Error(err))
			break
		}
		for i, h := range hashes {
			assign(h, vecs[i])
			s.remember(pluginID, h, vecs[i])
			fresh[h] = vecs[i]
		}
	}
	if len(fresh) > 0 {
		if err := s.storage.PutCachedEmbeddings(ctx, pluginID, fresh); err != nil {
			s.log().Warn("embedding cache write failed", zap.Error(err))
		}
	}

	for _, c := range chunks {
		if !c.HasVector() {
			return false
		}
	}
	return true
}

func (s *Service) embedBatch(ctx context.Context, plugin embedding.Plugin, texts []string) ([][]float32, error) {
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	vecs, err := plugin.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("plugin %s returned %d vectors for %d texts", plugin.ID(), len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("plugin %s returned an empty vector at %d", plugin.ID(), i)
		}
	}
	return vecs, nil
}

func (s *Service) remember(pluginID, hash string, vec []float32) {
	if s.cache != nil {
		s.cache.Set(embedding.CacheKey(pluginID, hash), vec)
	}
}
