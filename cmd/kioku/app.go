package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/syncer"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/watcher"
)

// hashDimensions is the vector size of the built-in hash plugin.
const hashDimensions = 256

// app holds the initialized services.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.SQLiteStorage
	keyword  *keyword.BleveIndex
	vectors  *vector.MemoryIndex
	registry *embedding.Registry
	monitor  *embedding.Monitor
	metrics  *metrics.Metrics
	indexer  *indexer.Indexer
	sync     *syncer.Service
	engine   *search.Engine
	notebook *notebook.Notebook
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	a.keyword = kw

	// Dimension 0 adopts whatever the active plugin produces.
	vec, err := vector.NewMemoryIndex(0)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	a.vectors = vec

	a.registry = embedding.NewRegistry(store, embedding.WithRegistryLogger(logger))
	if err := registerPlugins(a.registry, &cfg.Embedding); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.registry.Load(ctx, cfg.Embedding.Plugin); err != nil {
		a.Close()
		return nil, err
	}

	a.metrics = metrics.NewMetrics()
	a.monitor = embedding.NewMonitor(a.registry, cfg.Embedding.HealthInterval, a.recoverSync,
		embedding.WithMonitorLogger(logger),
		embedding.WithHealthObserver(a.metrics.PluginHealth),
		embedding.WithPendingWork(a.hasPartialFiles),
	)

	idxOpts := []indexer.IndexerOption{}
	if cfg.Debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	a.indexer = indexer.NewIndexer(
		cfg.Notebook.Root,
		cfg.Notebook.Extensions,
		indexer.NewChunker(cfg.Chunking.TargetSize, cfg.Chunking.Overlap),
		extract.NewExtractor(),
		idxOpts...,
	)

	diskPaths := append(storage.DatabaseFiles(cfg.Storage.DatabasePath), cfg.Storage.BleveIndexPath)
	a.sync = syncer.NewService(a.indexer, store, kw, vec, a.registry,
		syncer.WithLogger(logger),
		syncer.WithObserver(a.metrics),
		syncer.WithEmbeddingCache(embedding.NewEmbeddingCache(cfg.Embedding.CacheSize)),
		syncer.WithHealthSource(a.pluginHealth),
		syncer.WithDiskPaths(diskPaths...),
		syncer.WithEmbedTimeout(time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second),
	)
	if err := a.sync.Hydrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	a.engine = search.NewEngine(store, a.registry, vec, kw, &cfg.Search, cfg.Notebook.DailyFolder,
		search.WithLogger(logger),
		search.WithObserver(a.metrics.RecallCompleted),
	)
	a.notebook = notebook.New(cfg.Notebook.Root, cfg.Notebook.DailyFolder, a.sync, notebook.WithLogger(logger))
	return a, nil
}

// registerPlugins registers every known provider. Only the active one is initialized.
func registerPlugins(r *embedding.Registry, cfg *config.EmbeddingConfig) error {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	for _, p := range []embedding.Plugin{
		embedding.NewHashPlugin(hashDimensions),
		embedding.NewOllamaPlugin(cfg.Ollama.URL, cfg.Ollama.Model, timeout),
		embedding.NewOpenAIPlugin(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model),
		embedding.NewONNXPlugin(cfg.ONNX.ModelPath, cfg.ONNX.VocabPath, cfg.ONNX.Dimensions, cfg.ONNX.MaxTokens),
	} {
		if err := r.Register(p); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.ID(), err)
		}
	}
	return nil
}

// recoverSync runs a full sync once the active plugin is healthy again, so files indexed
// without embeddings get their vectors.
func (a *app) recoverSync(ctx context.Context) {
	res, err := a.sync.FullSync(ctx)
	if err != nil {
		a.logger.Error("recovery sync failed", zap.Error(err))
		return
	}
	a.logger.Info("recovery sync done", zap.Int("added", res.Added), zap.Int("updated", res.Updated),
		zap.Int("errors", len(res.Errors)))
}

// hasPartialFiles lets the monitor retry files whose embedding failed while probes stayed healthy.
func (a *app) hasPartialFiles(ctx context.Context) bool {
	partial, err := a.sync.HasPartialFiles(ctx)
	if err != nil {
		a.logger.Warn("check partial files", zap.Error(err))
		return false
	}
	return partial
}

func (a *app) pluginHealth(id string) *models.PluginHealth {
	h, ok := a.monitor.Health(id)
	if !ok {
		return nil
	}
	return &h
}

// newWatcher returns a notebook watcher, or nil when watching is disabled.
func (a *app) newWatcher() *watcher.Watcher {
	if !a.cfg.Watch.EnabledOrDefault() {
		return nil
	}
	return watcher.NewWatcher(a.cfg.Notebook.Root, a.indexer.Allowed, a.sync,
		watcher.WithLogger(a.logger),
		watcher.WithDebounce(time.Duration(a.cfg.Watch.DebounceMS)*time.Millisecond),
	)
}

// startBackground starts the health monitor, the watcher and an initial full sync.
// The returned function stops them.
func (a *app) startBackground(ctx context.Context) (func(), error) {
	if err := a.monitor.Start(ctx); err != nil {
		return nil, fmt.Errorf("start health monitor: %w", err)
	}
	w := a.newWatcher()
	if w != nil {
		if err := w.Start(ctx); err != nil {
			a.monitor.Stop()
			return nil, fmt.Errorf("start watcher: %w", err)
		}
	}
	go func() {
		res, err := a.sync.FullSync(ctx)
		if err != nil {
			a.logger.Error("initial sync failed", zap.Error(err))
			return
		}
		a.logger.Info("initial sync done",
			zap.Int("added", res.Added), zap.Int("updated", res.Updated),
			zap.Int("removed", res.Removed), zap.Int("skipped", res.Skipped),
			zap.Int("errors", len(res.Errors)))
	}()
	return func() {
		if w != nil {
			w.Stop()
		}
		a.monitor.Stop()
	}, nil
}

// Close releases plugin, index and storage resources.
func (a *app) Close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.keyword != nil {
		_ = a.keyword.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
