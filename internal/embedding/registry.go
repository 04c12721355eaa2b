package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// ActivePluginKey is the meta key holding the persisted active plugin id.
const ActivePluginKey = "active_plugin"

// NoPlugin is persisted when embeddings were turned off, so a configured fallback
// does not re-enable them on the next start.
const NoPlugin = "none"

// MetaStore persists small key/value settings. Get returns "" for a missing key.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Registry holds the known plugins and the active one.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	active  Plugin
	store   MetaStore
	logger  *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a logger for activation events.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry persisting the active id in store.
// store may be nil, in which case the choice is kept in memory only.
func NewRegistry(store MetaStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		plugins: make(map[string]Plugin),
		store:   store,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a plugin. Returns ErrDuplicatePlugin if the id is taken.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicatePlugin, id)
	}
	r.plugins[id] = p
	r.order = append(r.order, id)
	return nil
}

// Get returns the plugin registered under id.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// List returns the registered plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id])
	}
	return out
}

// GetActive returns the active plugin, or nil when none is configured or it failed to initialize.
func (r *Registry) GetActive() Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ActiveID returns the active plugin id, or "" when none is active.
func (r *Registry) ActiveID() string {
	if p := r.GetActive(); p != nil {
		return p.ID()
	}
	return ""
}

// Ready reports whether an active plugin exists and answers its readiness probe.
func (r *Registry) Ready(ctx context.Context) (Plugin, bool) {
	p := r.GetActive()
	if p == nil {
		return nil, false
	}
	return p, p.IsReady(ctx)
}

// SetActive initializes the plugin id, releases the previous one and persists the choice.
// An empty id deactivates embeddings. If initialization fails the previous plugin stays active.
func (r *Registry) SetActive(ctx context.Context, id string) error {
	var next Plugin
	if id != "" {
		p, ok := r.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrPluginNotFound, id)
		}
		if err := p.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize plugin %s: %w", id, err)
		}
		next = p
	}

	r.mu.Lock()
	prev := r.active
	r.active = next
	r.mu.Unlock()

	if prev != nil && prev != next {
		if err := prev.Cleanup(); err != nil && r.logger != nil {
			r.logger.Warn("plugin cleanup failed", zap.String("plugin", prev.ID()), zap.Error(err))
		}
	}
	if r.store != nil {
		persisted := id
		if persisted == "" {
			persisted = NoPlugin
		}
		if err := r.store.SetMeta(ctx, ActivePluginKey, persisted); err != nil {
			return fmt.Errorf("persist active plugin: %w", err)
		}
	}
	if r.logger != nil {
		r.logger.Info("active plugin changed", zap.String("plugin", id))
	}
	return nil
}

// Load activates the persisted plugin, or fallback when nothing was persisted.
// A missing or failing plugin leaves the registry with no active plugin; only a storage
// failure is returned.
func (r *Registry) Load(ctx context.Context, fallback string) error {
	id := ""
	if r.store != nil {
		v, err := r.store.GetMeta(ctx, ActivePluginKey)
		if err != nil {
			return fmt.Errorf("load active plugin: %w", err)
		}
		id = v
	}
	if id == "" {
		id = fallback
	}
	if id == "" || id == NoPlugin {
		return nil
	}
	p, ok := r.Get(id)
	if !ok {
		if r.logger != nil {
			r.logger.Warn("configured plugin is not registered", zap.String("plugin", id))
		}
		return nil
	}
	if err := p.Initialize(ctx); err != nil {
		if r.logger != nil {
			r.logger.Warn("plugin failed to initialize; continuing without embeddings",
				zap.String("plugin", id), zap.Error(err))
		}
		return nil
	}
	r.mu.Lock()
	r.active = p
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Info("plugin activated", zap.String("plugin", id))
	}
	return nil
}

// Describe lists the registered plugins in registration order. Readiness is only
// probed for the active plugin, since inactive ones are not initialized. health
// supplies the last known health per id and may be nil.
func (r *Registry) Describe(ctx context.Context, health func(id string) (models.PluginHealth, bool)) []models.PluginInfo {
	active := r.GetActive()
	plugins := r.List()
	out := make([]models.PluginInfo, 0, len(plugins))
	for _, p := range plugins {
		info := models.PluginInfo{ID: p.ID(), Active: p == active}
		if info.Active {
			info.Ready = p.IsReady(ctx)
			info.Dimensions = p.Dimensions()
		}
		if health != nil {
			if h, ok := health(p.ID()); ok {
				info.Health = &h
			}
		}
		out = append(out, info)
	}
	return out
}

// Close releases the active plugin.
func (r *Registry) Close() error {
	r.mu.Lock()
	p := r.active
	r.active = nil
	r.mu.Unlock()
	if p != nil {
		return p.Cleanup()
	}
	return nil
}
