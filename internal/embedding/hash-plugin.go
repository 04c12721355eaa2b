package embedding

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// HashPluginID is the registry id of the hash plugin.
const HashPluginID = "hash"

// HashPlugin is a deterministic, offline plugin. Each word is hashed into a bucket of the
// vector so texts sharing words get similar vectors. Readiness can be toggled to simulate
// a provider outage.
type HashPlugin struct {
	dimensions int
	ready      atomic.Bool
	health     healthTracker
}

// NewHashPlugin returns a ready plugin that produces vectors of the given dimensions.
func NewHashPlugin(dimensions int) *HashPlugin {
	if dimensions <= 0 {
		dimensions = 384
	}
	p := &HashPlugin{dimensions: dimensions}
	p.ready.Store(true)
	return p
}

// SetReady marks the plugin available or unavailable.
func (p *HashPlugin) SetReady(ready bool) {
	p.ready.Store(ready)
}

func (p *HashPlugin) ID() string { return HashPluginID }

// Dimensions returns the embedding dimension.
func (p *HashPlugin) Dimensions() int { return p.dimensions }

// IsReady reports whether the plugin is marked available.
func (p *HashPlugin) IsReady(_ context.Context) bool { return p.ready.Load() }

// HealthCheck reports the readiness flag as health.
func (p *HashPlugin) HealthCheck(_ context.Context) models.PluginHealth {
	if p.ready.Load() {
		return p.health.record(true, "hash embeddings available", "")
	}
	return p.health.record(false, "hash plugin disabled", "activate the plugin again or choose another plugin")
}

// Embed returns a deterministic embedding based on the words of text.
func (p *HashPlugin) Embed(ctx context.Context, text string) ([]float32, error) {
	if !p.ready.Load() {
		return nil, fmt.Errorf("hash plugin: %w", models.ErrPluginUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, p.dimensions)
	words := SplitWords(text)
	for _, w := range words {
		h := HashString(w)
		sign := float32(1)
		if (h/p.dimensions)%2 == 1 {
			sign = -1
		}
		emb[h%p.dimensions] += sign
	}
	if len(words) == 0 {
		h := HashString(text)
		for i := 0; i < p.dimensions; i++ {
			emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (p *HashPlugin) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Initialize marks the plugin ready.
func (p *HashPlugin) Initialize(_ context.Context) error {
	p.ready.Store(true)
	return nil
}

// Cleanup marks the plugin unavailable.
func (p *HashPlugin) Cleanup() error {
	p.ready.Store(false)
	return nil
}
