// Package embedding provides the embedding plugin capability, its implementations,
// the plugin registry and the health monitor.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// ONNXPluginID is the registry id of the local onnx plugin.
const ONNXPluginID = "onnx"

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -destination=mocks/mock_plugin.go -package=mocks github.com/hyperjump/kioku/internal/embedding Plugin

// Plugin converts text to L2-normalized vectors and reports its health.
// Embed and EmbedBatch must return an error, never zero vectors, when the provider is unreachable.
type Plugin interface {
	ID() string
	// Dimensions returns the vector length, or 0 while it is unknown.
	Dimensions() int
	// IsReady is a cheap probe called before every batch of work.
	IsReady(ctx context.Context) bool
	HealthCheck(ctx context.Context) models.PluginHealth
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Initialize(ctx context.Context) error
	Cleanup() error
}

// healthTracker keeps the last health state of a plugin and the time it last changed.
type healthTracker struct {
	mu    sync.Mutex
	state models.PluginHealth
	known bool
}

func (h *healthTracker) record(healthy bool, message, resolution string) models.PluginHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.known || h.state.Healthy != healthy {
		h.state.Since = time.Now()
		h.known = true
	}
	h.state.Healthy = healthy
	h.state.Message = message
	h.state.Resolution = resolution
	return h.state
}

func (h *healthTracker) healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.known || h.state.Healthy
}

// normalizeBatch converts provider output to normalized float32 vectors and checks the count.
func normalizeBatch(vectors [][]float32, want int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if !utils.NormalizeL2(v) {
			return nil, fmt.Errorf("embedding %d has no usable norm", i)
		}
	}
	return vectors, nil
}

// embedOne embeds a single text through EmbedBatch.
func embedOne(ctx context.Context, p Plugin, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
