//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
)

var errONNXRequiresCGO = errors.New("onnx plugin requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXPlugin stub type when built without CGO (see onnx.go for the real implementation).
type ONNXPlugin struct {
	dimensions int
	health     healthTracker
}

// NewONNXPlugin returns a plugin whose Initialize always fails.
func NewONNXPlugin(_, _ string, dimensions, _ int) *ONNXPlugin {
	return &ONNXPlugin{dimensions: dimensions}
}

func (p *ONNXPlugin) ID() string                     { return ONNXPluginID }
func (p *ONNXPlugin) Dimensions() int                { return p.dimensions }
func (p *ONNXPlugin) IsReady(_ context.Context) bool { return false }
func (p *ONNXPlugin) Initialize(_ context.Context) error {
	return errONNXRequiresCGO
}
func (p *ONNXPlugin) Cleanup() error { return nil }

func (p *ONNXPlugin) HealthCheck(_ context.Context) models.PluginHealth {
	return p.health.record(false, errONNXRequiresCGO.Error(), "rebuild with CGO_ENABLED=1")
}

func (p *ONNXPlugin) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errONNXRequiresCGO
}

func (p *ONNXPlugin) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, errONNXRequiresCGO
}
