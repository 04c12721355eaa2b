package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIPluginID is the registry id of the openai plugin.
const OpenAIPluginID = "openai"

// OpenAIPlugin uses the OpenAI embeddings API, or any compatible endpoint set through baseURL.
type OpenAIPlugin struct {
	apiKey      string
	baseURL     string
	model       string
	client      openai.Client
	initialized atomic.Bool
	dimensions  atomic.Int64
	health      healthTracker
}

// NewOpenAIPlugin creates an OpenAI plugin. baseURL may be empty for the public API.
func NewOpenAIPlugin(apiKey, baseURL, model string) *OpenAIPlugin {
	return &OpenAIPlugin{apiKey: apiKey, baseURL: baseURL, model: model}
}

func (p *OpenAIPlugin) ID() string { return OpenAIPluginID }

// Dimensions returns the vector length seen in the last response, or 0 before the first one.
func (p *OpenAIPlugin) Dimensions() int { return int(p.dimensions.Load()) }

// IsReady returns the outcome of the most recent request. Remote calls are metered, so the
// probe does not call the API; HealthCheck does.
func (p *OpenAIPlugin) IsReady(_ context.Context) bool {
	return p.initialized.Load() && p.health.healthy()
}

// HealthCheck embeds a short probe text.
func (p *OpenAIPlugin) HealthCheck(ctx context.Context) models.PluginHealth {
	if !p.initialized.Load() {
		return p.health.record(false, "openai plugin not initialized", "set OPENAI_API_KEY and activate the plugin")
	}
	if _, err := p.request(ctx, []string{"health check"}); err != nil {
		return p.health.record(false, err.Error(), resolutionFor(err))
	}
	return p.health.record(true, "model "+p.model+" available", "")
}

// Embed embeds a single text.
func (p *OpenAIPlugin) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

// EmbedBatch returns normalized embeddings in input order. A failed request marks the
// plugin unhealthy until the next successful request or health check.
func (p *OpenAIPlugin) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !p.initialized.Load() {
		return nil, fmt.Errorf("openai plugin: %w", models.ErrPluginUnavailable)
	}
	vectors, err := p.request(ctx, texts)
	if err != nil {
		p.health.record(false, err.Error(), resolutionFor(err))
		return nil, err
	}
	p.health.record(true, "model "+p.model+" available", "")
	return vectors, nil
}

func (p *OpenAIPlugin) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		vectors[d.Index] = v
	}
	vectors, err = normalizeBatch(vectors, len(texts))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	p.dimensions.Store(int64(len(vectors[0])))
	return vectors, nil
}

func resolutionFor(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return "check OPENAI_API_KEY"
		case 404:
			return "check embedding.openai.model"
		case 429:
			return "rate limited; wait or raise the quota"
		}
	}
	return "check network access to the embeddings endpoint"
}

// Initialize builds the API client. A missing key is a configuration error.
func (p *OpenAIPlugin) Initialize(_ context.Context) error {
	if p.apiKey == "" {
		return errors.New("openai plugin requires OPENAI_API_KEY")
	}
	if p.model == "" {
		return errors.New("openai plugin requires a model")
	}
	opts := []option.RequestOption{option.WithAPIKey(p.apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	p.client = openai.NewClient(opts...)
	p.initialized.Store(true)
	return nil
}

// Cleanup marks the plugin uninitialized.
func (p *OpenAIPlugin) Cleanup() error {
	p.initialized.Store(false)
	return nil
}
