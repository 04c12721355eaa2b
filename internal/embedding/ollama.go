package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// OllamaPluginID is the registry id of the ollama plugin.
const OllamaPluginID = "ollama"

const ollamaProbeTimeout = 2 * time.Second

// OllamaPlugin calls the Ollama /api/embed endpoint.
type OllamaPlugin struct {
	baseURL    string
	model      string
	client     *http.Client
	dimensions atomic.Int64
	health     healthTracker
}

// NewOllamaPlugin creates a plugin targeting the given Ollama instance.
// timeout bounds every embedding request.
func NewOllamaPlugin(baseURL, model string, timeout time.Duration) *OllamaPlugin {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaPlugin{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OllamaPlugin) ID() string { return OllamaPluginID }

// Dimensions returns the vector length seen in the last response, or 0 before the first one.
func (p *OllamaPlugin) Dimensions() int { return int(p.dimensions.Load()) }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsReady checks that the server answers /api/version within a short timeout.
func (p *OllamaPlugin) IsReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// HealthCheck verifies the server is reachable and the model is pulled.
func (p *OllamaPlugin) HealthCheck(ctx context.Context) models.PluginHealth {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return p.health.record(false, err.Error(), "check embedding.ollama.url")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return p.health.record(false, fmt.Sprintf("ollama unreachable at %s: %v", p.baseURL, err), "start ollama with `ollama serve`")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.health.record(false, fmt.Sprintf("ollama returned %d", resp.StatusCode), "check the ollama server logs")
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return p.health.record(false, fmt.Sprintf("decode tags: %v", err), "check embedding.ollama.url points at ollama")
	}
	for _, m := range tags.Models {
		if m.Name == p.model || m.Name == p.model+":latest" {
			return p.health.record(true, "model "+p.model+" available", "")
		}
	}
	return p.health.record(false, "model "+p.model+" not found", "run `ollama pull "+p.model+"`")
}

// Embed embeds a single text.
func (p *OllamaPlugin) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

// EmbedBatch sends a batch of texts to Ollama and returns their normalized embeddings
// in input order.
func (p *OllamaPlugin) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w: %w", models.ErrPluginUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	vectors, err := normalizeBatch(result.Embeddings, len(texts))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	p.dimensions.Store(int64(len(vectors[0])))
	return vectors, nil
}

// Initialize validates the configuration. An unreachable server is a transient state
// reported by IsReady, not an initialization failure.
func (p *OllamaPlugin) Initialize(_ context.Context) error {
	if p.baseURL == "" || p.model == "" {
		return fmt.Errorf("ollama plugin requires url and model")
	}
	return nil
}

// Cleanup releases idle connections.
func (p *OllamaPlugin) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}
