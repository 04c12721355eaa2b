//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXPlugin runs a local sentence-embedding model with ONNX Runtime. It requires CGO and
// the onnxruntime shared library.
type ONNXPlugin struct {
	modelPath  string
	vocabPath  string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	health     healthTracker

	mu      sync.Mutex
	session *ort.AdvancedSession
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
}

// NewONNXPlugin returns an uninitialized plugin for the model at modelPath. vocabPath
// defaults to vocab.txt next to the model.
func NewONNXPlugin(modelPath, vocabPath string, dimensions, maxTokens int) *ONNXPlugin {
	return &ONNXPlugin{
		modelPath:  modelPath,
		vocabPath:  vocabPath,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &SimpleTokenizer{},
	}
}

// loadVocabLocked swaps in the model's WordPiece vocabulary. A missing default
// vocab.txt keeps the hash tokenizer; a missing configured one is an error.
func (p *ONNXPlugin) loadVocabLocked() error {
	path := p.vocabPath
	if path == "" {
		path = filepath.Join(filepath.Dir(p.modelPath), "vocab.txt")
	}
	tok, err := LoadWordPieceVocab(path)
	if err != nil {
		if p.vocabPath != "" {
			return fmt.Errorf("load vocab: %w", err)
		}
		return nil
	}
	p.tokenizer = tok
	return nil
}

func (p *ONNXPlugin) ID() string { return ONNXPluginID }

// Dimensions returns the embedding dimension.
func (p *ONNXPlugin) Dimensions() int { return p.dimensions }

// IsReady reports whether the session is loaded.
func (p *ONNXPlugin) IsReady(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// HealthCheck reports whether the model is loaded.
func (p *ONNXPlugin) HealthCheck(ctx context.Context) models.PluginHealth {
	if p.IsReady(ctx) {
		return p.health.record(true, "model loaded from "+p.modelPath, "")
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return p.health.record(false, "model file missing: "+p.modelPath, "download the model or set embedding.onnx.model_path")
	}
	return p.health.record(false, "model not loaded", "activate the onnx plugin again")
}

// Initialize loads the ONNX environment, tensors and session.
func (p *ONNXPlugin) Initialize(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return nil
	}
	if p.dimensions <= 0 || p.maxTokens <= 0 {
		return errors.New("onnx plugin requires dimensions and max_tokens")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	if err := p.loadVocabLocked(); err != nil {
		return err
	}

	inputIDs, attentionMask, tokenTypeIDs := p.tokenizer.Tokenize("", p.maxTokens)
	shape := ort.NewShape(1, int64(p.maxTokens))

	var err error
	if p.inputIDsTensor, err = ort.NewTensor(shape, inputIDs); err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if p.attentionMaskTensor, err = ort.NewTensor(shape, attentionMask); err != nil {
		p.destroyLocked()
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if p.tokenTypeIDsTensor, err = ort.NewTensor(shape, tokenTypeIDs); err != nil {
		p.destroyLocked()
		return fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if p.outputTensor, err = ort.NewTensor(ort.NewShape(1, int64(p.dimensions)), make([]float32, p.dimensions)); err != nil {
		p.destroyLocked()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		p.modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{p.inputIDsTensor, p.attentionMaskTensor, p.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{p.outputTensor},
		nil,
	)
	if err != nil {
		p.destroyLocked()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	p.session = session
	return nil
}

// Embed runs the model on text.
func (p *ONNXPlugin) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, fmt.Errorf("onnx plugin: %w", models.ErrPluginUnavailable)
	}

	inputIDs, attentionMask, tokenTypeIDs := p.tokenizer.Tokenize(text, p.maxTokens)
	copy(p.inputIDsTensor.GetData(), inputIDs)
	copy(p.attentionMaskTensor.GetData(), attentionMask)
	copy(p.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, p.dimensions)
	copy(embedding, p.outputTensor.GetData()[:p.dimensions])
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text.
func (p *ONNXPlugin) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

// Cleanup destroys the session and tensors.
func (p *ONNXPlugin) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyLocked()
}

func (p *ONNXPlugin) destroyLocked() error {
	var err error
	if p.session != nil {
		err = p.session.Destroy()
		p.session = nil
	}
	if p.inputIDsTensor != nil {
		_ = p.inputIDsTensor.Destroy()
		p.inputIDsTensor = nil
	}
	if p.attentionMaskTensor != nil {
		_ = p.attentionMaskTensor.Destroy()
		p.attentionMaskTensor = nil
	}
	if p.tokenTypeIDsTensor != nil {
		_ = p.tokenTypeIDsTensor.Destroy()
		p.tokenTypeIDsTensor = nil
	}
	if p.outputTensor != nil {
		_ = p.outputTensor.Destroy()
		p.outputTensor = nil
	}
	return err
}
