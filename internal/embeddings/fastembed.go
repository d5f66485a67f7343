//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

const (
	defaultFastEmbedMaxLength = 512
	defaultFastEmbedBatch     = 256
)

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	// Model is a Hugging Face name such as BAAI/bge-small-en-v1.5 or a
	// fastembed model id such as fast-bge-small-en-v1.5.
	Model string
	// CacheDir holds downloaded model files, ./local_cache when empty.
	CacheDir  string
	MaxLength int
	// Dimension, when > 0, must equal the model's native dimension.
	Dimension int
	BatchSize int
}

// FastEmbedProvider embeds with a local ONNX model.
type FastEmbedProvider struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	dimension int
	batchSize int
}

// fastembedModels resolves both naming schemes to a fastembed model id.
// Dimensions come from knownModelDimensions.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	string(fastembed.BGESmallENV15):          fastembed.BGESmallENV15,
	string(fastembed.BGESmallEN):             fastembed.BGESmallEN,
	string(fastembed.BGEBaseENV15):           fastembed.BGEBaseENV15,
	string(fastembed.BGEBaseEN):              fastembed.BGEBaseEN,
	string(fastembed.BGESmallZH):             fastembed.BGESmallZH,
	string(fastembed.AllMiniLML6V2):          fastembed.AllMiniLML6V2,
}

// resolveFastEmbedModel returns the fastembed id and vector dimension of
// name, checking want against it when want > 0.
func resolveFastEmbedModel(name string, want int) (fastembed.EmbeddingModel, int, error) {
	model, ok := fastembedModels[name]
	if !ok {
		return "", 0, fmt.Errorf("%w: fastembed does not ship model %q", ErrInvalidConfig, name)
	}
	dim := knownModelDimensions[name]
	if want > 0 && want != dim {
		return "", 0, fmt.Errorf("%w: model %s produces %d dimensions, configured %d",
			ErrInvalidConfig, name, dim, want)
	}
	return model, dim, nil
}

// NewFastEmbedProvider loads the model, downloading it into CacheDir on
// first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	model, dim, err := resolveFastEmbedModel(cfg.Model, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(".", "local_cache")
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultFastEmbedMaxLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultFastEmbedBatch
	}

	quiet := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cfg.CacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading fastembed model %s: %v", ErrInvalidConfig, cfg.Model, err)
	}
	return &FastEmbedProvider{model: flag, dimension: dim, batchSize: cfg.BatchSize}, nil
}

// EmbedDocuments embeds texts as passages, one vector per text.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	vectors, err := p.model.PassageEmbed(texts, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds text with the model's query prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty query", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

func (p *FastEmbedProvider) Dimension() int { return p.dimension }

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
