package rag

import (
	"context"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
)

const embedTimeout = 60 * time.Second

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string // optional, OpenAI-compatible
	Model      string // default text-embedding-3-small
	Dimensions int    // default 1536
	CacheSize  int    // LRU entries, default 10000
}

// Embedder produces fixed-dimension unit-norm float32 vectors.
// Empty input returns empty output without touching the backend; failures
// are surfaced to the caller, never silently substituted.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

type openaiEmbedder struct {
	cfg   EmbedderConfig
	api   *openai.Client
	cache *lru.Cache[string, []float32]
}

// NewEmbedder creates the shared embedding client.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &openaiEmbedder{
		cfg:   cfg,
		api:   openai.NewClientWithConfig(apiCfg),
		cache: cache,
	}, nil
}

func (e *openaiEmbedder) Dimensions() int { return e.cfg.Dimensions }

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if cached, ok := e.cache.Get(t); ok {
			results[i] = cached
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	// Three attempts with exponential backoff; the final error is surfaced.
	var vecs [][]float32
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		vecs, err = e.callAPI(ctx, missTexts)
		if err == nil {
			break
		}
		if attempt < 2 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embed batch after retries: %w", err)
	}

	for i, idx := range missIdx {
		e.cache.Add(texts[idx], vecs[i])
		results[idx] = vecs[i]
	}
	return results, nil
}

func (e *openaiEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Input:      texts,
		Dimensions: e.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embeddings response: invalid index %d", item.Index)
		}
		out[item.Index] = Normalize(item.Embedding)
	}
	return out, nil
}

// Normalize scales a vector to unit L2 norm. Cosine similarity is only
// meaningful over unit vectors, so every stored or averaged vector passes
// through here.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// AverageVectors produces a similarity-preserving single vector from several:
// component-wise mean followed by L2 normalization to unit length.
func AverageVectors(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	if len(vecs) == 1 {
		return Normalize(vecs[0])
	}
	dim := len(vecs[0])
	acc := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += float64(v[i])
		}
	}
	mean := make([]float32, dim)
	n := float64(len(vecs))
	for i, x := range acc {
		mean[i] = float32(x / n)
	}
	return Normalize(mean)
}
