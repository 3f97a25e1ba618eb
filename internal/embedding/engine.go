// Package embedding provides vector embedding generation for plot-arc
// retrieval, grounded on the pack's embedding-engine shape: a small
// interface (Embed/Dimensions/Name) behind a provider-switching factory,
// plus a standalone cosine-similarity helper.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Engine generates a fixed-length embedding vector for a single string.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Config selects and configures an embedding engine. The zero value
// (empty APIKey) resolves to the offline fallback.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewEngine returns the OpenAI-compatible HTTP engine when credentials are
// configured, otherwise the offline hashed-shingle fallback. This is the
// embedding backend priority order from spec §4.5.
func NewEngine(cfg Config) Engine {
	if cfg.APIKey == "" {
		return NewOfflineEngine()
	}
	return newOpenAIEmbeddingEngine(cfg)
}

// CosineSimilarity computes similarity in [-1, 1] between two vectors of
// equal length.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
