package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultEmbeddingBaseURL = "https://api.openai.com/v1"
const defaultEmbeddingModel = "text-embedding-3-small"
const defaultEmbeddingTimeout = 30 * time.Second

// openAIEmbeddingEngine posts to an OpenAI-compatible /embeddings
// endpoint, grounded on the pack's OllamaEngine HTTP client shape
// (http.Client{Timeout: ...}, POST, decode JSON body).
type openAIEmbeddingEngine struct {
	apiKey     string
	baseURL    string
	model      string
	client     *http.Client
	dimensions int
}

func newOpenAIEmbeddingEngine(cfg Config) *openAIEmbeddingEngine {
	base := cfg.BaseURL
	if base == "" {
		base = defaultEmbeddingBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &openAIEmbeddingEngine{
		apiKey:  cfg.APIKey,
		baseURL: base,
		model:   model,
		client:  &http.Client{Timeout: defaultEmbeddingTimeout},
	}
}

func (e *openAIEmbeddingEngine) Name() string { return "openai:" + e.model }

func (e *openAIEmbeddingEngine) Dimensions() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	return 1536 // text-embedding-3-small's native dimensionality, until the first real response sets it
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

func (e *openAIEmbeddingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: non-OK status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response data")
	}

	vec := parsed.Data[0].Embedding
	e.dimensions = len(vec)
	return vec, nil
}
