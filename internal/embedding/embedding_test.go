package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewEngineSelectsOfflineWithoutCredentials(t *testing.T) {
	e := NewEngine(Config{})
	if _, ok := e.(*OfflineEngine); !ok {
		t.Fatalf("expected offline engine when no api key configured, got %T", e)
	}
}

func TestNewEngineSelectsOpenAIWithCredentials(t *testing.T) {
	e := NewEngine(Config{APIKey: "sk-test"})
	if _, ok := e.(*openAIEmbeddingEngine); !ok {
		t.Fatalf("expected openai engine when api key configured, got %T", e)
	}
}

func TestOfflineEngineProducesFixedDimensionUnitVector(t *testing.T) {
	e := NewOfflineEngine()
	vec, err := e.Embed(context.Background(), "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != offlineDimensions {
		t.Fatalf("expected %d dimensions, got %d", offlineDimensions, len(vec))
	}

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sumSquares)-1.0) > 1e-6 {
		t.Fatalf("expected L2-normalized vector, got norm %v", math.Sqrt(sumSquares))
	}
}

func TestOfflineEngineIsDeterministic(t *testing.T) {
	e := NewOfflineEngine()
	a, err := e.Embed(context.Background(), "a recurring phrase about dragons and swords")
	if err != nil {
		t.Fatalf("embed a: %v", err)
	}
	b, err := e.Embed(context.Background(), "a recurring phrase about dragons and swords")
	if err != nil {
		t.Fatalf("embed b: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic embedding, differed at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestOfflineEngineFallsBackToCharacterBigramsForShortText(t *testing.T) {
	e := NewOfflineEngine()
	vec, err := e.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("embed single character: %v", err)
	}
	if len(vec) != offlineDimensions {
		t.Fatalf("expected fixed dimension even for trivial input, got %d", len(vec))
	}
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	sim, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("cosine similarity: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-9 {
		t.Fatalf("expected similarity 1.0 for identical vectors, got %v", sim)
	}
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("cosine similarity: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Fatalf("expected similarity 0 for orthogonal vectors, got %v", sim)
	}
}

func TestCosineSimilarityRejectsMismatchedLengths(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Fatalf("expected error for mismatched vector lengths")
	}
}

func TestOpenAIEmbeddingEngineParsesVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{Data: []embeddingDatum{{Embedding: []float32{0.1, 0.2, 0.3}}}})
	}))
	defer srv.Close()

	e := newOpenAIEmbeddingEngine(Config{APIKey: "sk-test", BaseURL: srv.URL})
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
	if e.Dimensions() != 3 {
		t.Fatalf("expected dimensions to update from live response, got %d", e.Dimensions())
	}
}
