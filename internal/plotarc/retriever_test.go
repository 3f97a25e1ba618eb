package plotarc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

// stubEngine returns a deterministic one-hot vector keyed by the text's
// first byte, so similar texts score higher without a real model.
type stubEngine struct {
	fail bool
	dim  int
}

func (s *stubEngine) Name() string    { return "stub" }
func (s *stubEngine) Dimensions() int { return s.dim }
func (s *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("stub embedding backend unavailable")
	}
	vec := make([]float32, s.dim)
	if len(text) > 0 {
		vec[int(text[0])%s.dim] = 1
	}
	return vec, nil
}

func newTestStoreWithArcs(t *testing.T) (*store.Store, int64) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	projID, err := st.CreateProject(model.Project{Title: "T"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return st, projID
}

func TestRetrieveUsesEmbeddingSimilarityWhenAvailable(t *testing.T) {
	st, projID := newTestStoreWithArcs(t)
	id, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "sword", Status: model.PlotArcPlanted, RelatedKeywords: []string{"sword"}})
	if err != nil {
		t.Fatalf("create plot arc: %v", err)
	}

	r := New(st, &stubEngine{dim: 512})
	cards, err := r.Retrieve(context.Background(), projID, "sword", Options{TopK: 5, OnlyActive: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != id {
		t.Fatalf("expected arc returned, got %+v", cards)
	}

	arc, err := st.GetPlotArc(id)
	if err != nil {
		t.Fatalf("get plot arc: %v", err)
	}
	if len(arc.Embedding) == 0 {
		t.Fatalf("expected lazy index to persist an embedding")
	}
}

func TestRetrieveFallsBackToKeywordCountWhenEmbeddingFails(t *testing.T) {
	st, projID := newTestStoreWithArcs(t)
	if _, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "A", Status: model.PlotArcPlanted, RelatedKeywords: []string{"sword", "blade"}}); err != nil {
		t.Fatalf("create plot arc A: %v", err)
	}
	if _, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "B", Status: model.PlotArcPlanted, RelatedKeywords: []string{"sword"}}); err != nil {
		t.Fatalf("create plot arc B: %v", err)
	}

	r := New(st, &stubEngine{dim: 512, fail: true})
	cards, err := r.Retrieve(context.Background(), projID, "he drew his sword and raised the blade", Options{TopK: 5, OnlyActive: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards from keyword fallback, got %d", len(cards))
	}
	if cards[0].Name != "A" {
		t.Fatalf("expected arc A first (A and B both match all their keywords; A was inserted first), got %+v", cards)
	}
}

func TestRetrieveOnlyActiveExcludesResolvedArcs(t *testing.T) {
	st, projID := newTestStoreWithArcs(t)
	planted := 1
	resolved := 2
	id, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "arc", Status: model.PlotArcPlanted, PlantedChapter: &planted, RelatedKeywords: []string{"arc"}})
	if err != nil {
		t.Fatalf("create plot arc: %v", err)
	}
	if err := st.UpdatePlotArcStatus(id, model.PlotArcResolved, &resolved); err != nil {
		t.Fatalf("resolve arc: %v", err)
	}

	r := New(st, &stubEngine{dim: 512, fail: true})
	cards, err := r.Retrieve(context.Background(), projID, "the arc concludes", Options{TopK: 5, OnlyActive: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected resolved arc excluded from active-only retrieval, got %+v", cards)
	}
}

func TestIndexEmbedsOnlyArcsMissingAnEmbedding(t *testing.T) {
	st, projID := newTestStoreWithArcs(t)
	id, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "sword", Status: model.PlotArcPlanted})
	if err != nil {
		t.Fatalf("create plot arc: %v", err)
	}

	r := New(st, &stubEngine{dim: 512})
	written, err := r.Index(context.Background(), projID, false)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 embedding written, got %d", written)
	}

	written, err = r.Index(context.Background(), projID, false)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if written != 0 {
		t.Fatalf("expected re-index without force to write nothing, got %d", written)
	}

	written, err = r.Index(context.Background(), projID, true)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected force re-index to re-embed the arc, got %d", written)
	}

	arc, err := st.GetPlotArc(id)
	if err != nil {
		t.Fatalf("get plot arc: %v", err)
	}
	if len(arc.Embedding) == 0 {
		t.Fatalf("expected arc to have a persisted embedding")
	}
}

func TestRetrieveRespectsMinSimilarity(t *testing.T) {
	st, projID := newTestStoreWithArcs(t)
	if _, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "unrelated", Status: model.PlotArcPlanted, RelatedKeywords: []string{"dragon"}}); err != nil {
		t.Fatalf("create plot arc: %v", err)
	}

	r := New(st, &stubEngine{dim: 512, fail: true})
	cards, err := r.Retrieve(context.Background(), projID, "a quiet walk in the garden", Options{TopK: 5, OnlyActive: true, MinSimilarity: 0.1})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected no matches above threshold, got %+v", cards)
	}
}
