package storycontext

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antigravity-dev/narrativeengine/internal/embedding"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/plotarc"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

func TestBuildRecapFirstChapterReturnsSentinel(t *testing.T) {
	got := BuildRecap(context.Background(), nil, 1, 5, 1000, nil)
	if got != NoPriorContext {
		t.Fatalf("expected sentinel, got %q", got)
	}
}

func TestBuildRecapEmptyBudgetReturnsEmptyString(t *testing.T) {
	chapters := []model.Chapter{{Ordinal: 1, Title: "One", Content: "some body text"}}
	got := BuildRecap(context.Background(), chapters, 2, 5, 0, nil)
	if got != "" {
		t.Fatalf("expected empty string for zero token budget, got %q", got)
	}
}

func TestBuildRecapSkipsEmptyBodyChapters(t *testing.T) {
	chapters := []model.Chapter{
		{Ordinal: 1, Title: "One", Content: ""},
		{Ordinal: 2, Title: "Two", Content: "a body with content"},
	}
	got := BuildRecap(context.Background(), chapters, 3, 5, 1000, nil)
	if !strings.Contains(got, "Two") || strings.Contains(got, "One") {
		t.Fatalf("expected only non-empty chapter included, got %q", got)
	}
}

func TestBuildRecapUsesCachedSummaryWhenShortEnough(t *testing.T) {
	summary := "a short cached summary"
	chapters := []model.Chapter{{Ordinal: 1, Title: "One", Content: "long original content that would otherwise be summarized", Summary: &summary}}
	called := false
	summarize := func(ctx context.Context, body string, tier Tier, target int) (string, error) {
		called = true
		return "generated", nil
	}
	got := BuildRecap(context.Background(), chapters, 2, 5, 1000, summarize)
	if called {
		t.Fatalf("expected cached summary to be used without calling the generator")
	}
	if !strings.Contains(got, summary) {
		t.Fatalf("expected cached summary in recap, got %q", got)
	}
}

func TestBuildRecapDegradesToTruncationOnGeneratorFailure(t *testing.T) {
	chapters := []model.Chapter{{Ordinal: 1, Title: "One", Content: strings.Repeat("word ", 100)}}
	summarize := func(ctx context.Context, body string, tier Tier, target int) (string, error) {
		return "", errors.New("provider unavailable")
	}
	got := BuildRecap(context.Background(), chapters, 2, 5, 1000, summarize)
	if !strings.Contains(got, "One") {
		t.Fatalf("expected fallback fragment for chapter One, got %q", got)
	}
}

func TestBuildRecapOrdersFragmentsByOrdinalAscending(t *testing.T) {
	chapters := []model.Chapter{
		{Ordinal: 1, Title: "First", Content: "first body"},
		{Ordinal: 2, Title: "Second", Content: "second body"},
	}
	got := BuildRecap(context.Background(), chapters, 3, 5, 1000, nil)
	firstIdx := strings.Index(got, "First")
	secondIdx := strings.Index(got, "Second")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Fatalf("expected ascending ordinal order, got %q", got)
	}
}

func TestCompressAndCacheStoresVerbatimForShortBody(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	projID, _ := st.CreateProject(model.Project{Title: "T"})
	volID, _ := st.CreateVolume(model.Volume{ProjectID: projID, Title: "V", Ordinal: 1})
	chID, err := st.CreateChapter(model.Chapter{VolumeID: volID, Title: "C", Ordinal: 1, Content: "short"})
	if err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	ch, err := st.GetChapter(chID)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}

	called := false
	summary, err := CompressAndCache(context.Background(), st, ch, func(ctx context.Context, body string, tier Tier, target int) (string, error) {
		called = true
		return "", nil
	})
	if err != nil {
		t.Fatalf("compress and cache: %v", err)
	}
	if called {
		t.Fatalf("expected no model call for short body")
	}
	if summary != "short" {
		t.Fatalf("expected verbatim short body, got %q", summary)
	}

	refetched, err := st.GetChapter(chID)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if refetched.Summary == nil || *refetched.Summary != "short" {
		t.Fatalf("expected summary persisted, got %+v", refetched.Summary)
	}
}

func TestBuildBundleDegradesGracefullyWithNoScanText(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	projID, _ := st.CreateProject(model.Project{Title: "T"})
	volID, _ := st.CreateVolume(model.Volume{ProjectID: projID, Title: "V", Ordinal: 1})

	if _, err := st.CreateCharacter(model.Character{ProjectID: projID, Name: "Alice"}); err != nil {
		t.Fatalf("create character: %v", err)
	}
	if _, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "arc", Status: model.PlotArcPlanted, Importance: model.ImportanceHigh}); err != nil {
		t.Fatalf("create plot arc: %v", err)
	}

	retriever := plotarc.New(st, embedding.NewOfflineEngine())
	bundle := BuildBundle(context.Background(), st, retriever, nil, nil, projID, BundleParams{VolumeID: volID, CurrentOrdinal: 1, WindowSize: 5, TokenBudget: 500, TopK: 3})

	if bundle.Recap != NoPriorContext {
		t.Fatalf("expected sentinel recap for first chapter, got %q", bundle.Recap)
	}
	if len(bundle.CharacterCards) != 1 {
		t.Fatalf("expected default character card slice, got %+v", bundle.CharacterCards)
	}
	if len(bundle.PlotArcCards) != 1 {
		t.Fatalf("expected top active arc by importance, got %+v", bundle.PlotArcCards)
	}
}
