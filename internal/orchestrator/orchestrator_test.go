package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/pipeline"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/rewritehistory"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestLedger(t *testing.T, budget float64) *costledger.Ledger {
	t.Helper()
	l, err := costledger.Open(filepath.Join(t.TempDir(), "ledger.json"), budget, func() time.Time {
		return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return l
}

func newTestJournal(t *testing.T) *rewritehistory.Journal {
	t.Helper()
	j, err := rewritehistory.Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

// scriptedClient replies with the next entry in replies on each call, in
// call order — sufficient for the serial (max_workers=1) scenarios these
// tests exercise, where call order is deterministic.
type scriptedClient struct {
	replies []string
	calls   int
}

func (s *scriptedClient) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	if s.calls >= len(s.replies) {
		return provider.Response{}, errors.New("scripted client: no more replies")
	}
	text := s.replies[s.calls]
	s.calls++
	return provider.Response{Text: text, FinishReason: provider.FinishStop, Model: "stub-model"}, nil
}

func (s *scriptedClient) CountTokens(text string) int { return len(text)/4 + 1 }

func (s *scriptedClient) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) * 0.000001
}

func (s *scriptedClient) Name() string { return "stub" }

const worldReply = "```json\n{\"world_data\":[{\"type\":\"location\",\"name\":\"The Lighthouse\",\"description\":\"a windswept tower\"}],\"characters\":[{\"name\":\"Mara\",\"archetype\":\"keeper\",\"background\":\"solitary\",\"traits\":[\"stoic\"],\"goals\":[\"find peace\"]}]}\n```"

const outlineReply = "```json\n{\"volumes\":[{\"order\":1,\"title\":\"V1\",\"chapters\":[" +
	"{\"order\":1,\"title\":\"C1\",\"summary\":\"a storm approaches\",\"key_events\":[\"storm\"],\"characters_involved\":[\"Mara\"]}," +
	"{\"order\":2,\"title\":\"C2\",\"summary\":\"the light fails\",\"key_events\":[\"blackout\"],\"characters_involved\":[\"Mara\"]}" +
	"]}]}\n```"

const detailOutlineReply = "```json\n{\"scenes\":[\"a scene\"],\"chapter_goal\":\"goal\",\"emotional_tone\":\"tense\",\"cliffhanger\":\"cliff\"}\n```"

// TestFreshProjectFullPipeline implements testable-property scenario 1:
// plan, build_world, run_pipeline(from=3,to=5,max_workers=1) on a fresh
// project ends at stage writing/current_step=5 with every chapter
// written, and the cost ledger has exactly 1+1+1+n+n entries.
func TestFreshProjectFullPipeline(t *testing.T) {
	st := newTestStore(t)
	projID, err := st.CreateProject(model.Project{Title: "T", Description: "i"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := &scriptedClient{replies: []string{
		"a sweeping plan",
		worldReply,
		outlineReply,
		detailOutlineReply,
		"The storm rolled in off the water.",
		detailOutlineReply,
		"The light guttered and died.",
	}}
	ledger := newTestLedger(t, 1000)
	orch := New(st, client, ledger, newTestJournal(t), nil, nil, nil)
	ctx := context.Background()

	if _, err := orch.Plan(ctx, projID, ""); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := orch.BuildWorld(ctx, projID); err != nil {
		t.Fatalf("build world: %v", err)
	}
	result, err := orch.RunPipeline(ctx, pipeline.Request{ProjectID: projID, FromStep: 3, ToStep: 5, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("run pipeline: %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("expected no failures, got %+v", result)
	}

	project, err := st.GetProject(projID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.Stage != model.StageWriting {
		t.Fatalf("expected stage writing, got %s", project.Stage)
	}
	if project.CurrentStep != 5 {
		t.Fatalf("expected current_step=5, got %d", project.CurrentStep)
	}

	volumes, err := st.ListVolumes(projID)
	if err != nil || len(volumes) < 1 {
		t.Fatalf("expected >=1 volume, got %v err=%v", volumes, err)
	}
	chapters, err := st.ListChaptersByProject(projID)
	if err != nil {
		t.Fatalf("list chapters: %v", err)
	}
	if len(chapters) == 0 {
		t.Fatalf("expected chapters")
	}
	for _, ch := range chapters {
		if ch.Content == "" {
			t.Fatalf("expected chapter %d to have non-empty content", ch.ID)
		}
	}

	stats, err := ledger.Statistics(1)
	if err != nil {
		t.Fatalf("ledger statistics: %v", err)
	}
	n := len(chapters)
	wantCalls := 1 + 1 + 1 + n + n
	gotCalls := 0
	for _, d := range stats.Days {
		gotCalls += d.CallCount
	}
	if gotCalls != wantCalls {
		t.Fatalf("expected %d ledger entries (1+1+1+n+n, n=%d), got %d", wantCalls, n, gotCalls)
	}
}

// TestDetailOutlineIsIdempotentWithoutRegenerate verifies that calling
// DetailOutline twice on the same chapter without regenerate performs
// exactly one provider call.
func TestDetailOutlineIsIdempotentWithoutRegenerate(t *testing.T) {
	st := newTestStore(t)
	projID, err := st.CreateProject(model.Project{Title: "T"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	volID, err := st.CreateVolume(model.Volume{ProjectID: projID, Title: "V1", Ordinal: 1})
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	summary := "a chapter summary"
	chapterID, err := st.CreateChapter(model.Chapter{VolumeID: volID, Title: "C1", Ordinal: 1, Summary: &summary})
	if err != nil {
		t.Fatalf("create chapter: %v", err)
	}

	client := &scriptedClient{replies: []string{detailOutlineReply}}
	orch := New(st, client, newTestLedger(t, 1000), newTestJournal(t), nil, nil, nil)
	ctx := context.Background()

	if _, err := orch.DetailOutline(ctx, chapterID, false); err != nil {
		t.Fatalf("first detail outline: %v", err)
	}
	if _, err := orch.DetailOutline(ctx, chapterID, false); err != nil {
		t.Fatalf("second detail outline: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one provider call across two detail_outline invocations, got %d", client.calls)
	}
}

// TestBudgetBlocksBeforeAnyProviderCall is the orchestrator-level version
// of testable-property scenario 2.
func TestBudgetBlocksBeforeAnyProviderCall(t *testing.T) {
	st := newTestStore(t)
	projID, err := st.CreateProject(model.Project{Title: "T", Description: "i"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := &scriptedClient{replies: []string{"should never be used"}}
	ledger := newTestLedger(t, 0)
	orch := New(st, client, ledger, newTestJournal(t), nil, nil, nil)

	_, err = orch.Plan(context.Background(), projID, "idea")
	if err == nil {
		t.Fatalf("expected budget exceeded error")
	}
	if client.calls != 0 {
		t.Fatalf("expected no provider call before budget check, got %d calls", client.calls)
	}
	project, err := st.GetProject(projID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.PlanningText != "" {
		t.Fatalf("expected planning_text unchanged, got %q", project.PlanningText)
	}
}
