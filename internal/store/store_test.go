package store

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/narrativeengine/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestProjectCreateAndFetch(t *testing.T) {
	st := newTestStore(t)

	id, err := st.CreateProject(model.Project{Title: "T", Author: "A", Description: "seed idea"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	p, err := st.GetProject(id)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Title != "T" || p.Stage != model.StageCreated || p.CurrentStep != 0 {
		t.Fatalf("unexpected project: %+v", p)
	}

	byTitle, err := st.GetProjectByTitle("T")
	if err != nil || byTitle.ID != id {
		t.Fatalf("get project by title: %v %+v", err, byTitle)
	}
}

func TestAdvanceProjectStageNeverRegresses(t *testing.T) {
	st := newTestStore(t)
	id, err := st.CreateProject(model.Project{Title: "T"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	if err := st.AdvanceProjectStage(id, model.StageWriting); err != nil {
		t.Fatalf("advance to writing: %v", err)
	}
	if err := st.AdvanceProjectStage(id, model.StagePlanning); err != nil {
		t.Fatalf("advance to planning: %v", err)
	}

	p, err := st.GetProject(id)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Stage != model.StagePlanning {
		t.Fatalf("expected stage tag to update to the latest call, got %q", p.Stage)
	}
	if p.CurrentStep != model.StageWriting.Rank() {
		t.Fatalf("expected current_step to stay at %d, got %d", model.StageWriting.Rank(), p.CurrentStep)
	}
}

func TestChapterBodyWriteInvalidatesSummary(t *testing.T) {
	st := newTestStore(t)
	projID, _ := st.CreateProject(model.Project{Title: "T"})
	volID, err := st.CreateVolume(model.Volume{ProjectID: projID, Title: "V1", Ordinal: 1})
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	chID, err := st.CreateChapter(model.Chapter{VolumeID: volID, Title: "C1", Ordinal: 1, Content: "hello world"})
	if err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	if err := st.UpdateChapterSummary(chID, "a cached summary"); err != nil {
		t.Fatalf("update summary: %v", err)
	}

	if err := st.UpdateChapterBody(chID, "a longer rewritten body here", false); err != nil {
		t.Fatalf("update body: %v", err)
	}
	c, err := st.GetChapter(chID)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if c.Summary != nil {
		t.Fatalf("expected summary to be invalidated, got %q", *c.Summary)
	}
	if c.WordCount != 5 {
		t.Fatalf("expected recomputed word count 5, got %d", c.WordCount)
	}

	if err := st.UpdateChapterSummary(chID, "a cached summary"); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	if err := st.UpdateChapterBody(chID, "reused", true); err != nil {
		t.Fatalf("update body with reuse: %v", err)
	}
	c2, err := st.GetChapter(chID)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if c2.Summary == nil || *c2.Summary != "a cached summary" {
		t.Fatalf("expected summary to survive explicit reuse, got %+v", c2.Summary)
	}
}

func TestCharacterNameUniqueWithinProject(t *testing.T) {
	st := newTestStore(t)
	projID, _ := st.CreateProject(model.Project{Title: "T"})

	if _, err := st.CreateCharacter(model.Character{ProjectID: projID, Name: "Alice"}); err != nil {
		t.Fatalf("create character: %v", err)
	}
	if _, err := st.CreateCharacter(model.Character{ProjectID: projID, Name: "Alice"}); err == nil {
		t.Fatalf("expected duplicate character name to fail")
	}
}

func TestPlotArcResolutionInvariant(t *testing.T) {
	st := newTestStore(t)
	projID, _ := st.CreateProject(model.Project{Title: "T"})

	planted := 2
	id, err := st.CreatePlotArc(model.PlotArc{ProjectID: projID, Name: "sword", Status: model.PlotArcPlanted, PlantedChapter: &planted})
	if err != nil {
		t.Fatalf("create plot arc: %v", err)
	}

	tooEarly := 1
	if err := st.UpdatePlotArcStatus(id, model.PlotArcResolved, &tooEarly); err == nil {
		t.Fatalf("expected resolved_chapter < planted_chapter to be rejected")
	}

	resolved := 5
	if err := st.UpdatePlotArcStatus(id, model.PlotArcResolved, &resolved); err != nil {
		t.Fatalf("resolve plot arc: %v", err)
	}

	arc, err := st.GetPlotArc(id)
	if err != nil {
		t.Fatalf("get plot arc: %v", err)
	}
	if arc.Status != model.PlotArcResolved || arc.ResolvedChapter == nil || *arc.ResolvedChapter != 5 {
		t.Fatalf("unexpected arc state: %+v", arc)
	}
}

func TestStyleProfileSingleActive(t *testing.T) {
	st := newTestStore(t)
	projID, _ := st.CreateProject(model.Project{Title: "T"})

	id1, err := st.CreateStyleProfile(model.StyleProfile{ProjectID: projID, Name: "p1", IsActive: true})
	if err != nil {
		t.Fatalf("create style profile 1: %v", err)
	}
	id2, err := st.CreateStyleProfile(model.StyleProfile{ProjectID: projID, Name: "p2", IsActive: true})
	if err != nil {
		t.Fatalf("create style profile 2: %v", err)
	}

	active, err := st.GetActiveStyleProfile(projID)
	if err != nil {
		t.Fatalf("get active style profile: %v", err)
	}
	if active.ID != id2 {
		t.Fatalf("expected profile 2 active, got %d", active.ID)
	}

	if err := st.SetActiveStyleProfile(projID, id1); err != nil {
		t.Fatalf("set active style profile: %v", err)
	}
	active, err = st.GetActiveStyleProfile(projID)
	if err != nil {
		t.Fatalf("get active style profile: %v", err)
	}
	if active.ID != id1 {
		t.Fatalf("expected profile 1 active, got %d", active.ID)
	}

	profiles, err := st.ListStyleProfiles(projID)
	if err != nil {
		t.Fatalf("list style profiles: %v", err)
	}
	activeCount := 0
	for _, p := range profiles {
		if p.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active profile, got %d", activeCount)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := st1.CreateProject(model.Project{Title: "T"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	st1.Close()

	st2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen (migrate again): %v", err)
	}
	defer st2.Close()

	p, err := st2.GetProjectByTitle("T")
	if err != nil {
		t.Fatalf("get project after reopen: %v", err)
	}
	if p.Title != "T" {
		t.Fatalf("unexpected project after reopen: %+v", p)
	}
}
