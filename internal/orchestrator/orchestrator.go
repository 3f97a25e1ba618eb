// Package orchestrator is the single entry point for every stage
// operation and project lifecycle query: it wires persistence, the
// provider client, the cost ledger, and the pipeline runner behind one
// exported method per operation, enforcing preconditions and the
// monotonic stage-advancement rule rather than leaving them to callers.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/pipeline"
	"github.com/antigravity-dev/narrativeengine/internal/plotarc"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/rewritehistory"
	"github.com/antigravity-dev/narrativeengine/internal/steps"
	"github.com/antigravity-dev/narrativeengine/internal/store"
	"github.com/antigravity-dev/narrativeengine/internal/storycontext"
)

// Orchestrator coordinates every stage generator, the pipeline runner,
// and the project/chapter lifecycle operations, grounded on the
// teacher's Scheduler: one exported struct built via New, holding only
// its collaborators, one exported method per operation.
type Orchestrator struct {
	Store      *store.Store
	Client     provider.Client
	Ledger     *costledger.Ledger
	History    *rewritehistory.Journal
	Retriever  *plotarc.Retriever
	Summarizer storycontext.Summarizer
	Logger     *slog.Logger
}

// New builds an Orchestrator from its collaborators.
func New(st *store.Store, client provider.Client, ledger *costledger.Ledger, history *rewritehistory.Journal, retriever *plotarc.Retriever, summarizer storycontext.Summarizer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Store: st, Client: client, Ledger: ledger, History: history,
		Retriever: retriever, Summarizer: summarizer, Logger: logger,
	}
}

// StatusResult is the status operation's output.
type StatusResult struct {
	Stage       model.Stage
	CurrentStep int
	CanContinue bool
}

// Status reports a project's workflow cursor.
func (o *Orchestrator) Status(projectID int64) (StatusResult, error) {
	project, err := o.Store.GetProject(projectID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Stage:       project.Stage,
		CurrentStep: project.CurrentStep,
		CanContinue: project.Stage != model.StageCompleted,
	}, nil
}

// Plan runs stage 1.
func (o *Orchestrator) Plan(ctx context.Context, projectID int64, idea string) (steps.PlanResult, error) {
	gen := steps.PlanningGenerator{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	return gen.Generate(ctx, projectID, idea)
}

// UpdatePlan overwrites planning_text directly (an explicit edit
// operation); it does not touch stage or current_step.
func (o *Orchestrator) UpdatePlan(projectID int64, text string) error {
	return o.Store.UpdatePlanningText(projectID, text)
}

// BuildWorld runs stage 2.
func (o *Orchestrator) BuildWorld(ctx context.Context, projectID int64) (steps.WorldBuildResult, error) {
	gen := steps.WorldBuildingGenerator{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	return gen.Generate(ctx, projectID)
}

// UpdateWorld replaces a project's world items and characters from a
// caller-supplied JSON document (an explicit edit operation, not a
// provider call); it does not touch stage or current_step beyond what
// applying the edit implies.
func (o *Orchestrator) UpdateWorld(projectID int64, rawText string) error {
	gen := steps.WorldBuildingGenerator{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	_, err := gen.ApplyEdit(projectID, rawText)
	return err
}

// BuildOutline runs stage 3.
func (o *Orchestrator) BuildOutline(ctx context.Context, projectID int64) (steps.OutlineResult, error) {
	gen := steps.OutlineGenerator{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	return gen.Generate(ctx, projectID)
}

// IndexPlotArcs embeds every plot arc in a project missing an embedding,
// or every arc unconditionally when force is true, and returns the count
// of embeddings written.
func (o *Orchestrator) IndexPlotArcs(ctx context.Context, projectID int64, force bool) (int, error) {
	return o.Retriever.Index(ctx, projectID, force)
}

// DetailOutline runs stage 4 for one chapter. Idempotent: if the chapter
// already has a detail_outline and regenerate is false, this returns the
// cached value without a provider call.
func (o *Orchestrator) DetailOutline(ctx context.Context, chapterID int64, regenerate bool) (steps.DetailOutlineResult, error) {
	if !regenerate {
		chapter, err := o.Store.GetChapter(chapterID)
		if err != nil {
			return steps.DetailOutlineResult{}, err
		}
		if chapter.DetailOutline != nil {
			return steps.DetailOutlineResult{DetailOutline: *chapter.DetailOutline}, nil
		}
	}
	gen := steps.DetailOutlineGenerator{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	return gen.Generate(ctx, chapterID)
}

// BatchItem is one chapter's outcome within a batch_detail_outline or
// batch_quality_check call.
type BatchItem struct {
	ChapterID int64
	Success   bool
	Error     string
}

// BatchDetailOutline runs DetailOutline over every chapter in a project,
// isolating per-chapter failures the same way the pipeline runner does.
func (o *Orchestrator) BatchDetailOutline(ctx context.Context, projectID int64, regenerate bool) ([]BatchItem, error) {
	chapters, err := o.Store.ListChaptersByProject(projectID)
	if err != nil {
		return nil, err
	}
	var results []BatchItem
	for _, ch := range chapters {
		_, err := o.DetailOutline(ctx, ch.ID, regenerate)
		if err != nil {
			results = append(results, BatchItem{ChapterID: ch.ID, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, BatchItem{ChapterID: ch.ID, Success: true})
	}
	return results, nil
}

// Write runs stage 5 for one chapter. Idempotent: if the chapter already
// has non-empty content and regenerate is false, this is a no-op.
func (o *Orchestrator) Write(ctx context.Context, chapterID int64, params steps.WriteParams, regenerate bool) (steps.WriteResult, error) {
	if !regenerate {
		chapter, err := o.Store.GetChapter(chapterID)
		if err != nil {
			return steps.WriteResult{}, err
		}
		if chapter.Content != "" {
			return steps.WriteResult{Content: chapter.Content}, nil
		}
	}
	gen := steps.WritingGenerator{
		Client: o.Client, Store: o.Store, Ledger: o.Ledger,
		Retriever: o.Retriever, Summarizer: o.Summarizer, Logger: o.Logger,
	}
	return gen.Generate(ctx, chapterID, params)
}

// QualityCheck runs stage 6 for one chapter.
func (o *Orchestrator) QualityCheck(ctx context.Context, chapterID int64) (steps.QualityCheckResult, error) {
	gen := steps.QualityCheckGenerator{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	return gen.Generate(ctx, chapterID)
}

// BatchQualityCheck runs QualityCheck over every chapter in a project.
func (o *Orchestrator) BatchQualityCheck(ctx context.Context, projectID int64) ([]BatchItem, error) {
	chapters, err := o.Store.ListChaptersByProject(projectID)
	if err != nil {
		return nil, err
	}
	var results []BatchItem
	for _, ch := range chapters {
		_, err := o.QualityCheck(ctx, ch.ID)
		if err != nil {
			results = append(results, BatchItem{ChapterID: ch.ID, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, BatchItem{ChapterID: ch.ID, Success: true})
	}
	return results, nil
}

// CheckConsistency runs the audit-only consistency check.
func (o *Orchestrator) CheckConsistency(ctx context.Context, chapterID int64, overrideText string, strict bool) (steps.ConsistencyResult, error) {
	checker := steps.ConsistencyChecker{Client: o.Client, Store: o.Store, Ledger: o.Ledger}
	return checker.Check(ctx, chapterID, overrideText, strict)
}

// Rewrite runs the paragraph- or chapter-scoped rewrite operation.
func (o *Orchestrator) Rewrite(ctx context.Context, chapterID int64, params steps.RewriteParams) (steps.RewriteResult, error) {
	rewriter := steps.Rewriter{Client: o.Client, Store: o.Store, Ledger: o.Ledger, History: o.History}
	return rewriter.Rewrite(ctx, chapterID, params)
}

// Rollback restores a chapter's body from its rewrite history.
func (o *Orchestrator) Rollback(chapterID int64, historyID string, save bool) (steps.RollbackResult, error) {
	rewriter := steps.Rewriter{Client: o.Client, Store: o.Store, Ledger: o.Ledger, History: o.History}
	return rewriter.Rollback(chapterID, historyID, save)
}

// RunPipeline runs a batch request over a project's chapters.
func (o *Orchestrator) RunPipeline(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	runner := pipeline.Runner{
		DB: o.Store.DB(), Store: o.Store, Client: o.Client, Ledger: o.Ledger,
		Retriever: o.Retriever, Summarizer: o.Summarizer, Logger: o.Logger,
	}
	return runner.Run(ctx, req)
}

// PipelineStatusResult is the pipeline_status operation's output.
type PipelineStatusResult struct {
	TotalChapters   int
	WithOutline     int
	WithContent     int
	MissingOutline  []int64
	MissingContent  []int64
}

// PipelineStatus summarizes how far a project's chapters have progressed
// through stages 4 and 5.
func (o *Orchestrator) PipelineStatus(projectID int64) (PipelineStatusResult, error) {
	chapters, err := o.Store.ListChaptersByProject(projectID)
	if err != nil {
		return PipelineStatusResult{}, err
	}
	result := PipelineStatusResult{TotalChapters: len(chapters)}
	for _, ch := range chapters {
		if ch.DetailOutline != nil {
			result.WithOutline++
		} else {
			result.MissingOutline = append(result.MissingOutline, ch.ID)
		}
		if ch.Content != "" {
			result.WithContent++
		} else {
			result.MissingContent = append(result.MissingContent, ch.ID)
		}
	}
	return result, nil
}

// MarkComplete tags a project as completed. This is an explicit lifecycle
// operation, not a stage result, but it still obeys the monotonic
// current_step rule via AdvanceProjectStage.
func (o *Orchestrator) MarkComplete(projectID int64) error {
	return o.Store.AdvanceProjectStage(projectID, model.StageCompleted)
}
