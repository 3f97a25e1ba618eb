// Package pipeline turns a batch request into per-chapter generation
// tasks, executing them serially or with stage-barrier parallelism and
// isolating per-task failures from the rest of the run.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/plotarc"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/steps"
	"github.com/antigravity-dev/narrativeengine/internal/store"
	"github.com/antigravity-dev/narrativeengine/internal/storycontext"
)

// Request is the batch request {from_step, to_step, chapter_range,
// regenerate, max_workers}.
type Request struct {
	ProjectID    int64
	FromStep     int
	ToStep       int
	ChapterRange string
	Regenerate   bool
	MaxWorkers   int
}

// TaskResult is the per-chapter outcome of one stage.
type TaskResult struct {
	ChapterID int64
	Title     string
	Stage     int
	Success   bool
	Skipped   bool
	Error     string
	Stats     steps.Stats
}

// Result aggregates a run's task outcomes.
type Result struct {
	Tasks            []TaskResult
	Total            int
	Succeeded        int
	Failed           int
	Skipped          int
	FailedChapterIDs []int64
}

// Runner executes run_pipeline requests. Each stage-4/5 worker opens its
// own *store.Store over the shared *sql.DB (store.OpenShared) — workers
// never share a session.
type Runner struct {
	DB     *sql.DB
	Store  *store.Store
	Client provider.Client
	Ledger *costledger.Ledger

	Retriever  *plotarc.Retriever
	Summarizer storycontext.Summarizer
	Logger     *slog.Logger
}

// Run executes the batch request and returns the aggregated result.
// Input validation (step range, chapter-range syntax) happens before any
// work is dispatched, per spec: a PipelineInvalidPlan error aborts with
// no side effects.
func (r Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.FromStep < 3 || req.FromStep > 5 || req.ToStep < 3 || req.ToStep > 5 || req.FromStep > req.ToStep {
		return Result{}, engerr.InvalidPlan(fmt.Sprintf("invalid step range [%d,%d]", req.FromStep, req.ToStep))
	}
	maxWorkers := req.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if strings.TrimSpace(req.ChapterRange) != "" {
		for _, item := range strings.Split(req.ChapterRange, ",") {
			if _, _, err := parseRangeItem(strings.TrimSpace(item)); err != nil {
				return Result{}, err
			}
		}
	}

	if req.FromStep <= 3 {
		if err := r.runStep3(ctx, req.ProjectID, req.Regenerate); err != nil {
			return Result{}, err
		}
	}
	if req.ToStep < 4 {
		return Result{}, nil
	}

	chapters, err := r.Store.ListChaptersByProject(req.ProjectID)
	if err != nil {
		return Result{}, err
	}
	positions, err := ParseChapterRange(req.ChapterRange, len(chapters))
	if err != nil {
		return Result{}, err
	}
	var selected []model.Chapter
	for _, pos := range positions {
		selected = append(selected, chapters[pos-1])
	}

	runStep4 := req.FromStep <= 4
	runStep5 := req.ToStep >= 5

	var result Result
	if maxWorkers == 1 {
		result = r.runSerial(ctx, selected, runStep4, runStep5, req.Regenerate)
	} else {
		result = r.runParallel(ctx, selected, runStep4, runStep5, req.Regenerate, maxWorkers)
	}
	result.finalize()
	return result, nil
}

// runStep3 builds the volumes/chapters outline once per project.
// Idempotent: skipped when the project already has >=1 volume and
// current_step >= 3, unless regenerate is set.
func (r Runner) runStep3(ctx context.Context, projectID int64, regenerate bool) error {
	if !regenerate {
		project, err := r.Store.GetProject(projectID)
		if err != nil {
			return err
		}
		n, err := r.Store.CountVolumes(projectID)
		if err != nil {
			return err
		}
		if n >= 1 && project.CurrentStep >= 3 {
			return nil
		}
	}
	gen := steps.OutlineGenerator{Client: r.Client, Store: r.Store, Ledger: r.Ledger}
	_, err := gen.Generate(ctx, projectID)
	return err
}

func (r Runner) runSerial(ctx context.Context, chapters []model.Chapter, runStep4, runStep5, regenerate bool) Result {
	var result Result
	for _, ch := range chapters {
		var step4Failed bool
		if runStep4 {
			task, skip := r.taskStep4(ctx, r.Store, ch, regenerate)
			if !skip {
				result.Tasks = append(result.Tasks, task)
				step4Failed = !task.Success
			} else {
				result.Tasks = append(result.Tasks, task)
			}
		}
		if runStep5 {
			if step4Failed {
				result.Tasks = append(result.Tasks, TaskResult{
					ChapterID: ch.ID, Title: ch.Title, Stage: 5, Skipped: true,
					Error: "skipped because upstream step 4 failed",
				})
				continue
			}
			task, _ := r.taskStep5(ctx, r.Store, ch, regenerate)
			result.Tasks = append(result.Tasks, task)
		}
	}
	return result
}

func (r Runner) runParallel(ctx context.Context, chapters []model.Chapter, runStep4, runStep5, regenerate bool, maxWorkers int) Result {
	var result Result
	failed4 := make(map[int64]bool)

	if runStep4 {
		tasks := make([]TaskResult, len(chapters))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		for i, ch := range chapters {
			i, ch := i, ch
			g.Go(func() error {
				workerStore := store.OpenShared(r.DB)
				task, skip := r.taskStep4(gctx, workerStore, ch, regenerate)
				_ = skip
				tasks[i] = task
				return nil
			})
		}
		_ = g.Wait()
		for _, t := range tasks {
			result.Tasks = append(result.Tasks, t)
			if !t.Skipped && !t.Success {
				failed4[t.ChapterID] = true
			}
		}
	}

	if runStep5 {
		tasks := make([]TaskResult, len(chapters))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		for i, ch := range chapters {
			i, ch := i, ch
			if failed4[ch.ID] {
				tasks[i] = TaskResult{
					ChapterID: ch.ID, Title: ch.Title, Stage: 5, Skipped: true,
					Error: "skipped because step 4 failed",
				}
				continue
			}
			g.Go(func() error {
				workerStore := store.OpenShared(r.DB)
				task, _ := r.taskStep5(gctx, workerStore, ch, regenerate)
				tasks[i] = task
				return nil
			})
		}
		_ = g.Wait()
		result.Tasks = append(result.Tasks, tasks...)
	}

	return result
}

// taskStep4 runs the detail-outline stage for one chapter, recovering
// from a worker panic into a failed TaskResult. skip reports whether the
// idempotency check found the step already done.
func (r Runner) taskStep4(ctx context.Context, st *store.Store, ch model.Chapter, regenerate bool) (task TaskResult, skip bool) {
	task = TaskResult{ChapterID: ch.ID, Title: ch.Title, Stage: 4}
	if !regenerate && ch.DetailOutline != nil {
		task.Skipped = true
		task.Success = true
		return task, true
	}
	defer func() {
		if rec := recover(); rec != nil {
			task.Success = false
			task.Error = fmt.Sprintf("panic: %v", rec)
		}
	}()
	gen := steps.DetailOutlineGenerator{Client: r.Client, Store: st, Ledger: r.Ledger}
	out, err := gen.Generate(ctx, ch.ID)
	if err != nil {
		task.Success = false
		task.Error = err.Error()
		return task, false
	}
	task.Success = !out.ParseFailed
	if out.ParseFailed {
		task.Error = "detail outline reply failed to parse"
	}
	task.Stats = out.Stats
	return task, false
}

// taskStep5 runs the writing stage for one chapter.
func (r Runner) taskStep5(ctx context.Context, st *store.Store, ch model.Chapter, regenerate bool) (task TaskResult, skip bool) {
	task = TaskResult{ChapterID: ch.ID, Title: ch.Title, Stage: 5}
	if !regenerate && ch.Content != "" {
		task.Skipped = true
		task.Success = true
		return task, true
	}
	defer func() {
		if rec := recover(); rec != nil {
			task.Success = false
			task.Error = fmt.Sprintf("panic: %v", rec)
		}
	}()
	gen := steps.WritingGenerator{
		Client: r.Client, Store: st, Ledger: r.Ledger,
		Retriever: r.Retriever, Summarizer: r.Summarizer, Logger: r.Logger,
	}
	out, err := gen.Generate(ctx, ch.ID, steps.WriteParams{})
	if err != nil {
		task.Success = false
		task.Error = err.Error()
		return task, false
	}
	task.Success = true
	task.Stats = out.Stats
	return task, false
}

// finalize computes the aggregate counts and failed-chapter-id list from
// the recorded per-task outcomes.
func (r *Result) finalize() {
	seenFailed := make(map[int64]bool)
	for _, t := range r.Tasks {
		r.Total++
		switch {
		case t.Skipped:
			r.Skipped++
		case t.Success:
			r.Succeeded++
		default:
			r.Failed++
			if !seenFailed[t.ChapterID] {
				seenFailed[t.ChapterID] = true
				r.FailedChapterIDs = append(r.FailedChapterIDs, t.ChapterID)
			}
		}
	}
}
