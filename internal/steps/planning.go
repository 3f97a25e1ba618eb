package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

// PlanningGenerator runs stage 1: turn a seed idea into a free-form plan.
type PlanningGenerator struct {
	Client provider.Client
	Store  *store.Store
	Ledger *costledger.Ledger
}

// PlanResult is the stage-1 output envelope.
type PlanResult struct {
	PlanningText string
	Stats        Stats
}

// Generate builds the planning prompt from the project description
// (or an explicit idea override), calls the provider, and persists the
// reply to project.planning_text.
func (g PlanningGenerator) Generate(ctx context.Context, projectID int64, idea string) (PlanResult, error) {
	project, err := g.Store.GetProject(projectID)
	if err != nil {
		return PlanResult{}, err
	}

	seed := idea
	if strings.TrimSpace(seed) == "" {
		seed = project.Description
	}
	if strings.TrimSpace(seed) == "" {
		return PlanResult{}, engerr.InsufficientData("planning requires a seed idea or a project description")
	}

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "You are a novel planning assistant. Produce a free-form narrative plan covering premise, themes, and overall arc."},
			{Role: provider.RoleUser, Content: buildPlanningPrompt(project, seed)},
		},
		Temperature: 0.7,
		MaxTokens:   2048,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "planning", req)
	if err != nil {
		return PlanResult{}, err
	}

	if err := g.Store.UpdatePlanningText(projectID, resp.Text); err != nil {
		return PlanResult{}, err
	}
	if err := g.Store.AdvanceProjectStage(projectID, model.StagePlanning); err != nil {
		return PlanResult{}, err
	}

	return PlanResult{PlanningText: resp.Text, Stats: statsOf(g.Client, resp)}, nil
}

func buildPlanningPrompt(project model.Project, seed string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", project.Title)
	if project.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", project.Genre)
	}
	if len(project.PlotTags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(project.PlotTags, ", "))
	}
	fmt.Fprintf(&b, "\nSeed idea:\n%s\n", seed)
	return b.String()
}
