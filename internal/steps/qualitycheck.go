package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/store"
	"github.com/antigravity-dev/narrativeengine/internal/storycontext"
)

const (
	qualityCheckRecapWindow = 2
	qualityCheckRecapBudget = 300
)

// QualityCheckGenerator runs stage 6: score a written chapter and list
// issues.
type QualityCheckGenerator struct {
	Client provider.Client
	Store  *store.Store
	Ledger *costledger.Ledger
}

// QualityCheckResult is the stage-6 output envelope.
type QualityCheckResult struct {
	Report model.QualityReport
	Stats  Stats
}

func (g QualityCheckGenerator) Generate(ctx context.Context, chapterID int64) (QualityCheckResult, error) {
	chapter, err := g.Store.GetChapter(chapterID)
	if err != nil {
		return QualityCheckResult{}, err
	}
	if strings.TrimSpace(chapter.Content) == "" {
		return QualityCheckResult{}, engerr.InsufficientData("quality check requires a written chapter body")
	}
	projectID, err := g.Store.GetProjectIDForChapter(chapterID)
	if err != nil {
		return QualityCheckResult{}, err
	}

	var characters []model.Character
	for _, name := range chapter.CharactersInvolved {
		c, err := g.Store.GetCharacterByName(projectID, name)
		if err != nil {
			continue
		}
		characters = append(characters, c)
	}
	siblings, err := g.Store.ListChapters(chapter.VolumeID)
	if err != nil {
		return QualityCheckResult{}, err
	}
	recap := storycontext.BuildRecap(ctx, siblings, chapter.Ordinal, qualityCheckRecapWindow, qualityCheckRecapBudget, nil)

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: qualityCheckSystemPrompt},
			{Role: provider.RoleUser, Content: buildQualityCheckPrompt(chapter, characters, recap)},
		},
		Temperature: 0.3,
		MaxTokens:   2048,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "quality-check", req)
	if err != nil {
		return QualityCheckResult{}, err
	}
	stats := statsOf(g.Client, resp)

	extracted, ok := ExtractJSON(resp.Text)
	if !ok {
		return QualityCheckResult{}, engerr.ProviderOther("quality check reply was not parseable JSON", nil)
	}
	var report model.QualityReport
	if err := json.Unmarshal([]byte(extracted), &report); err != nil {
		return QualityCheckResult{}, engerr.ProviderOther("quality check reply was not parseable JSON", err)
	}

	if err := g.Store.UpdateChapterQualityReport(chapterID, report); err != nil {
		return QualityCheckResult{}, err
	}
	if err := g.Store.AdvanceProjectStage(projectID, model.StageQualityCheck); err != nil {
		return QualityCheckResult{}, err
	}

	return QualityCheckResult{Report: report, Stats: stats}, nil
}

func buildQualityCheckPrompt(chapter model.Chapter, characters []model.Character, recap string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\n\n", chapter.Ordinal, chapter.Title)
	fmt.Fprintf(&b, "Body:\n%s\n\n", chapter.Content)
	if len(characters) > 0 {
		b.WriteString("Characters involved:\n")
		for _, c := range characters {
			fmt.Fprintf(&b, "- %s\n", c.Name)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Prior context:\n%s\n", recap)
	return b.String()
}

const qualityCheckSystemPrompt = `You are a developmental editor. Score this chapter and list issues. ` +
	`Reply with a single JSON object: {"total_score", "sub_scores": {...}, ` +
	`"issues": [{"severity","dimension","location","description","suggestion"}], "highlights": [...]}. ` +
	`Wrap the JSON in a fenced ` + "```json" + ` code block.`
