package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/plotarc"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/store"
	"github.com/antigravity-dev/narrativeengine/internal/storycontext"
)

// writingRecapWindow and writingRecapBudget are the spec §4.7 stage-5
// context-bundle parameters ("a window of 3 chapters and token budget
// ≈ 800").
const (
	writingRecapWindow = 3
	writingRecapBudget = 800
)

// WritingGenerator runs stage 5: render a chapter's full prose body from
// its detail outline, context bundle, and style guide.
type WritingGenerator struct {
	Client     provider.Client
	Store      *store.Store
	Ledger     *costledger.Ledger
	Retriever  *plotarc.Retriever
	Summarizer storycontext.Summarizer
	Logger     *slog.Logger
}

// WriteResult is the stage-5 output envelope.
type WriteResult struct {
	Content string
	Stats   Stats
}

// WriteParams allows an explicit style guide and author's note override;
// zero values fall back to the project's active StyleProfile and to no
// note.
type WriteParams struct {
	StyleGuide string
	AuthorNote string
}

func (g WritingGenerator) Generate(ctx context.Context, chapterID int64, params WriteParams) (WriteResult, error) {
	chapter, err := g.Store.GetChapter(chapterID)
	if err != nil {
		return WriteResult{}, err
	}
	projectID, err := g.Store.GetProjectIDForChapter(chapterID)
	if err != nil {
		return WriteResult{}, err
	}

	var characters []model.Character
	for _, name := range chapter.CharactersInvolved {
		c, err := g.Store.GetCharacterByName(projectID, name)
		if err != nil {
			continue
		}
		characters = append(characters, c)
	}
	worldItems, err := g.Store.ListWorldItems(projectID)
	if err != nil {
		return WriteResult{}, err
	}

	styleGuide := params.StyleGuide
	if strings.TrimSpace(styleGuide) == "" {
		if active, err := g.Store.GetActiveStyleProfile(projectID); err == nil {
			styleGuide = active.StyleGuide
		}
	}

	scanText := chapter.Content
	if outline := chapter.DetailOutline; outline != nil {
		scanText += "\n" + *outline
	}
	bundle := storycontext.BuildBundle(ctx, g.Store, g.Retriever, g.Summarizer, g.Logger, projectID, storycontext.BundleParams{
		VolumeID:       chapter.VolumeID,
		CurrentOrdinal: chapter.Ordinal,
		WindowSize:     writingRecapWindow,
		TokenBudget:    writingRecapBudget,
		ScanText:       scanText,
		TopK:           5,
	})

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: writingSystemPrompt(styleGuide)},
			{Role: provider.RoleUser, Content: buildWritingPrompt(chapter, characters, worldItems, bundle, params.AuthorNote)},
		},
		Temperature: 0.8,
		MaxTokens:   4096,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "writing", req)
	if err != nil {
		return WriteResult{}, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return WriteResult{}, engerr.ProviderOther("writing stage returned an empty body", nil)
	}

	if err := g.Store.UpdateChapterBody(chapterID, resp.Text, false); err != nil {
		return WriteResult{}, err
	}
	if err := g.Store.AdvanceProjectStage(projectID, model.StageWriting); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{Content: resp.Text, Stats: statsOf(g.Client, resp)}, nil
}

func buildWritingPrompt(chapter model.Chapter, characters []model.Character, worldItems []model.WorldItem, bundle storycontext.Bundle, authorNote string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\n\n", chapter.Ordinal, chapter.Title)
	fmt.Fprintf(&b, "Prior context:\n%s\n\n", bundle.Recap)

	if len(characters) > 0 {
		b.WriteString("Characters in this chapter:\n")
		for _, c := range characters {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.Archetype, c.Background)
		}
		b.WriteString("\n")
	}
	if len(bundle.CharacterCards) > 0 {
		b.WriteString("Relevant characters (lorebook):\n")
		for _, hit := range bundle.CharacterCards {
			if hit.Character != nil {
				fmt.Fprintf(&b, "- %s: mood %s, status %s\n", hit.Character.Name, hit.Character.CurrentMood, hit.Character.CurrentStatus)
			}
		}
		b.WriteString("\n")
	}
	if len(worldItems) > 0 {
		b.WriteString("World items:\n")
		for _, w := range worldItems {
			fmt.Fprintf(&b, "- %s: %s\n", w.Name, w.Description)
		}
		b.WriteString("\n")
	}
	if len(bundle.PlotArcCards) > 0 {
		b.WriteString("Active plot arcs to weave in:\n")
		for _, arc := range bundle.PlotArcCards {
			fmt.Fprintf(&b, "- %s: %s\n", arc.Name, arc.Description)
		}
		b.WriteString("\n")
	}
	if chapter.DetailOutline != nil {
		fmt.Fprintf(&b, "Scene outline:\n%s\n\n", *chapter.DetailOutline)
	}
	if authorNote != "" {
		fmt.Fprintf(&b, "Author's note: %s\n\n", authorNote)
	}
	b.WriteString("Write the full chapter body as plain prose.\n")
	return b.String()
}

func writingSystemPrompt(styleGuide string) string {
	if styleGuide == "" {
		return "You are a novelist writing one chapter of a longer work. Write vivid, coherent prose."
	}
	return "You are a novelist writing one chapter of a longer work, following this style guide:\n" + styleGuide
}
