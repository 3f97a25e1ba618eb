package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/store"
	"github.com/antigravity-dev/narrativeengine/internal/storycontext"
)

// detailOutlineRecapWindow and detailOutlineRecapBudget bound the prior-
// chapter recap fed into stage 4, per spec §4.7 ("a recap of up to three
// prior chapters").
const (
	detailOutlineRecapWindow = 3
	detailOutlineRecapBudget = 400
)

// DetailOutlineGenerator runs stage 4: expand one chapter's summary and
// key events into a scene-level outline.
type DetailOutlineGenerator struct {
	Client provider.Client
	Store  *store.Store
	Ledger *costledger.Ledger
}

type detailOutlinePayload struct {
	Scenes        []string `json:"scenes"`
	ChapterGoal   string   `json:"chapter_goal"`
	EmotionalTone string   `json:"emotional_tone"`
	Cliffhanger   string   `json:"cliffhanger"`
}

// DetailOutlineResult is the stage-4 output envelope.
type DetailOutlineResult struct {
	DetailOutline string
	ParseFailed   bool
	Raw           string
	Stats         Stats
}

func (g DetailOutlineGenerator) Generate(ctx context.Context, chapterID int64) (DetailOutlineResult, error) {
	chapter, err := g.Store.GetChapter(chapterID)
	if err != nil {
		return DetailOutlineResult{}, err
	}
	projectID, err := g.Store.GetProjectIDForChapter(chapterID)
	if err != nil {
		return DetailOutlineResult{}, err
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
		return DetailOutlineResult{}, err
	}
	siblings, err := g.Store.ListChapters(chapter.VolumeID)
	if err != nil {
		return DetailOutlineResult{}, err
	}
	recap := storycontext.BuildRecap(ctx, siblings, chapter.Ordinal, detailOutlineRecapWindow, detailOutlineRecapBudget, nil)

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: detailOutlineSystemPrompt},
			{Role: provider.RoleUser, Content: buildDetailOutlinePrompt(chapter, characters, worldItems, recap)},
		},
		Temperature: 0.6,
		MaxTokens:   2048,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "detail-outline", req)
	if err != nil {
		return DetailOutlineResult{}, err
	}
	stats := statsOf(g.Client, resp)

	extracted, ok := ExtractJSON(resp.Text)
	if !ok {
		return g.persistRaw(chapterID, resp.Text, stats)
	}
	var payload detailOutlinePayload
	if err := json.Unmarshal([]byte(extracted), &payload); err != nil {
		return g.persistRaw(chapterID, resp.Text, stats)
	}

	if err := g.Store.UpdateChapterDetailOutline(chapterID, extracted); err != nil {
		return DetailOutlineResult{}, err
	}
	return DetailOutlineResult{DetailOutline: extracted, Stats: stats}, nil
}

func (g DetailOutlineGenerator) persistRaw(chapterID int64, raw string, stats Stats) (DetailOutlineResult, error) {
	if err := g.Store.UpdateChapterDetailOutlineRaw(chapterID, raw); err != nil {
		return DetailOutlineResult{}, err
	}
	return DetailOutlineResult{ParseFailed: true, Raw: raw, Stats: stats}, nil
}

func buildDetailOutlinePrompt(chapter model.Chapter, characters []model.Character, worldItems []model.WorldItem, recap string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\n", chapter.Ordinal, chapter.Title)
	if chapter.Summary != nil {
		fmt.Fprintf(&b, "Summary: %s\n", *chapter.Summary)
	}
	if len(chapter.KeyEvents) > 0 {
		fmt.Fprintf(&b, "Key events: %s\n", strings.Join(chapter.KeyEvents, "; "))
	}
	b.WriteString("\nCharacters involved:\n")
	for _, c := range characters {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Archetype)
	}
	b.WriteString("\nWorld items:\n")
	for _, w := range worldItems {
		fmt.Fprintf(&b, "- %s: %s\n", w.Name, w.Description)
	}
	fmt.Fprintf(&b, "\nPrior context:\n%s\n", recap)
	return b.String()
}

const detailOutlineSystemPrompt = `You expand a chapter summary into a scene-level outline. ` +
	`Reply with a single JSON object: {"scenes": [...], "chapter_goal", "emotional_tone", "cliffhanger"}. ` +
	`Wrap the JSON in a fenced ` + "```json" + ` code block.`
