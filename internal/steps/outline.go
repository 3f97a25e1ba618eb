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
)

// OutlineGenerator runs stage 3: expand characters and world items into a
// volumes-of-chapters tree.
type OutlineGenerator struct {
	Client provider.Client
	Store  *store.Store
	Ledger *costledger.Ledger
}

type chapterOutlinePayload struct {
	Order              int      `json:"order"`
	Title              string   `json:"title"`
	Summary            string   `json:"summary"`
	KeyEvents          []string `json:"key_events"`
	CharactersInvolved []string `json:"characters_involved"`
}

type volumeOutlinePayload struct {
	Order       int                     `json:"order"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Chapters    []chapterOutlinePayload `json:"chapters"`
}

type outlineReply struct {
	Volumes []volumeOutlinePayload `json:"volumes"`
}

// OutlineResult is the stage-3 output envelope.
type OutlineResult struct {
	Volumes      []model.Volume
	ParseFailed  bool
	Raw          string
	Stats        Stats
	CallCount    int
}

// Generate expands a project's characters and world items into a
// volumes/chapters tree. If the first reply is truncated (finish_reason
// "length" or unclosed JSON braces), it issues exactly one continuation
// request and concatenates the two replies before parsing.
func (g OutlineGenerator) Generate(ctx context.Context, projectID int64) (OutlineResult, error) {
	characters, err := g.Store.ListCharacters(projectID)
	if err != nil {
		return OutlineResult{}, err
	}
	if len(characters) == 0 {
		return OutlineResult{}, engerr.InsufficientData("outline requires world-building to have produced characters")
	}
	worldItems, err := g.Store.ListWorldItems(projectID)
	if err != nil {
		return OutlineResult{}, err
	}

	userPrompt := buildOutlinePrompt(characters, worldItems)
	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: outlineSystemPrompt},
			{Role: provider.RoleUser, Content: userPrompt},
		},
		Temperature: 0.6,
		MaxTokens:   4096,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "outline", req)
	if err != nil {
		return OutlineResult{}, err
	}
	stats := statsOf(g.Client, resp)
	fullText := resp.Text
	callCount := 1

	if isTruncated(resp.Text, resp.FinishReason) {
		continuation := provider.Request{
			Messages: []provider.Message{
				{Role: provider.RoleSystem, Content: outlineSystemPrompt},
				{Role: provider.RoleUser, Content: userPrompt},
				{Role: provider.RoleAssistant, Content: resp.Text},
				{Role: provider.RoleUser, Content: "continue"},
			},
			Model:       resp.Model,
			Temperature: 0.6,
			MaxTokens:   4096,
		}
		contResp, err := generate(ctx, g.Client, g.Ledger, "outline-continuation", continuation)
		if err != nil {
			return OutlineResult{}, err
		}
		stats = statsOf(g.Client, contResp)
		fullText += contResp.Text
		callCount++
	}

	extracted, ok := ExtractJSON(fullText)
	if !ok {
		return g.persistRaw(projectID, fullText, stats, callCount)
	}
	var reply outlineReply
	if err := json.Unmarshal([]byte(extracted), &reply); err != nil {
		return g.persistRaw(projectID, fullText, stats, callCount)
	}

	result := OutlineResult{Stats: stats, CallCount: callCount}
	for _, v := range reply.Volumes {
		volID, err := g.Store.CreateVolume(model.Volume{
			ProjectID:   projectID,
			Title:       v.Title,
			Ordinal:     v.Order,
			Description: v.Description,
		})
		if err != nil {
			return OutlineResult{}, err
		}
		volume := model.Volume{ID: volID, ProjectID: projectID, Title: v.Title, Ordinal: v.Order, Description: v.Description}

		for _, c := range v.Chapters {
			// Stored on Summary, not Content: content stays empty until the
			// writing stage runs, which is what the pipeline's step-5
			// idempotency check ("done if content is non-empty") keys off.
			block := templatedChapterBlock(c.Summary, c.KeyEvents)
			_, err := g.Store.CreateChapter(model.Chapter{
				VolumeID:           volID,
				Title:              c.Title,
				Ordinal:            c.Order,
				Summary:            &block,
				KeyEvents:          c.KeyEvents,
				CharactersInvolved: c.CharactersInvolved,
			})
			if err != nil {
				return OutlineResult{}, err
			}
		}
		result.Volumes = append(result.Volumes, volume)
	}

	if err := g.Store.AdvanceProjectStage(projectID, model.StageOutline); err != nil {
		return OutlineResult{}, err
	}
	return result, nil
}

func (g OutlineGenerator) persistRaw(projectID int64, raw string, stats Stats, callCount int) (OutlineResult, error) {
	if err := g.Store.UpdateOutlineRaw(projectID, raw); err != nil {
		return OutlineResult{}, err
	}
	return OutlineResult{ParseFailed: true, Raw: raw, Stats: stats, CallCount: callCount}, nil
}

// isTruncated detects a cut-off reply: an explicit "length" finish
// reason, or more '{' than '}' in the text.
func isTruncated(text string, finishReason provider.FinishReason) bool {
	if finishReason == provider.FinishLength {
		return true
	}
	depth := 0
	for _, r := range text {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth > 0
}

// templatedChapterBlock renders a new chapter's initial summary from the
// outline's summary and key events; it is stored on chapter.summary, and
// chapter.content stays empty until stage 5 writes the body.
func templatedChapterBlock(summary string, keyEvents []string) string {
	var b strings.Builder
	b.WriteString(summary)
	if len(keyEvents) > 0 {
		b.WriteString("\n\nKey events:\n")
		for _, e := range keyEvents {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

func buildOutlinePrompt(characters []model.Character, worldItems []model.WorldItem) string {
	var b strings.Builder
	b.WriteString("Characters:\n")
	for _, c := range characters {
		fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.Archetype, c.Background)
	}
	b.WriteString("\nWorld items:\n")
	for _, w := range worldItems {
		fmt.Fprintf(&b, "- %s (%s): %s\n", w.Name, w.Type, w.Description)
	}
	return b.String()
}

const outlineSystemPrompt = `You expand a novel's characters and world into a full outline. ` +
	`Reply with a single JSON object: {"volumes": [{"order","title","description","chapters": ` +
	`[{"order","title","summary","key_events","characters_involved"}]}]}. ` +
	`Wrap the JSON in a fenced ` + "```json" + ` code block.`
