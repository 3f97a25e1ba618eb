package steps

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

// WorldBuildingGenerator runs stage 2: expand the plan into world items
// and characters.
type WorldBuildingGenerator struct {
	Client provider.Client
	Store  *store.Store
	Ledger *costledger.Ledger
}

type worldItemPayload struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
}

type characterPayload struct {
	Name       string   `json:"name"`
	Archetype  string   `json:"archetype"`
	Background string   `json:"background"`
	Traits     []string `json:"traits"`
	Goals      []string `json:"goals"`
}

type worldBuildingReply struct {
	WorldData  []worldItemPayload `json:"world_data"`
	Characters []characterPayload `json:"characters"`
}

// WorldBuildResult is the stage-2 output envelope.
type WorldBuildResult struct {
	WorldItems   []model.WorldItem
	Characters   []model.Character
	ParseFailed  bool
	Raw          string
	Stats        Stats
}

// Generate expands project.planning_text into world items and
// characters. On a successful parse, every existing WorldItem and
// Character for the project is deleted and replaced (a transactional
// replace-all, spec §4.7 stage 2). On parse failure, the raw reply is
// stored to project.world_building_raw and nothing else is touched.
func (g WorldBuildingGenerator) Generate(ctx context.Context, projectID int64) (WorldBuildResult, error) {
	project, err := g.Store.GetProject(projectID)
	if err != nil {
		return WorldBuildResult{}, err
	}
	if strings.TrimSpace(project.PlanningText) == "" {
		return WorldBuildResult{}, engerr.InsufficientData("world-building requires planning_text")
	}

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: worldBuildingSystemPrompt},
			{Role: provider.RoleUser, Content: project.PlanningText},
		},
		Temperature: 0.6,
		MaxTokens:   4096,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "world-building", req)
	if err != nil {
		return WorldBuildResult{}, err
	}

	stats := statsOf(g.Client, resp)

	extracted, ok := ExtractJSON(resp.Text)
	if !ok {
		return g.persistRaw(projectID, resp.Text, stats)
	}

	var reply worldBuildingReply
	if err := json.Unmarshal([]byte(extracted), &reply); err != nil {
		return g.persistRaw(projectID, resp.Text, stats)
	}
	return g.applyReply(projectID, reply, stats)
}

// ApplyEdit lets a caller directly supply a corrected world_data/characters
// JSON document (the update_world orchestrator operation), replacing the
// project's world items and characters without a provider call. Malformed
// JSON is reported as engerr.InvalidFormat, not a parse_failed result,
// since this is caller-supplied input rather than a model reply.
func (g WorldBuildingGenerator) ApplyEdit(projectID int64, raw string) (WorldBuildResult, error) {
	var reply worldBuildingReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return WorldBuildResult{}, engerr.InvalidFormat("update_world payload is not valid JSON: " + err.Error())
	}
	return g.applyReply(projectID, reply, Stats{})
}

func (g WorldBuildingGenerator) applyReply(projectID int64, reply worldBuildingReply, stats Stats) (WorldBuildResult, error) {
	if err := g.Store.DeleteWorldItemsByProject(projectID); err != nil {
		return WorldBuildResult{}, err
	}
	if err := g.Store.DeleteCharactersByProject(projectID); err != nil {
		return WorldBuildResult{}, err
	}

	result := WorldBuildResult{Stats: stats}
	for _, w := range reply.WorldData {
		item := model.WorldItem{
			ProjectID:   projectID,
			Type:        model.WorldItemType(w.Type),
			Name:        w.Name,
			Description: w.Description,
			Properties:  w.Properties,
		}
		id, err := g.Store.CreateWorldItem(item)
		if err != nil {
			return WorldBuildResult{}, err
		}
		item.ID = id
		result.WorldItems = append(result.WorldItems, item)
	}
	for _, c := range reply.Characters {
		traits := make(map[string]int, len(c.Traits))
		for _, t := range c.Traits {
			traits[t] = 5
		}
		character := model.Character{
			ProjectID:         projectID,
			Name:              c.Name,
			Archetype:         c.Archetype,
			Background:        c.Background,
			PersonalityTraits: traits,
			Goals:             c.Goals,
		}
		id, err := g.Store.CreateCharacter(character)
		if err != nil {
			return WorldBuildResult{}, err
		}
		character.ID = id
		result.Characters = append(result.Characters, character)
	}

	if err := g.Store.AdvanceProjectStage(projectID, model.StageWorldBuilding); err != nil {
		return WorldBuildResult{}, err
	}
	return result, nil
}

// persistRaw stores the unparsed reply and advances no further, per the
// general stage-generator rule: a parse failure is a normal result, not
// an error, but it never advances the pipeline.
func (g WorldBuildingGenerator) persistRaw(projectID int64, raw string, stats Stats) (WorldBuildResult, error) {
	if err := g.Store.UpdateWorldBuildingRaw(projectID, raw); err != nil {
		return WorldBuildResult{}, err
	}
	return WorldBuildResult{ParseFailed: true, Raw: raw, Stats: stats}, nil
}

const worldBuildingSystemPrompt = `You expand a novel's planning text into a structured world. ` +
	`Reply with a single JSON object with two arrays: "world_data" (each item: type, name, description, properties) ` +
	`and "characters" (each: name, archetype, background, traits, goals). ` +
	`Wrap the JSON in a fenced ` + "```json" + ` code block.`
