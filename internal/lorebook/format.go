package lorebook

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// ScanAndFormat runs Scan and renders each hit into prompt-template-ready
// text: characters get archetype/goals/status/mood/memories/relationships,
// world items get type/name/description/properties.
func ScanAndFormat(characters []model.Character, worldItems []model.WorldItem, text string, maxWorld, maxCharacter int) (string, ScanResult) {
	result := Scan(characters, worldItems, text, maxWorld, maxCharacter)

	var b strings.Builder
	if len(result.Character) > 0 {
		b.WriteString("## Characters\n")
		for _, hit := range result.Character {
			b.WriteString(formatCharacterCard(*hit.Character))
		}
	}
	if len(result.World) > 0 {
		b.WriteString("## World\n")
		for _, hit := range result.World {
			b.WriteString(formatWorldItemCard(*hit.WorldItem))
		}
	}
	return b.String(), result
}

func formatCharacterCard(c model.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s)", c.Name, c.Archetype)
	if c.CurrentStatus != "" || c.CurrentMood != "" {
		fmt.Fprintf(&b, " — status: %s, mood: %s", c.CurrentStatus, c.CurrentMood)
	}
	b.WriteString("\n")
	if len(c.Goals) > 0 {
		fmt.Fprintf(&b, "  goals: %s\n", strings.Join(c.Goals, "; "))
	}
	for _, m := range c.HighImportanceMemories(3) {
		fmt.Fprintf(&b, "  memory: %s\n", m.Content)
	}
	for name, rel := range c.Relationships {
		fmt.Fprintf(&b, "  relationship with %s: %s (intimacy %d)\n", name, rel.Kind, rel.Intimacy)
	}
	return b.String()
}

func formatWorldItemCard(w model.WorldItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s [%s]: %s\n", w.Name, w.Type, w.Description)
	if len(w.Properties) > 0 {
		keys := make([]string, 0, len(w.Properties))
		for k := range w.Properties {
			keys = append(keys, k)
		}
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, w.Properties[k])
		}
	}
	return b.String()
}
