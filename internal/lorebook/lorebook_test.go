package lorebook

import (
	"testing"

	"github.com/antigravity-dev/narrativeengine/internal/model"
)

func TestScanRanksByHitCountDescending(t *testing.T) {
	worldItems := []model.WorldItem{
		{Name: "A", LorebookKeywords: []string{"sword", "blade"}},
		{Name: "B", LorebookKeywords: []string{"sword"}},
	}

	result := Scan(nil, worldItems, "he drew his sword and raised the blade", 8, 5)

	if len(result.World) != 2 {
		t.Fatalf("expected 2 world hits, got %d", len(result.World))
	}
	if result.World[0].Name != "A" || result.World[0].HitCount != 2 {
		t.Fatalf("expected A first with 2 hits, got %+v", result.World[0])
	}
	if result.World[1].Name != "B" || result.World[1].HitCount != 1 {
		t.Fatalf("expected B second with 1 hit, got %+v", result.World[1])
	}
}

func TestScanTiesBreakByInsertionOrder(t *testing.T) {
	worldItems := []model.WorldItem{
		{Name: "First", LorebookKeywords: []string{"castle"}},
		{Name: "Second", LorebookKeywords: []string{"castle"}},
	}
	result := Scan(nil, worldItems, "the castle loomed", 8, 5)
	if len(result.World) != 2 || result.World[0].Name != "First" || result.World[1].Name != "Second" {
		t.Fatalf("expected insertion order preserved on tie, got %+v", result.World)
	}
}

func TestScanFallsBackToNameWhenNoKeywordsConfigured(t *testing.T) {
	worldItems := []model.WorldItem{{Name: "Ironhold", LorebookKeywords: nil}}
	result := Scan(nil, worldItems, "they marched toward ironhold", 8, 5)
	if len(result.World) != 1 {
		t.Fatalf("expected name-as-keyword fallback to match, got %d hits", len(result.World))
	}
}

func TestScanExcludesZeroHitEntries(t *testing.T) {
	worldItems := []model.WorldItem{{Name: "Unrelated", LorebookKeywords: []string{"dragon"}}}
	result := Scan(nil, worldItems, "a quiet walk through the garden", 8, 5)
	if len(result.World) != 0 {
		t.Fatalf("expected no hits, got %+v", result.World)
	}
}

func TestScanTruncatesPerKindMaximum(t *testing.T) {
	var characters []model.Character
	for i := 0; i < 10; i++ {
		characters = append(characters, model.Character{Name: "c", LorebookKeywords: []string{"hero"}})
	}
	result := Scan(characters, nil, "the hero arrived", 8, 5)
	if len(result.Character) != 5 {
		t.Fatalf("expected truncation to max_character=5, got %d", len(result.Character))
	}
}

func TestScanAndFormatRendersCharacterCard(t *testing.T) {
	characters := []model.Character{{
		Name:             "Elira",
		Archetype:        "Mentor",
		LorebookKeywords: []string{"elira"},
		CurrentMood:      "wary",
		CurrentStatus:    "in hiding",
		Goals:            []string{"protect the heir"},
	}}
	rendered, result := ScanAndFormat(characters, nil, "elira watched from the shadows", 8, 5)
	if len(result.Character) != 1 {
		t.Fatalf("expected one character hit")
	}
	if rendered == "" {
		t.Fatalf("expected non-empty rendered text")
	}
}
