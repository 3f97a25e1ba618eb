// Package lorebook scans free-form text for character and world-item
// keyword hits, the way the teacher's prompt builder extracts file paths
// from a bead description: substring matching, deduplicated and ranked,
// not a full-text search index.
package lorebook

import (
	"sort"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// Hit is one matched Character or WorldItem with its matched keywords and
// hit count.
type Hit struct {
	Name          string
	MatchedWords  []string
	HitCount      int
	Character     *model.Character
	WorldItem     *model.WorldItem
}

// ScanResult is the output of Scan: ranked, truncated world and character
// hits.
type ScanResult struct {
	World     []Hit
	Character []Hit
}

const (
	defaultMaxWorld     = 8
	defaultMaxCharacter = 5
)

// Scan finds every Character and WorldItem whose lorebook keywords (or,
// absent keywords, its own name) appear as a substring of text, ranks by
// hit count descending with insertion order as the tiebreak, and
// truncates to maxWorld/maxCharacter.
func Scan(characters []model.Character, worldItems []model.WorldItem, text string, maxWorld, maxCharacter int) ScanResult {
	if maxWorld <= 0 {
		maxWorld = defaultMaxWorld
	}
	if maxCharacter <= 0 {
		maxCharacter = defaultMaxCharacter
	}

	probe := strings.ToLower(text)

	var worldHits []Hit
	for i := range worldItems {
		w := worldItems[i]
		matched, count := matchKeywords(probe, keywordsOrName(w.LorebookKeywords, w.Name))
		if count == 0 {
			continue
		}
		worldHits = append(worldHits, Hit{Name: w.Name, MatchedWords: matched, HitCount: count, WorldItem: &worldItems[i]})
	}

	var charHits []Hit
	for i := range characters {
		c := characters[i]
		matched, count := matchKeywords(probe, keywordsOrName(c.LorebookKeywords, c.Name))
		if count == 0 {
			continue
		}
		charHits = append(charHits, Hit{Name: c.Name, MatchedWords: matched, HitCount: count, Character: &characters[i]})
	}

	stableSortByHitCountDesc(worldHits)
	stableSortByHitCountDesc(charHits)

	if len(worldHits) > maxWorld {
		worldHits = worldHits[:maxWorld]
	}
	if len(charHits) > maxCharacter {
		charHits = charHits[:maxCharacter]
	}

	return ScanResult{World: worldHits, Character: charHits}
}

func keywordsOrName(keywords []string, name string) []string {
	if len(keywords) == 0 {
		return []string{name}
	}
	return keywords
}

func matchKeywords(probe string, keywords []string) ([]string, int) {
	var matched []string
	count := 0
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(probe, strings.ToLower(kw)) {
			matched = append(matched, kw)
			count++
		}
	}
	return matched, count
}

// stableSortByHitCountDesc sorts by hit count descending, preserving
// relative order among equal counts (insertion order is the tiebreak).
func stableSortByHitCountDesc(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].HitCount > hits[j].HitCount
	})
}
