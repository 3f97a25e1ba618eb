// Package storycontext assembles bounded context bundles for generation: a
// tiered-compression recap of recent chapters, lorebook character/world
// cards, and retrieved plot-arc cards.
package storycontext

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/model"
)

// NoPriorContext is the sentinel returned by BuildRecap for the first
// chapter of a volume.
const NoPriorContext = "no prior context"

// Tier classifies a prior chapter by its distance from the target chapter.
type Tier int

const (
	TierDetailed Tier = iota
	TierBrief
	TierMinimal
)

// tierTarget is the target character budget per tier, spec §4.6.
func tierTarget(t Tier) int {
	switch t {
	case TierDetailed:
		return 200
	case TierBrief:
		return 100
	default:
		return 50
	}
}

func tierForDistance(d int) Tier {
	switch {
	case d <= 3:
		return TierDetailed
	case d <= 10:
		return TierBrief
	default:
		return TierMinimal
	}
}

// charsPerToken is the Chinese-heavy-corpus calibration from spec §4.6.
const charsPerToken = 1.5

// Summarizer renders a tier-specific summary of a chapter's body via the
// provider. On error the caller falls back to hard truncation.
type Summarizer func(ctx context.Context, chapterBody string, tier Tier, targetChars int) (string, error)

// BuildRecap assembles the recap string for chapters preceding
// currentOrdinal within volume.chapters, visiting nearest-first within a
// character budget of tokenBudget*1.5.
func BuildRecap(ctx context.Context, chapters []model.Chapter, currentOrdinal, windowSize, tokenBudget int, summarize Summarizer) string {
	if currentOrdinal <= 1 {
		return NoPriorContext
	}

	lowerBound := currentOrdinal - windowSize
	if lowerBound < 1 {
		lowerBound = 1
	}

	byOrdinal := make(map[int]model.Chapter, len(chapters))
	for _, c := range chapters {
		byOrdinal[c.Ordinal] = c
	}

	type visit struct {
		chapter  model.Chapter
		distance int
	}
	var candidates []visit
	for ordinal := lowerBound; ordinal < currentOrdinal; ordinal++ {
		c, ok := byOrdinal[ordinal]
		if !ok || strings.TrimSpace(c.Content) == "" {
			continue
		}
		candidates = append(candidates, visit{chapter: c, distance: currentOrdinal - ordinal})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	budget := int(float64(tokenBudget) * charsPerToken)
	if budget <= 0 {
		return ""
	}

	type fragment struct {
		ordinal int
		text    string
	}
	var fragments []fragment

	for _, v := range candidates {
		if budget <= 0 {
			break
		}
		tier := tierForDistance(v.distance)
		target := tierTarget(tier)
		if budget < target {
			tier = TierMinimal
			target = tierTarget(tier)
			if budget < target {
				break
			}
		}

		text := summaryFor(ctx, v.chapter, tier, target, summarize)
		rendered := fmt.Sprintf("第%d章 %s: %s", v.chapter.Ordinal, v.chapter.Title, text)
		rendered = capToBudget(rendered, budget)
		budget -= len([]rune(rendered))

		fragments = append(fragments, fragment{ordinal: v.chapter.Ordinal, text: rendered})
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].ordinal < fragments[j].ordinal })

	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = f.text
	}
	return strings.Join(out, "\n\n")
}

func summaryFor(ctx context.Context, c model.Chapter, tier Tier, target int, summarize Summarizer) string {
	if c.Summary != nil && len(*c.Summary) <= int(1.5*float64(target)) {
		return truncate(*c.Summary, target)
	}
	if summarize == nil {
		return truncate(c.Content, target)
	}
	text, err := summarize(ctx, c.Content, tier, target)
	if err != nil {
		return truncate(c.Content, target)
	}
	return text
}

func truncate(s string, target int) string {
	runes := []rune(s)
	if len(runes) <= target {
		return s
	}
	return string(runes[:target]) + "…"
}

func capToBudget(s string, budget int) string {
	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	if budget <= 1 {
		return "…"
	}
	return string(runes[:budget-1]) + "…"
}
