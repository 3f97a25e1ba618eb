package storycontext

import (
	"context"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

// CompressAndCache returns chapter's cached summary, computing and
// persisting a detailed-tier summary if none exists. Bodies no longer
// than the detailed tier target are stored verbatim without a model call.
func CompressAndCache(ctx context.Context, st *store.Store, chapter model.Chapter, summarize Summarizer) (string, error) {
	if chapter.Summary != nil {
		return *chapter.Summary, nil
	}

	target := tierTarget(TierDetailed)
	var summary string
	if len([]rune(chapter.Content)) <= target {
		summary = chapter.Content
	} else if summarize != nil {
		computed, err := summarize(ctx, chapter.Content, TierDetailed, target)
		if err != nil {
			summary = truncate(chapter.Content, target)
		} else {
			summary = computed
		}
	} else {
		summary = truncate(chapter.Content, target)
	}

	if err := st.UpdateChapterSummary(chapter.ID, summary); err != nil {
		return "", err
	}
	return summary, nil
}

func nonEmptyBody(c model.Chapter) bool {
	return strings.TrimSpace(c.Content) != ""
}
