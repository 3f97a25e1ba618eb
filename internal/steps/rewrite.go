package steps

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
	"github.com/antigravity-dev/narrativeengine/internal/rewritehistory"
	"github.com/antigravity-dev/narrativeengine/internal/store"
)

var paragraphSplitRe = regexp.MustCompile(`\n{2,}`)

// Rewriter runs the paragraph-scoped or whole-chapter rewrite operation
// and its rollback sibling.
type Rewriter struct {
	Client  provider.Client
	Store   *store.Store
	Ledger  *costledger.Ledger
	History *rewritehistory.Journal
}

// RewriteParams configures one Rewrite call.
type RewriteParams struct {
	Instruction  string
	Scope        model.RewriteScope
	RangeStart   int // 1-based, inclusive; ignored for RewriteScopeChapter
	RangeEnd     int
	PreservePlot bool
	Mode         string
	Save         bool
}

// RewriteResult is the rewrite output envelope.
type RewriteResult struct {
	Original    string
	New         string
	Diff        model.DiffSummary
	HistoryID   string
	Saved       bool
	Stats       Stats
}

// Rewrite splits the chapter body into blank-line-delimited paragraphs,
// sends the selected range to the provider with instruction, and
// replaces that range with the reply. If params.Save, the new body is
// persisted and the event is appended to the chapter's rewrite-history
// file; otherwise this is a preview and nothing is written.
func (g Rewriter) Rewrite(ctx context.Context, chapterID int64, params RewriteParams) (RewriteResult, error) {
	chapter, err := g.Store.GetChapter(chapterID)
	if err != nil {
		return RewriteResult{}, err
	}
	if strings.TrimSpace(chapter.Content) == "" {
		return RewriteResult{}, engerr.InsufficientData("rewrite requires an existing chapter body")
	}

	paragraphs := splitParagraphs(chapter.Content)
	start, end := 0, len(paragraphs)-1
	if params.Scope == model.RewriteScopeParagraph {
		start, end = params.RangeStart-1, params.RangeEnd-1
		if start < 0 || end < start || end >= len(paragraphs) {
			return RewriteResult{}, engerr.InvalidFormat(fmt.Sprintf("paragraph range [%d,%d] out of bounds for %d paragraphs", params.RangeStart, params.RangeEnd, len(paragraphs)))
		}
	}
	selected := strings.Join(paragraphs[start:end+1], "\n\n")

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: rewriteSystemPrompt(params.PreservePlot, params.Mode)},
			{Role: provider.RoleUser, Content: fmt.Sprintf("Instruction: %s\n\nText to rewrite:\n%s", params.Instruction, selected)},
		},
		Temperature: 0.7,
		MaxTokens:   2048,
	}
	resp, err := generate(ctx, g.Client, g.Ledger, "rewrite", req)
	if err != nil {
		return RewriteResult{}, err
	}

	replaced := make([]string, len(paragraphs))
	copy(replaced, paragraphs)
	replaced = append(replaced[:start], append([]string{resp.Text}, replaced[end+1:]...)...)
	newBody := strings.Join(replaced, "\n\n")

	diff := model.DiffSummary{
		SimilarityRatio: similarityRatio(chapter.Content, newBody),
		LengthDelta:     len([]rune(newBody)) - len([]rune(chapter.Content)),
	}

	result := RewriteResult{
		Original: chapter.Content,
		New:      newBody,
		Diff:     diff,
		Stats:    statsOf(g.Client, resp),
	}

	if params.Save {
		historyID, err := g.History.Append(chapterID, chapter.Title, params.Instruction, params.Mode, params.Scope, chapter.Content, newBody)
		if err != nil {
			return RewriteResult{}, err
		}
		if err := g.Store.UpdateChapterBody(chapterID, newBody, false); err != nil {
			return RewriteResult{}, err
		}
		result.HistoryID = historyID
		result.Saved = true
	}

	return result, nil
}

// RollbackResult is the rollback output envelope.
type RollbackResult struct {
	RolledBackContent string
	Saved             bool
	HistoryID         string
}

// Rollback restores a chapter's body to the original_content recorded
// for historyID (or the newest history entry if historyID is empty). It
// never appends a new history entry.
func (g Rewriter) Rollback(chapterID int64, historyID string, save bool) (RollbackResult, error) {
	entry, err := g.History.Find(chapterID, historyID)
	if err != nil {
		return RollbackResult{}, err
	}

	if save {
		if err := g.Store.UpdateChapterBody(chapterID, entry.OriginalContent, false); err != nil {
			return RollbackResult{}, err
		}
	}

	return RollbackResult{RolledBackContent: entry.OriginalContent, Saved: save, HistoryID: entry.HistoryID}, nil
}

func splitParagraphs(body string) []string {
	return paragraphSplitRe.Split(body, -1)
}

func rewriteSystemPrompt(preservePlot bool, mode string) string {
	base := "You rewrite prose per an instruction. Reply with only the replacement text, no commentary."
	if preservePlot {
		base += " Preserve all plot-relevant facts and events exactly."
	}
	if mode != "" {
		base += fmt.Sprintf(" Rewrite mode: %s.", mode)
	}
	return base
}

// similarityRatio is difflib's classic 2*M/T ratio, with M the length of
// the longest common subsequence and T the combined length of both texts.
func similarityRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	m := lcsLength(ra, rb)
	return 2 * float64(m) / float64(len(ra)+len(rb))
}

func lcsLength(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
