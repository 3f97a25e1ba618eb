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

// ConsistencyChecker runs the audit-only consistency check: a
// report-only pass over a chapter that never mutates its body.
type ConsistencyChecker struct {
	Client provider.Client
	Store  *store.Store
	Ledger *costledger.Ledger
}

// ConsistencyIssue is one flagged inconsistency.
type ConsistencyIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type consistencyPayload struct {
	OverallRisk string             `json:"overall_risk"`
	Summary     string             `json:"summary"`
	Issues      []ConsistencyIssue `json:"issues"`
}

// ConsistencyResult is the check_consistency output envelope.
type ConsistencyResult struct {
	OverallRisk string
	Summary     string
	Issues      []ConsistencyIssue
	Stats       Stats
}

// Check audits chapterID's body (or overrideText, if given, for a
// what-if check against content not yet saved) against its known
// characters and world items. It never writes to the chapter.
func (g ConsistencyChecker) Check(ctx context.Context, chapterID int64, overrideText string, strict bool) (ConsistencyResult, error) {
	chapter, err := g.Store.GetChapter(chapterID)
	if err != nil {
		return ConsistencyResult{}, err
	}
	body := chapter.Content
	if strings.TrimSpace(overrideText) != "" {
		body = overrideText
	}
	if strings.TrimSpace(body) == "" {
		return ConsistencyResult{}, engerr.InsufficientData("consistency check requires a chapter body")
	}

	projectID, err := g.Store.GetProjectIDForChapter(chapterID)
	if err != nil {
		return ConsistencyResult{}, err
	}
	characters, err := g.Store.ListCharacters(projectID)
	if err != nil {
		return ConsistencyResult{}, err
	}
	worldItems, err := g.Store.ListWorldItems(projectID)
	if err != nil {
		return ConsistencyResult{}, err
	}

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: consistencySystemPrompt(strict)},
			{Role: provider.RoleUser, Content: buildConsistencyPrompt(chapter, body, characters, worldItems)},
		},
		Temperature: 0.2,
		MaxTokens:   2048,
	}

	resp, err := generate(ctx, g.Client, g.Ledger, "consistency-check", req)
	if err != nil {
		return ConsistencyResult{}, err
	}
	stats := statsOf(g.Client, resp)

	extracted, ok := ExtractJSON(resp.Text)
	if !ok {
		return ConsistencyResult{}, engerr.ProviderOther("consistency check reply was not parseable JSON", nil)
	}
	var payload consistencyPayload
	if err := json.Unmarshal([]byte(extracted), &payload); err != nil {
		return ConsistencyResult{}, engerr.ProviderOther("consistency check reply was not parseable JSON", err)
	}

	return ConsistencyResult{
		OverallRisk: payload.OverallRisk,
		Summary:     payload.Summary,
		Issues:      payload.Issues,
		Stats:       stats,
	}, nil
}

func consistencySystemPrompt(strict bool) string {
	base := `You are a continuity auditor. Check the chapter body against the known characters and world for ` +
		`contradictions. Never rewrite the text. Reply with a single JSON object: ` +
		`{"overall_risk", "summary", "issues": [{"severity","description","location"}]}. ` +
		`Wrap the JSON in a fenced ` + "```json" + ` code block.`
	if strict {
		base += " Flag even minor or speculative inconsistencies."
	}
	return base
}

func buildConsistencyPrompt(chapter model.Chapter, body string, characters []model.Character, worldItems []model.WorldItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\n\n", chapter.Ordinal, chapter.Title)
	fmt.Fprintf(&b, "Body:\n%s\n\n", body)
	b.WriteString("Known characters:\n")
	for _, c := range characters {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Background)
	}
	b.WriteString("\nKnown world items:\n")
	for _, w := range worldItems {
		fmt.Fprintf(&b, "- %s: %s\n", w.Name, w.Description)
	}
	return b.String()
}
