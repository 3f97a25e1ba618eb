package storycontext

import (
	"context"
	"fmt"

	"github.com/antigravity-dev/narrativeengine/internal/provider"
)

// NewProviderSummarizer adapts a provider.Client into a Summarizer: one
// Generate call per prior chapter, asking for a tier-appropriate recap
// length. BuildRecap already falls back to hard truncation on any error
// this returns, so failures here are not wrapped further.
func NewProviderSummarizer(client provider.Client) Summarizer {
	return func(ctx context.Context, chapterBody string, tier Tier, targetChars int) (string, error) {
		req := provider.Request{
			Messages: []provider.Message{
				{Role: provider.RoleSystem, Content: fmt.Sprintf(
					"Summarize the following chapter in at most %d characters. Reply with the summary only, no preamble.",
					targetChars,
				)},
				{Role: provider.RoleUser, Content: chapterBody},
			},
			Temperature: 0.3,
			MaxTokens:   targetChars,
		}
		resp, err := client.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
}
