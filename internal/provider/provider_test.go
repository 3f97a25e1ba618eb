package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
)

func TestRegistryBuildRejectsMissingCredentials(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build("openai", Credentials{}, 0); err == nil {
		t.Fatalf("expected error for empty api key")
	}
	if _, err := r.Build("openai", Credentials{APIKey: "changeme"}, 0); err == nil {
		t.Fatalf("expected error for placeholder api key")
	}
}

func TestRegistryUnknownNameTreatedAsOpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIChatResponse{
			Model:   "local-model",
			Choices: []openAIChatChoice{{Message: openAIChatMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
			Usage:   openAIUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		})
	}))
	defer srv.Close()

	r := NewRegistry()
	client, err := r.Build("my-custom-provider", Credentials{APIKey: "sk-real", BaseURL: srv.URL}, 5)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	resp, err := client.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}, Model: "local-model"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "hi" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
}

func TestOpenAIClientGenerateUsesReportedUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIChatResponse{
			Model:   "gpt-4o-mini",
			Choices: []openAIChatChoice{{Message: openAIChatMessage{Role: "assistant", Content: "result text"}, FinishReason: "stop"}},
			Usage:   openAIUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	c, err := newOpenAIClient("openai", Credentials{APIKey: "sk-test", BaseURL: srv.URL}, 5)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := c.Generate(context.Background(), Request{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Usage.Input != 10 || resp.Usage.Output != 5 {
		t.Fatalf("expected reported usage, got %+v", resp.Usage)
	}
	if resp.Cost <= 0 {
		t.Fatalf("expected positive cost, got %v", resp.Cost)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("expected stop finish reason, got %v", resp.FinishReason)
	}
}

func TestOpenAIClientSurfacesAuthErrorWithoutRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newOpenAIClient("openai", Credentials{APIKey: "sk-test", BaseURL: srv.URL}, 5)
	_, err := c.Generate(context.Background(), Request{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatalf("expected auth error")
	}
	if kind, ok := engerr.KindOf(err); !ok || kind != engerr.KindProviderAuth {
		t.Fatalf("expected KindProviderAuth, got %v (ok=%v)", kind, ok)
	}
	if calls != 1 {
		t.Fatalf("expected no retries for auth error, got %d calls", calls)
	}
}

func TestOpenAIClientRetriesRateLimitThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(openAIChatResponse{
			Model:   "gpt-4o-mini",
			Choices: []openAIChatChoice{{Message: openAIChatMessage{Role: "assistant", Content: "ok"}, FinishReason: "stop"}},
			Usage:   openAIUsage{PromptTokens: 1, CompletionTokens: 1},
		})
	}))
	defer srv.Close()

	c, _ := newOpenAIClient("openai", Credentials{APIKey: "sk-test", BaseURL: srv.URL}, 5)
	resp, err := c.Generate(context.Background(), Request{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("generate after retries: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls (2 failures + success), got %d", calls)
	}
}

func TestOpenAIClientExhaustsRetriesOnPersistentRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newOpenAIClient("openai", Credentials{APIKey: "sk-test", BaseURL: srv.URL}, 5)
	_, err := c.Generate(context.Background(), Request{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil {
		t.Fatalf("expected rate limit error after exhausting retries")
	}
	if kind, ok := engerr.KindOf(err); !ok || kind != engerr.KindProviderRateLimit {
		t.Fatalf("expected KindProviderRateLimit, got %v (ok=%v)", kind, ok)
	}
	if calls != 4 {
		t.Fatalf("expected 1 initial + 3 retries = 4 calls, got %d", calls)
	}
}

func TestClaudeClientSeparatesSystemMessage(t *testing.T) {
	var captured claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(claudeResponse{
			Model:      "claude-sonnet-4-5",
			Content:    []claudeContentBlock{{Type: "text", Text: "reply"}},
			StopReason: "end_turn",
			Usage:      claudeUsage{InputTokens: 7, OutputTokens: 2},
		})
	}))
	defer srv.Close()

	c, _ := newClaudeClient("claude", Credentials{APIKey: "sk-ant-test", BaseURL: srv.URL}, 5)
	_, err := c.Generate(context.Background(), Request{
		Model: "claude-sonnet-4-5",
		Messages: []Message{
			{Role: RoleSystem, Content: "you are a narrator"},
			{Role: RoleUser, Content: "continue the story"},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if captured.System != "you are a narrator" {
		t.Fatalf("expected system prompt separated out, got %q", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("expected only the user turn in messages, got %+v", captured.Messages)
	}
}

func TestQwenClientAlwaysUsesCharacterHeuristic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// DashScope omits usage for several model families; the client
		// must not crash or report zero cost in that case.
		json.NewEncoder(w).Encode(openAIChatResponse{
			Model:   "qwen-plus",
			Choices: []openAIChatChoice{{Message: openAIChatMessage{Role: "assistant", Content: "a reply of some length"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	c, _ := newQwenClient("qwen", Credentials{APIKey: "sk-test", BaseURL: srv.URL}, 5)
	resp, err := c.Generate(context.Background(), Request{Model: "qwen-plus", Messages: []Message{{Role: RoleUser, Content: "hello there"}}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Usage.Input == 0 || resp.Usage.Output == 0 {
		t.Fatalf("expected heuristic usage to be non-zero, got %+v", resp.Usage)
	}
}

func TestEstimateCostUnknownModelFallsBackToFamilyDefault(t *testing.T) {
	c, _ := newOpenAIClient("openai", Credentials{APIKey: "sk-test"}, 0)
	known := c.EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	unknown := c.EstimateCost("some-future-model-nobody-has-priced", 1_000_000, 1_000_000)
	if unknown != c.EstimateCost("", 1_000_000, 1_000_000) {
		t.Fatalf("expected unknown model to use family default pricing")
	}
	if known == unknown {
		t.Fatalf("expected different pricing between a known cheap model and the default")
	}
}
