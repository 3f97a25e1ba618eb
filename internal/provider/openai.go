package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIClient talks to an OpenAI-compatible chat-completions endpoint.
// Any user-registered provider not in the built-in set is serviced by
// this same client, per contract.
type openAIClient struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func newOpenAIClient(name string, creds Credentials, timeoutSeconds float64) (Client, error) {
	base := creds.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return &openAIClient{
		name:    name,
		apiKey:  creds.APIKey,
		baseURL: base,
		model:   creds.Model,
		client:  &http.Client{Timeout: requestTimeout(timeoutSeconds)},
	}, nil
}

func requestTimeout(seconds float64) time.Duration {
	if seconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

func (c *openAIClient) Name() string { return c.name }

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

type openAIChatChoice struct {
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	Model   string              `json:"model"`
	Choices []openAIChatChoice  `json:"choices"`
	Usage   openAIUsage         `json:"usage"`
	Error   *openAIErrorPayload `json:"error,omitempty"`
}

type openAIErrorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := openAIChatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIChatMessage{Role: string(m.Role), Content: m.Content})
	}

	policy := DefaultRetryPolicy()
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}

		kind, isEngineErr := engerr.KindOf(err)
		if !isEngineErr || kind != engerr.KindProviderRateLimit {
			return Response{}, err
		}
		lastErr = err

		delay, ok := policy.NextDelay(attempt + 1)
		if !ok {
			break
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return Response{}, lastErr
}

func (c *openAIClient) doRequest(ctx context.Context, body openAIChatRequest) (Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("provider openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("provider openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, engerr.ProviderOther("openai request failed", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("provider openai: read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return Response{}, engerr.ProviderRateLimit("openai rate limited", fmt.Errorf("status %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return Response{}, engerr.ProviderAuth("openai authentication failed", fmt.Errorf("status %d", httpResp.StatusCode))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("provider openai: decode response: %w", err)
	}

	if parsed.Error != nil {
		if isTokenLimitError(parsed.Error.Code, parsed.Error.Message) {
			return Response{}, engerr.ProviderTokenLimit("openai token limit exceeded", errors.New(parsed.Error.Message))
		}
		return Response{}, engerr.ProviderOther("openai error response", errors.New(parsed.Error.Message))
	}

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, engerr.ProviderOther("openai non-OK status", fmt.Errorf("status %d: %s", httpResp.StatusCode, string(raw)))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, engerr.ProviderOther("openai returned no choices", nil)
	}

	choice := parsed.Choices[0]
	usage := Usage{Input: parsed.Usage.PromptTokens, Output: parsed.Usage.CompletionTokens, Total: parsed.Usage.TotalTokens}
	if usage.Input == 0 && usage.Output == 0 {
		usage.Input = c.CountTokens(requestText(body))
		usage.Output = c.CountTokens(choice.Message.Content)
		usage.Total = usage.Input + usage.Output
	}

	model := parsed.Model
	if model == "" {
		model = body.Model
	}

	return Response{
		Text:         choice.Message.Content,
		Usage:        usage,
		Cost:         c.EstimateCost(model, usage.Input, usage.Output),
		Model:        model,
		FinishReason: normalizeFinishReason(choice.FinishReason),
	}, nil
}

func requestText(body openAIChatRequest) string {
	var total string
	for _, m := range body.Messages {
		total += m.Content
	}
	return total
}

func isTokenLimitError(code, message string) bool {
	return code == "context_length_exceeded" || code == "string_above_max_length" ||
		containsFold(message, "maximum context length") || containsFold(message, "token limit")
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl := []rune(haystack)
	nl := []rune(needle)
	for i := 0; i+len(nl) <= len(hl); i++ {
		match := true
		for j := range nl {
			a, b := hl[i+j], nl[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func normalizeFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

func (c *openAIClient) CountTokens(text string) int {
	return estimateTokens(text, charsPerTokenOpenAI)
}

func (c *openAIClient) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return cost(priceFor(openAIPricing, openAIDefault, model), inputTokens, outputTokens)
}
