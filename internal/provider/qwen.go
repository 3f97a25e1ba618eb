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

const defaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// qwenClient talks to DashScope's OpenAI-compatible chat-completions
// endpoint. DashScope does not reliably report usage for every model, so
// this client always falls back to the character-length heuristic.
type qwenClient struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func newQwenClient(name string, creds Credentials, timeoutSeconds float64) (Client, error) {
	base := creds.BaseURL
	if base == "" {
		base = defaultQwenBaseURL
	}
	return &qwenClient{
		name:    name,
		apiKey:  creds.APIKey,
		baseURL: base,
		model:   creds.Model,
		client:  &http.Client{Timeout: requestTimeout(timeoutSeconds)},
	}, nil
}

func (c *qwenClient) Name() string { return c.name }

func (c *qwenClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := openAIChatRequest{Model: model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
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

func (c *qwenClient) doRequest(ctx context.Context, body openAIChatRequest) (Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("provider qwen: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("provider qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, engerr.ProviderOther("qwen request failed", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("provider qwen: read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return Response{}, engerr.ProviderRateLimit("qwen rate limited", fmt.Errorf("status %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return Response{}, engerr.ProviderAuth("qwen authentication failed", fmt.Errorf("status %d", httpResp.StatusCode))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("provider qwen: decode response: %w", err)
	}
	if parsed.Error != nil {
		if isTokenLimitError(parsed.Error.Code, parsed.Error.Message) {
			return Response{}, engerr.ProviderTokenLimit("qwen token limit exceeded", errors.New(parsed.Error.Message))
		}
		return Response{}, engerr.ProviderOther("qwen error response", errors.New(parsed.Error.Message))
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, engerr.ProviderOther("qwen non-OK status", fmt.Errorf("status %d: %s", httpResp.StatusCode, string(raw)))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, engerr.ProviderOther("qwen returned no choices", nil)
	}

	choice := parsed.Choices[0]
	// Character-length heuristic, not provider-reported usage: DashScope
	// omits usage for several model families.
	inputTokens := c.CountTokens(requestText(body))
	outputTokens := c.CountTokens(choice.Message.Content)

	model := parsed.Model
	if model == "" {
		model = body.Model
	}

	return Response{
		Text:         choice.Message.Content,
		Usage:        Usage{Input: inputTokens, Output: outputTokens, Total: inputTokens + outputTokens},
		Cost:         c.EstimateCost(model, inputTokens, outputTokens),
		Model:        model,
		FinishReason: normalizeFinishReason(choice.FinishReason),
	}, nil
}

func (c *qwenClient) CountTokens(text string) int {
	return estimateTokens(text, charsPerTokenGeneric)
}

func (c *qwenClient) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return cost(priceFor(qwenPricing, qwenDefault, model), inputTokens, outputTokens)
}
