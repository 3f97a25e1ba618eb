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

const defaultClaudeBaseURL = "https://api.anthropic.com/v1"

// claudeClient talks to the messages API, which separates the system
// prompt from the turn-taking message list.
type claudeClient struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func newClaudeClient(name string, creds Credentials, timeoutSeconds float64) (Client, error) {
	base := creds.BaseURL
	if base == "" {
		base = defaultClaudeBaseURL
	}
	return &claudeClient{
		name:    name,
		apiKey:  creds.APIKey,
		baseURL: base,
		model:   creds.Model,
		client:  &http.Client{Timeout: requestTimeout(timeoutSeconds)},
	}, nil
}

func (c *claudeClient) Name() string { return c.name }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	Model      string               `json:"model"`
	Content    []claudeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      claudeUsage          `json:"usage"`
	Error      *claudeErrorPayload  `json:"error,omitempty"`
}

type claudeErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *claudeClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := claudeRequest{Model: model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if body.System != "" {
				body.System += "\n\n"
			}
			body.System += m.Content
			continue
		}
		body.Messages = append(body.Messages, claudeMessage{Role: string(m.Role), Content: m.Content})
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

func (c *claudeClient) doRequest(ctx context.Context, body claudeRequest) (Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("provider claude: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("provider claude: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, engerr.ProviderOther("claude request failed", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("provider claude: read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return Response{}, engerr.ProviderRateLimit("claude rate limited", fmt.Errorf("status %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return Response{}, engerr.ProviderAuth("claude authentication failed", fmt.Errorf("status %d", httpResp.StatusCode))
	}

	var parsed claudeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("provider claude: decode response: %w", err)
	}

	if parsed.Error != nil {
		if parsed.Error.Type == "invalid_request_error" && containsFold(parsed.Error.Message, "max_tokens") {
			return Response{}, engerr.ProviderTokenLimit("claude token limit exceeded", errors.New(parsed.Error.Message))
		}
		return Response{}, engerr.ProviderOther("claude error response", errors.New(parsed.Error.Message))
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, engerr.ProviderOther("claude non-OK status", fmt.Errorf("status %d: %s", httpResp.StatusCode, string(raw)))
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	usage := Usage{Input: parsed.Usage.InputTokens, Output: parsed.Usage.OutputTokens}
	usage.Total = usage.Input + usage.Output
	if usage.Input == 0 && usage.Output == 0 {
		usage.Input = c.CountTokens(body.System + joinMessages(body.Messages))
		usage.Output = c.CountTokens(text)
		usage.Total = usage.Input + usage.Output
	}

	model := parsed.Model
	if model == "" {
		model = body.Model
	}

	reason := FinishStop
	if parsed.StopReason == "max_tokens" {
		reason = FinishLength
	} else if parsed.StopReason != "end_turn" && parsed.StopReason != "stop_sequence" {
		reason = FinishOther
	}

	return Response{
		Text:         text,
		Usage:        usage,
		Cost:         c.EstimateCost(model, usage.Input, usage.Output),
		Model:        model,
		FinishReason: reason,
	}, nil
}

func joinMessages(msgs []claudeMessage) string {
	var out string
	for _, m := range msgs {
		out += m.Content
	}
	return out
}

func (c *claudeClient) CountTokens(text string) int {
	return estimateTokens(text, charsPerTokenGeneric)
}

func (c *claudeClient) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return cost(priceFor(claudePricing, claudeDefault, model), inputTokens, outputTokens)
}
