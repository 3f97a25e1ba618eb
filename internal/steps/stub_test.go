package steps

import (
	"context"
	"errors"

	"github.com/antigravity-dev/narrativeengine/internal/provider"
)

// stubClient is a scripted provider.Client: each Generate call consumes
// the next entry in replies (and, if present, finishReasons), so tests
// can assert exactly how many calls a generator made.
type stubClient struct {
	name          string
	replies       []string
	finishReasons []provider.FinishReason
	calls         int
}

func (s *stubClient) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	i := s.calls
	s.calls++
	if i >= len(s.replies) {
		return provider.Response{}, errors.New("stub client: no more scripted replies")
	}
	fr := provider.FinishStop
	if i < len(s.finishReasons) {
		fr = s.finishReasons[i]
	}
	text := s.replies[i]
	return provider.Response{
		Text:         text,
		Usage:        provider.Usage{Input: s.CountTokens(req.Messages[len(req.Messages)-1].Content), Output: s.CountTokens(text)},
		Cost:         0.0001,
		Model:        "stub-model",
		FinishReason: fr,
	}, nil
}

func (s *stubClient) CountTokens(text string) int { return len(text)/4 + 1 }

func (s *stubClient) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) * 0.000001
}

func (s *stubClient) Name() string { return s.name }
