package steps

import (
	"context"
	"time"

	"github.com/antigravity-dev/narrativeengine/internal/costledger"
	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
	"github.com/antigravity-dev/narrativeengine/internal/provider"
)

// Stats is the uniform usage/cost envelope every stage result embeds,
// per spec §4.7's "{content or structured data, usage, cost, stats}".
type Stats struct {
	Provider     string
	Model        string
	Usage        provider.Usage
	CostUSD      float64
	FinishReason provider.FinishReason
}

// charge estimates a call's cost from its request shape, rejects it
// against the ledger before any provider call (testable property 2),
// then — once the call has actually run — records the real cost.
type charge struct {
	client   provider.Client
	ledger   *costledger.Ledger
	taskTag  string
}

// checkBudget estimates cost from the request's token footprint and the
// worst case (max_tokens) output, and refuses the call up front if that
// would exceed the daily budget.
func (c charge) checkBudget(req provider.Request) error {
	if c.ledger == nil {
		return nil
	}
	var text string
	for _, m := range req.Messages {
		text += m.Content
	}
	estimatedInput := c.client.CountTokens(text)
	estimatedCost := c.client.EstimateCost(req.Model, estimatedInput, req.MaxTokens)

	ok, err := c.ledger.CheckBudget(estimatedCost)
	if err != nil {
		return err
	}
	if !ok {
		return engerr.BudgetExceeded("projected cost would exceed the daily budget")
	}
	return nil
}

// record appends the actual call outcome to the ledger.
func (c charge) record(resp provider.Response) error {
	if c.ledger == nil {
		return nil
	}
	return c.ledger.Add(model.CostCall{
		Timestamp:    time.Now(),
		Provider:     c.client.Name(),
		Model:        resp.Model,
		InputTokens:  resp.Usage.Input,
		OutputTokens: resp.Usage.Output,
		CostUSD:      resp.Cost,
		TaskTag:      c.taskTag,
	})
}

// generate runs the budget-checked, ledger-recorded call shared by every
// stage generator.
func generate(ctx context.Context, client provider.Client, ledger *costledger.Ledger, taskTag string, req provider.Request) (provider.Response, error) {
	c := charge{client: client, ledger: ledger, taskTag: taskTag}
	if err := c.checkBudget(req); err != nil {
		return provider.Response{}, err
	}
	resp, err := client.Generate(ctx, req)
	if err != nil {
		return provider.Response{}, err
	}
	if err := c.record(resp); err != nil {
		return provider.Response{}, err
	}
	return resp, nil
}

func statsOf(client provider.Client, resp provider.Response) Stats {
	return Stats{
		Provider:     client.Name(),
		Model:        resp.Model,
		Usage:        resp.Usage,
		CostUSD:      resp.Cost,
		FinishReason: resp.FinishReason,
	}
}
