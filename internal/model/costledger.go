package model

import "time"

// CostCall is one append-only ledger entry.
type CostCall struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	TaskTag      string  `json:"task_tag"`
}

// DayAggregate is the per-day rollup of cost-ledger calls.
type DayAggregate struct {
	TotalCost   float64    `json:"total_cost"`
	TotalTokens int        `json:"total_tokens"`
	CallCount   int        `json:"call_count"`
	Calls       []CostCall `json:"calls"`
}

// LedgerDocument is the on-disk shape of the cost ledger JSON file, keyed
// by "yyyy-mm-dd".
type LedgerDocument map[string]*DayAggregate

// DayStats is one day's aggregate returned from Ledger.Statistics.
type DayStats struct {
	Day         string  `json:"day"`
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int     `json:"total_tokens"`
	CallCount   int     `json:"call_count"`
}

// LedgerStatistics is the return shape of Ledger.Statistics.
type LedgerStatistics struct {
	Budget    float64    `json:"budget"`
	Today     float64    `json:"today_total"`
	Remaining float64    `json:"remaining"`
	Days      []DayStats `json:"days"`
}
