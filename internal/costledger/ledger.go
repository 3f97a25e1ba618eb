// Package costledger enforces a daily spend cap against a flat JSON
// document on disk, persisted atomically on every append.
package costledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

const dayLayout = "2006-01-02"

// Ledger enforces a daily budget and persists an append-only history to a
// JSON document, grounded on the teacher's daily-cost-cap check
// (internal/scheduler/cost_control.go) and single-mutex admission-control
// pattern (internal/scheduler/concurrency_control.go), adapted from a SQL
// read to a file-backed document.
type Ledger struct {
	mu     sync.Mutex
	path   string
	budget float64
	now    func() time.Time
}

// Open loads (or initializes) the ledger document at path with the given
// daily budget. now is the clock used for day-boundary computation; pass
// nil to use time.Now.
func Open(path string, dailyBudgetUSD float64, now func() time.Time) (*Ledger, error) {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{path: path, budget: dailyBudgetUSD, now: now}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.writeDocument(model.LedgerDocument{}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) today() string {
	return l.now().Format(dayLayout)
}

func (l *Ledger) readDocument() (model.LedgerDocument, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.LedgerDocument{}, nil
		}
		return nil, fmt.Errorf("costledger: read document: %w", err)
	}
	if len(raw) == 0 {
		return model.LedgerDocument{}, nil
	}
	var doc model.LedgerDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("costledger: decode document: %w", err)
	}
	if doc == nil {
		doc = model.LedgerDocument{}
	}
	return doc, nil
}

// writeDocument persists doc atomically via a temp file in the same
// directory followed by a rename, so a reader never observes a partial
// write.
func (l *Ledger) writeDocument(doc model.LedgerDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("costledger: encode document: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, "costledger-*.json.tmp")
	if err != nil {
		return fmt.Errorf("costledger: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("costledger: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("costledger: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("costledger: rename temp file: %w", err)
	}
	return nil
}

// CheckBudget reports whether today's running total plus projectedCost
// would still be within the configured daily budget.
func (l *Ledger) CheckBudget(projectedCost float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkBudgetLocked(projectedCost)
}

func (l *Ledger) checkBudgetLocked(projectedCost float64) (bool, error) {
	doc, err := l.readDocument()
	if err != nil {
		return false, err
	}
	today := doc[l.today()]
	total := 0.0
	if today != nil {
		total = today.TotalCost
	}
	return total+projectedCost <= l.budget, nil
}

// Add appends a call entry to today's aggregate. If the new total would
// exceed the budget, the append is rejected and the document is left
// unchanged.
func (l *Ledger) Add(call model.CostCall) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readDocument()
	if err != nil {
		return err
	}

	day := l.today()
	agg := doc[day]
	if agg == nil {
		agg = &model.DayAggregate{}
		doc[day] = agg
	}

	projectedTotal := agg.TotalCost + call.CostUSD
	if projectedTotal > l.budget {
		return engerr.BudgetExceeded(fmt.Sprintf("daily budget %.2f would be exceeded (projected total %.2f)", l.budget, projectedTotal))
	}

	agg.TotalCost = projectedTotal
	agg.TotalTokens += call.InputTokens + call.OutputTokens
	agg.CallCount++
	agg.Calls = append(agg.Calls, call)

	return l.writeDocument(doc)
}

// Statistics returns the active budget, today's total and remaining
// headroom, and per-day aggregates for the last n days (including today).
func (l *Ledger) Statistics(n int) (model.LedgerStatistics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readDocument()
	if err != nil {
		return model.LedgerStatistics{}, err
	}

	todayKey := l.today()
	todayTotal := 0.0
	if agg := doc[todayKey]; agg != nil {
		todayTotal = agg.TotalCost
	}

	stats := model.LedgerStatistics{
		Budget:    l.budget,
		Today:     todayTotal,
		Remaining: l.budget - todayTotal,
	}

	if n <= 0 {
		return stats, nil
	}

	cutoff := l.now().AddDate(0, 0, -(n - 1)).Format(dayLayout)
	days := make([]string, 0, len(doc))
	for day := range doc {
		if day >= cutoff && day <= todayKey {
			days = append(days, day)
		}
	}
	sort.Strings(days)

	for _, day := range days {
		agg := doc[day]
		stats.Days = append(stats.Days, model.DayStats{
			Day:         day,
			TotalCost:   agg.TotalCost,
			TotalTokens: agg.TotalTokens,
			CallCount:   agg.CallCount,
		})
	}
	return stats, nil
}

// ResetBudget updates the active daily limit. Non-positive values are
// rejected.
func (l *Ledger) ResetBudget(newValue float64) error {
	if newValue <= 0 {
		return engerr.InvalidFormat("daily budget must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budget = newValue
	return nil
}
