package costledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/antigravity-dev/narrativeengine/internal/engerr"
	"github.com/antigravity-dev/narrativeengine/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckBudgetAndAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	clock := fixedClock(time.Date(2026, 7, 31, 10, 0, 0, 0, time.Local))
	l, err := Open(path, 10.0, clock)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ok, err := l.CheckBudget(5.0)
	if err != nil || !ok {
		t.Fatalf("expected budget ok, got ok=%v err=%v", ok, err)
	}

	if err := l.Add(model.CostCall{Timestamp: clock(), Provider: "openai", Model: "gpt-4o-mini", InputTokens: 100, OutputTokens: 50, CostUSD: 5.0, TaskTag: "write"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ok, err = l.CheckBudget(6.0)
	if err != nil || ok {
		t.Fatalf("expected budget exceeded check to fail, got ok=%v err=%v", ok, err)
	}
}

func TestAddRejectsWhenBudgetExceeded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	clock := fixedClock(time.Date(2026, 7, 31, 10, 0, 0, 0, time.Local))
	l, err := Open(path, 1.0, clock)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := l.Add(model.CostCall{Timestamp: clock(), CostUSD: 0.5}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err = l.Add(model.CostCall{Timestamp: clock(), CostUSD: 0.6})
	if err == nil {
		t.Fatalf("expected budget-exceeded error")
	}
	if kind, ok := engerr.KindOf(err); !ok || kind != engerr.KindBudgetExceeded {
		t.Fatalf("expected KindBudgetExceeded, got %v (ok=%v)", kind, ok)
	}

	stats, err := l.Statistics(1)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Today != 0.5 {
		t.Fatalf("expected rejected append to leave total unchanged at 0.5, got %v", stats.Today)
	}
}

func TestStatisticsAggregatesAcrossDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	day1 := time.Date(2026, 7, 29, 12, 0, 0, 0, time.Local)
	day2 := time.Date(2026, 7, 30, 12, 0, 0, 0, time.Local)
	day3 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.Local)

	current := day1
	l, err := Open(path, 100.0, func() time.Time { return current })
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := l.Add(model.CostCall{Timestamp: day1, CostUSD: 1.0, InputTokens: 10, OutputTokens: 10}); err != nil {
		t.Fatalf("add day1: %v", err)
	}
	current = day2
	if err := l.Add(model.CostCall{Timestamp: day2, CostUSD: 2.0, InputTokens: 20, OutputTokens: 20}); err != nil {
		t.Fatalf("add day2: %v", err)
	}
	current = day3
	if err := l.Add(model.CostCall{Timestamp: day3, CostUSD: 3.0, InputTokens: 30, OutputTokens: 30}); err != nil {
		t.Fatalf("add day3: %v", err)
	}

	stats, err := l.Statistics(2)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Today != 3.0 {
		t.Fatalf("expected today's total 3.0, got %v", stats.Today)
	}
	if len(stats.Days) != 2 {
		t.Fatalf("expected 2 days of aggregates, got %d", len(stats.Days))
	}
	if stats.Days[0].Day >= stats.Days[1].Day {
		t.Fatalf("expected days in ascending order, got %+v", stats.Days)
	}
}

func TestResetBudgetRejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path, 10.0, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.ResetBudget(0); err == nil {
		t.Fatalf("expected rejection of zero budget")
	}
	if err := l.ResetBudget(-5); err == nil {
		t.Fatalf("expected rejection of negative budget")
	}
	if err := l.ResetBudget(20); err != nil {
		t.Fatalf("expected positive reset to succeed: %v", err)
	}
}

func TestAddIsSerializedUnderConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path, 1000.0, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Add(model.CostCall{CostUSD: 1.0, InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()

	stats, err := l.Statistics(0)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Today != 20.0 {
		t.Fatalf("expected all 20 concurrent appends to land, got total %v", stats.Today)
	}
}
