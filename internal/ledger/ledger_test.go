package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nvbach/ai-orchestrator/internal/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLedger(budget float64, opts ...Option) (*Ledger, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(DefaultConfig(budget), opts...), clock
}

func entry(providerName, model string, cost float64) Entry {
	return Entry{
		RequestID: "req-1",
		Provider:  providerName,
		Model:     model,
		Category:  "sales",
		Usage:     provider.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Cost:      cost,
		Latency:   120 * time.Millisecond,
	}
}

func TestTrackCost_ExactTotals(t *testing.T) {
	l, _ := newTestLedger(100)

	l.TrackCost(entry("openai", "gpt-4o", 30))
	l.TrackCost(entry("claude", "claude-sonnet-4", 40))
	l.TrackCost(entry("openai", "gpt-4o-mini", 35))

	s := l.Snapshot()
	if math.Abs(s.Total-105) > 1e-9 {
		t.Errorf("Expected total 105, got %f", s.Total)
	}
	if math.Abs(s.Utilization-1.05) > 1e-9 {
		t.Errorf("Expected utilization 1.05, got %f", s.Utilization)
	}
	if math.Abs(s.ByProvider["openai"]-65) > 1e-9 {
		t.Errorf("Expected openai 65, got %f", s.ByProvider["openai"])
	}
	if math.Abs(s.ByModel["gpt-4o"]-30) > 1e-9 {
		t.Errorf("Expected gpt-4o 30, got %f", s.ByModel["gpt-4o"])
	}
	if math.Abs(s.ByCategory["sales"]-105) > 1e-9 {
		t.Errorf("Expected sales category 105, got %f", s.ByCategory["sales"])
	}
	if s.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", s.Requests)
	}
	if math.Abs(s.CostPerRequest-35) > 1e-9 {
		t.Errorf("Expected cost per request 35, got %f", s.CostPerRequest)
	}

	err := l.CheckBudget()
	var be *BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("Expected BudgetExceededError once spend passes budget, got %v", err)
	}
	if be.Spent != 105 || be.Budget != 100 {
		t.Errorf("Unexpected error payload: %+v", be)
	}
}

func TestTrackCost_Concurrent(t *testing.T) {
	l, _ := newTestLedger(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.TrackCost(entry("openai", "gpt-4o-mini", 0.02))
		}()
	}
	wg.Wait()

	s := l.Snapshot()
	if math.Abs(s.Total-1.0) > 1e-9 {
		t.Errorf("Expected exact sum 1.0 under concurrency, got %f", s.Total)
	}
	if s.Requests != 50 {
		t.Errorf("Expected 50 requests, got %d", s.Requests)
	}
}

func TestAlerts_FireOncePerLevel(t *testing.T) {
	var alerts []Alert
	l, _ := newTestLedger(100, WithAlertFunc(func(a Alert) {
		alerts = append(alerts, a)
	}))

	l.TrackCost(entry("openai", "gpt-4o", 69)) // 0.69, below info
	if len(alerts) != 0 {
		t.Fatalf("No alert expected below info threshold, got %v", alerts)
	}

	l.TrackCost(entry("openai", "gpt-4o", 1)) // 0.70
	if len(alerts) != 1 || alerts[0].Level != LevelInfo {
		t.Fatalf("Expected single info alert, got %v", alerts)
	}

	l.TrackCost(entry("openai", "gpt-4o", 10)) // 0.80, still info range
	if len(alerts) != 1 {
		t.Fatalf("Info must not re-fire, got %v", alerts)
	}

	l.TrackCost(entry("openai", "gpt-4o", 5)) // 0.85
	if len(alerts) != 2 || alerts[1].Level != LevelWarning {
		t.Fatalf("Expected warning alert, got %v", alerts)
	}

	l.TrackCost(entry("openai", "gpt-4o", 10)) // 0.95
	if len(alerts) != 3 || alerts[2].Level != LevelCritical {
		t.Fatalf("Expected critical alert, got %v", alerts)
	}

	l.TrackCost(entry("openai", "gpt-4o", 10)) // 1.05
	if len(alerts) != 3 {
		t.Fatalf("No further alerts past critical, got %v", alerts)
	}
}

func TestAlerts_JumpFiresOnlyHighest(t *testing.T) {
	var alerts []Alert
	l, _ := newTestLedger(100, WithAlertFunc(func(a Alert) {
		alerts = append(alerts, a)
	}))

	l.TrackCost(entry("openai", "gpt-4o", 96)) // 0.96 in one step

	if len(alerts) != 1 || alerts[0].Level != LevelCritical {
		t.Fatalf("Expected only the critical alert, got %v", alerts)
	}
}

func TestAlerts_ResetWithPeriod(t *testing.T) {
	var alerts []Alert
	l, _ := newTestLedger(100, WithAlertFunc(func(a Alert) {
		alerts = append(alerts, a)
	}))

	l.TrackCost(entry("openai", "gpt-4o", 75))
	l.ResetPeriod()
	l.TrackCost(entry("openai", "gpt-4o", 75))

	if len(alerts) != 2 {
		t.Fatalf("Expected info alert to fire again after reset, got %v", alerts)
	}
}

func TestResetPeriod(t *testing.T) {
	l, clock := newTestLedger(100)

	l.TrackCost(entry("openai", "gpt-4o", 42))
	clock.Advance(30 * 24 * time.Hour)

	archived := l.ResetPeriod()
	if archived.Total != 42 || archived.Requests != 1 {
		t.Errorf("Unexpected archive: %+v", archived)
	}
	if archived.End.Sub(archived.Start) != 30*24*time.Hour {
		t.Errorf("Archive should span the period, got %s", archived.End.Sub(archived.Start))
	}

	s := l.Snapshot()
	if s.Total != 0 || s.Requests != 0 || s.Utilization != 0 {
		t.Errorf("Period counters should reset, got %+v", s)
	}
	if s.Lifetime != 42 {
		t.Errorf("Lifetime must survive the reset, got %f", s.Lifetime)
	}
	if len(s.History) != 1 {
		t.Errorf("Expected one archived period, got %d", len(s.History))
	}
}

func TestHistoryRingCapped(t *testing.T) {
	l, _ := newTestLedger(100)

	for i := 0; i < 15; i++ {
		l.TrackCost(entry("openai", "gpt-4o", float64(i+1)))
		l.ResetPeriod()
	}

	s := l.Snapshot()
	if len(s.History) != 12 {
		t.Fatalf("Expected history capped at 12, got %d", len(s.History))
	}
	// Oldest three dropped: first retained period is the 4th, total 4.
	if s.History[0].Total != 4 {
		t.Errorf("Expected oldest retained total 4, got %f", s.History[0].Total)
	}
}

func TestProjections(t *testing.T) {
	l, clock := newTestLedger(300)

	l.TrackCost(entry("openai", "gpt-4o", 10))
	clock.Advance(4*24*time.Hour + time.Hour) // day 5 of the period
	l.TrackCost(entry("openai", "gpt-4o", 40))

	s := l.Snapshot()
	if math.Abs(s.DailyBurn-10) > 1e-9 {
		t.Errorf("Expected burn 50/5 = 10, got %f", s.DailyBurn)
	}
	if math.Abs(s.MonthlyProjection-300) > 1e-9 {
		t.Errorf("Expected projection 300, got %f", s.MonthlyProjection)
	}

	// remaining 250 at 10/day = 25 days out.
	wantExhaustion := clock.Now().Add(25 * 24 * time.Hour)
	if !s.ExhaustionDate.Equal(wantExhaustion) {
		t.Errorf("Expected exhaustion %s, got %s", wantExhaustion, s.ExhaustionDate)
	}
}

func TestUtilizationMonotonic(t *testing.T) {
	l, _ := newTestLedger(1000)

	prev := l.Utilization()
	for i := 0; i < 20; i++ {
		l.TrackCost(entry("openai", "gpt-4o", 3))
		cur := l.Utilization()
		if cur < prev {
			t.Fatalf("Utilization decreased from %f to %f", prev, cur)
		}
		prev = cur
	}
}

func TestNoBudgetDisablesEnforcement(t *testing.T) {
	l, _ := newTestLedger(0)

	l.TrackCost(entry("openai", "gpt-4o", 10_000))
	if err := l.CheckBudget(); err != nil {
		t.Errorf("No budget configured, expected nil, got %v", err)
	}
	if got := l.Utilization(); got != 0 {
		t.Errorf("Expected zero utilization without budget, got %f", got)
	}
}

func TestPruneDaily(t *testing.T) {
	l, clock := newTestLedger(0)

	l.TrackCost(entry("openai", "gpt-4o", 1))
	clock.Advance(90 * 24 * time.Hour)
	l.TrackCost(entry("openai", "gpt-4o", 2))

	l.PruneDaily(62)

	s := l.Snapshot()
	if len(s.Daily) != 1 {
		t.Fatalf("Expected old day bucket pruned, got %v", s.Daily)
	}
	if s.Today != 2 {
		t.Errorf("Expected today's bucket kept, got %f", s.Today)
	}
}

type captureStore struct {
	mu   sync.Mutex
	recs []*UsageRecord
	done chan struct{}
}

func (s *captureStore) LogUsage(ctx context.Context, rec *UsageRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *captureStore) UsageBetween(ctx context.Context, from, to time.Time) ([]*UsageRecord, error) {
	return nil, nil
}

func (s *captureStore) CostBetween(ctx context.Context, from, to time.Time) (float64, error) {
	return 0, nil
}

func TestAuditStoreWrite(t *testing.T) {
	store := &captureStore{done: make(chan struct{}, 1)}
	l, _ := newTestLedger(100, WithStore(store))

	l.TrackCost(entry("claude", "claude-sonnet-4", 0.5))

	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected async audit write")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	rec := store.recs[0]
	if rec.Provider != "claude" || rec.Model != "claude-sonnet-4" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.CostUSD != 0.5 || rec.PromptTokens != 100 {
		t.Errorf("Usage fields not carried: %+v", rec)
	}
	if rec.LatencyMs != 120 {
		t.Errorf("Expected latency 120ms, got %d", rec.LatencyMs)
	}
	if rec.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("Expected assigned record ID")
	}
}
