// Package ledger accumulates spend per billing period and raises
// budget alerts. The in-memory state is authoritative for gating
// decisions; the optional Store is an audit trail written off the hot
// path.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvbach/ai-orchestrator/internal/provider"
)

type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// Alert is fired at most once per level per billing period.
type Alert struct {
	Level       AlertLevel
	Utilization float64
	Spent       float64
	Budget      float64
	At          time.Time
}

// AlertFunc observes budget alerts. Callbacks run outside the ledger
// lock, on the goroutine that recorded the crossing entry.
type AlertFunc func(Alert)

// BudgetExceededError signals that the period budget is spent.
type BudgetExceededError struct {
	Spent  float64
	Budget float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.2f of $%.2f", e.Spent, e.Budget)
}

type Config struct {
	// MonthlyBudget in USD. Zero or negative disables utilization
	// math and alerts.
	MonthlyBudget     float64
	InfoThreshold     float64
	WarningThreshold  float64
	CriticalThreshold float64
	// HistorySize bounds the archived-period ring.
	HistorySize int
}

func DefaultConfig(budget float64) Config {
	return Config{
		MonthlyBudget:     budget,
		InfoThreshold:     0.70,
		WarningThreshold:  0.85,
		CriticalThreshold: 0.95,
		HistorySize:       12,
	}
}

// Entry is one successful completion's cost accounting.
type Entry struct {
	RequestID string
	Provider  string
	Model     string
	Category  string
	Usage     provider.Usage
	Cost      float64
	Latency   time.Duration
}

// PeriodArchive is a closed billing period.
type PeriodArchive struct {
	Start      time.Time
	End        time.Time
	Total      float64
	Requests   int64
	ByProvider map[string]float64
	ByCategory map[string]float64
	ByModel    map[string]float64
}

// Snapshot is a read-only view for status endpoints.
type Snapshot struct {
	PeriodStart       time.Time
	Budget            float64
	Lifetime          float64
	Total             float64
	Requests          int64
	CostPerRequest    float64
	Utilization       float64
	Remaining         float64
	ByProvider        map[string]float64
	ByCategory        map[string]float64
	ByModel           map[string]float64
	Today             float64
	DailyBurn         float64
	MonthlyProjection float64
	ExhaustionDate    time.Time
	Daily             map[string]float64
	History           []PeriodArchive
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Ledger struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock

	lifetime    float64
	periodStart time.Time
	total       float64
	requests    int64
	byProvider  map[string]float64
	byCategory  map[string]float64
	byModel     map[string]float64
	daily       map[string]float64
	fired       map[AlertLevel]bool
	history     []PeriodArchive

	store    Store
	alertFns []AlertFunc
	logger   *slog.Logger
}

type Option func(*Ledger)

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithStore attaches an audit store. Writes happen asynchronously;
// failures are logged and never block or fail the request path.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithAlertFunc(fn AlertFunc) Option {
	return func(l *Ledger) { l.alertFns = append(l.alertFns, fn) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:        cfg,
		clock:      realClock{},
		byProvider: make(map[string]float64),
		byCategory: make(map[string]float64),
		byModel:    make(map[string]float64),
		daily:      make(map[string]float64),
		fired:      make(map[AlertLevel]bool),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.periodStart = l.clock.Now()
	return l
}

const dayKey = "2006-01-02"

// TrackCost records one completed request. Alerts fire synchronously
// after the ledger state is updated; the audit write is detached.
func (l *Ledger) TrackCost(e Entry) {
	l.mu.Lock()
	now := l.clock.Now()

	l.lifetime += e.Cost
	l.total += e.Cost
	l.requests++
	l.byProvider[e.Provider] += e.Cost
	l.byModel[e.Model] += e.Cost
	category := e.Category
	if category == "" {
		category = "general"
	}
	l.byCategory[category] += e.Cost
	l.daily[now.Format(dayKey)] += e.Cost

	alert := l.crossedAlert(now)
	l.mu.Unlock()

	if alert != nil {
		for _, fn := range l.alertFns {
			fn(*alert)
		}
	}

	if l.store != nil {
		rec := &UsageRecord{
			ID:               uuid.New(),
			RequestID:        e.RequestID,
			Provider:         e.Provider,
			Model:            e.Model,
			Category:         category,
			PromptTokens:     e.Usage.PromptTokens,
			CompletionTokens: e.Usage.CompletionTokens,
			CostUSD:          e.Cost,
			LatencyMs:        e.Latency.Milliseconds(),
			CreatedAt:        now,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.store.LogUsage(ctx, rec); err != nil {
				l.logger.Error("usage audit write failed",
					"request_id", rec.RequestID,
					"error", err)
			}
		}()
	}
}

// crossedAlert picks the highest threshold newly crossed. Lower levels
// are marked fired as well so a jump straight past warning does not
// replay info afterwards. Caller must hold the lock.
func (l *Ledger) crossedAlert(now time.Time) *Alert {
	if l.cfg.MonthlyBudget <= 0 {
		return nil
	}
	util := l.total / l.cfg.MonthlyBudget

	levels := []struct {
		level     AlertLevel
		threshold float64
	}{
		{LevelCritical, l.cfg.CriticalThreshold},
		{LevelWarning, l.cfg.WarningThreshold},
		{LevelInfo, l.cfg.InfoThreshold},
	}

	for i, lv := range levels {
		if util >= lv.threshold && !l.fired[lv.level] {
			for _, lower := range levels[i:] {
				l.fired[lower.level] = true
			}
			return &Alert{
				Level:       lv.level,
				Utilization: util,
				Spent:       l.total,
				Budget:      l.cfg.MonthlyBudget,
				At:          now,
			}
		}
	}
	return nil
}

// Utilization is current period spend over budget. Zero when no
// budget is configured.
func (l *Ledger) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.MonthlyBudget <= 0 {
		return 0
	}
	return l.total / l.cfg.MonthlyBudget
}

// CheckBudget returns a BudgetExceededError once period spend has
// reached the budget. Recording is never blocked; only new work is.
func (l *Ledger) CheckBudget() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.MonthlyBudget <= 0 {
		return nil
	}
	if l.total >= l.cfg.MonthlyBudget {
		return &BudgetExceededError{Spent: l.total, Budget: l.cfg.MonthlyBudget}
	}
	return nil
}

// ResetPeriod archives the current period and starts a fresh one.
// Intended to be driven by the scheduler at billing-period boundaries.
func (l *Ledger) ResetPeriod() PeriodArchive {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	archived := PeriodArchive{
		Start:      l.periodStart,
		End:        now,
		Total:      l.total,
		Requests:   l.requests,
		ByProvider: copyMap(l.byProvider),
		ByCategory: copyMap(l.byCategory),
		ByModel:    copyMap(l.byModel),
	}

	l.history = append(l.history, archived)
	if len(l.history) > l.cfg.HistorySize {
		l.history = l.history[len(l.history)-l.cfg.HistorySize:]
	}

	l.periodStart = now
	l.total = 0
	l.requests = 0
	l.byProvider = make(map[string]float64)
	l.byCategory = make(map[string]float64)
	l.byModel = make(map[string]float64)
	l.fired = make(map[AlertLevel]bool)

	return archived
}

// PruneDaily drops day buckets older than retainDays.
func (l *Ledger) PruneDaily(retainDays int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().AddDate(0, 0, -retainDays).Format(dayKey)
	for day := range l.daily {
		if day < cutoff {
			delete(l.daily, day)
		}
	}
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	s := Snapshot{
		PeriodStart: l.periodStart,
		Budget:      l.cfg.MonthlyBudget,
		Lifetime:    l.lifetime,
		Total:       l.total,
		Requests:    l.requests,
		ByProvider:  copyMap(l.byProvider),
		ByCategory:  copyMap(l.byCategory),
		ByModel:     copyMap(l.byModel),
		Today:       l.daily[now.Format(dayKey)],
		Daily:       copyMap(l.daily),
		History:     append([]PeriodArchive(nil), l.history...),
	}

	if l.requests > 0 {
		s.CostPerRequest = l.total / float64(l.requests)
	}

	days := int(now.Sub(l.periodStart).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	s.DailyBurn = l.total / float64(days)
	s.MonthlyProjection = s.DailyBurn * 30

	if l.cfg.MonthlyBudget > 0 {
		s.Utilization = l.total / l.cfg.MonthlyBudget
		s.Remaining = l.cfg.MonthlyBudget - l.total
		if s.Remaining < 0 {
			s.Remaining = 0
		}
		if s.DailyBurn > 0 {
			daysLeft := (l.cfg.MonthlyBudget - l.total) / s.DailyBurn
			if daysLeft < 0 {
				daysLeft = 0
			}
			s.ExhaustionDate = now.Add(time.Duration(daysLeft * 24 * float64(time.Hour)))
		}
	}

	return s
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
