// Package selector ranks catalog models for a request. Scoring is a
// pure function over the supplied models and budget utilization; the
// caller owns all state.
package selector

import (
	"fmt"
)

type TaskType string

const (
	TaskExecutive  TaskType = "executive"
	TaskSales      TaskType = "sales"
	TaskInterview  TaskType = "interview"
	TaskRealtime   TaskType = "realtime"
	TaskMonitoring TaskType = "monitoring"
)

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyRealtime Urgency = "realtime"
)

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// RequestContext describes the caller's request. Read-only to the
// core; unknown task types simply earn no affinity bonus.
type RequestContext struct {
	TaskType          TaskType
	Language          string
	Urgency           Urgency
	Complexity        Complexity
	BudgetConstrained bool
	PreferredModel    string
}

// HighPriority marks contexts that justify the quality-weighted
// strategy when budget headroom allows it.
func (rc RequestContext) HighPriority() bool {
	return rc.Urgency == UrgencyHigh || rc.Urgency == UrgencyRealtime || rc.TaskType == TaskExecutive
}

// Category is the ledger attribution bucket.
func (rc RequestContext) Category() string {
	if rc.TaskType == "" {
		return "general"
	}
	return string(rc.TaskType)
}

// Strategy supplies the component weights for scoring.
type Strategy struct {
	Name             string
	CostWeight       float64
	QualityWeight    float64
	EfficiencyWeight float64
}

var (
	strategyAggressive = Strategy{Name: "aggressive", CostWeight: 0.60, QualityWeight: 0.20, EfficiencyWeight: 0.20}
	strategyQuality    = Strategy{Name: "quality", CostWeight: 0.15, QualityWeight: 0.70, EfficiencyWeight: 0.15}
	strategyBalanced   = Strategy{Name: "balanced", CostWeight: 0.35, QualityWeight: 0.40, EfficiencyWeight: 0.25}
)

// StrategyFor picks the weight set from budget pressure. Past 90%
// utilization cost always dominates, as it does when the caller flags
// the request budget-constrained; below 50% a high-priority request
// buys quality; everything else is balanced.
func StrategyFor(utilization float64, rc RequestContext) Strategy {
	switch {
	case utilization > 0.9 || rc.BudgetConstrained:
		return strategyAggressive
	case utilization < 0.5 && rc.HighPriority():
		return strategyQuality
	default:
		return strategyBalanced
	}
}

// Affinity bonuses added to a model's base quality, capped at 1.0.
const (
	taskAffinityBonus     = 0.05
	languageAffinityBonus = 0.03
	urgencyAffinityBonus  = 0.04
)

type NoEligibleModelError struct {
	EstimatedTokens int
}

func (e *NoEligibleModelError) Error() string {
	return fmt.Sprintf("no eligible model for request of ~%d tokens", e.EstimatedTokens)
}

type Config struct {
	// CostCeiling normalizes the inverted-cost component: estimated
	// request cost at or above the ceiling scores zero.
	CostCeiling float64
	// AssumedCompletionTokens sizes the completion when estimating
	// request cost before any provider has answered.
	AssumedCompletionTokens int
}

func DefaultConfig() Config {
	return Config{
		CostCeiling:             0.10,
		AssumedCompletionTokens: 1000,
	}
}
