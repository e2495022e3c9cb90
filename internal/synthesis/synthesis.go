// Package synthesis fans one request out to several models through the
// orchestrator and merges the surviving answers into a single result.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvbach/ai-orchestrator/internal/catalog"
	"github.com/nvbach/ai-orchestrator/internal/metrics"
	"github.com/nvbach/ai-orchestrator/internal/orchestrator"
	"github.com/nvbach/ai-orchestrator/internal/selector"
)

type Strategy string

const (
	// StrategyConsensus keeps the answer the models agree on most.
	StrategyConsensus Strategy = "consensus"
	// StrategyExpertise weights agreement by lane quality and leads with
	// the strongest model.
	StrategyExpertise Strategy = "expertise"
	// StrategyHierarchical treats the first lane as primary and the rest
	// as validators.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyCompetitive runs every merge and keeps the best-scoring one.
	StrategyCompetitive Strategy = "competitive"
)

// Insight is one model's surviving contribution.
type Insight struct {
	Model        string
	Provider     string
	Content      string
	QualityScore float64
	Cost         float64
	Latency      time.Duration
}

// Quality grades the merged output. Components are in [0,1].
type Quality struct {
	Completeness float64
	Accuracy     float64
	InsightValue float64
	Clarity      float64
	Overall      float64
}

// Result is one completed synthesis. Insights keep selection order;
// failed lanes are absent.
type Result struct {
	Strategy        Strategy
	Content         string
	ConsensusScore  float64
	Quality         Quality
	Insights        []Insight
	ModelsRequested int
	TotalCost       float64
	Elapsed         time.Duration
}

// InsufficientModelsError means too few models could contribute, either
// at selection time or after the fan-out settled.
type InsufficientModelsError struct {
	Usable   int
	Required int
}

func (e *InsufficientModelsError) Error() string {
	return fmt.Sprintf("synthesis requires %d usable models, have %d", e.Required, e.Usable)
}

// Processor runs one pinned-model request through the full pipeline.
// Implemented by the orchestrator.
type Processor interface {
	ProcessWithModel(ctx context.Context, modelID, content string, rc selector.RequestContext, opts orchestrator.Options) (*orchestrator.Result, error)
	AvailableModels() []catalog.Descriptor
}

type Config struct {
	// MaxModels caps the fan-out width.
	MaxModels int
	// QualityThreshold flags syntheses whose overall grade lands below.
	QualityThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MaxModels:        3,
		QualityThreshold: 0.6,
	}
}

type Engine struct {
	proc    Processor
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(cfg Config, proc Processor, opts ...Option) *Engine {
	if cfg.MaxModels < 2 {
		cfg.MaxModels = 2
	}
	e := &Engine{
		proc:    proc,
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Synthesize fans the request out to a diverse model subset, waits for
// every lane to settle, and merges the survivors. A failed lane is
// dropped, not fatal; only zero survivors aborts.
func (e *Engine) Synthesize(ctx context.Context, content string, rc selector.RequestContext, opts orchestrator.Options) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &orchestrator.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	available := e.proc.AvailableModels()
	if len(available) < 2 {
		return nil, &InsufficientModelsError{Usable: len(available), Required: 2}
	}

	picked := e.pickModels(rc, available)
	strategy := strategyFor(rc, len(picked))
	start := time.Now()

	type lane struct {
		insight Insight
		err     error
	}
	lanes := make([]lane, len(picked))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range picked {
		g.Go(func() error {
			res, err := e.proc.ProcessWithModel(gctx, m.ID, content, rc, opts)
			if err != nil {
				e.logger.Warn("synthesis lane failed",
					"model", m.ID, "provider", m.Provider, "error", err)
				lanes[i] = lane{err: err}
				return nil
			}
			lanes[i] = lane{insight: Insight{
				Model:        res.Model,
				Provider:     res.Provider,
				Content:      res.Content,
				QualityScore: res.QualityScore,
				Cost:         res.Cost,
				Latency:      res.ResponseTime,
			}}
			return nil
		})
	}
	g.Wait()

	insights := make([]Insight, 0, len(lanes))
	totalCost := 0.0
	for _, l := range lanes {
		if l.err != nil {
			continue
		}
		insights = append(insights, l.insight)
		totalCost += l.insight.Cost
	}
	if len(insights) == 0 {
		return nil, &InsufficientModelsError{Usable: 0, Required: 2}
	}

	merged, score := e.merge(strategy, insights)
	quality := assessQuality(merged, insights)

	e.metrics.SynthesisRun(string(strategy))
	if quality.Overall < e.cfg.QualityThreshold {
		e.logger.Warn("synthesis below quality threshold",
			"strategy", strategy,
			"overall", quality.Overall,
			"threshold", e.cfg.QualityThreshold)
	}
	e.logger.Info("synthesis completed",
		"strategy", strategy,
		"requested", len(picked),
		"survived", len(insights),
		"consensus", score,
		"cost", totalCost)

	return &Result{
		Strategy:        strategy,
		Content:         merged,
		ConsensusScore:  score,
		Quality:         quality,
		Insights:        insights,
		ModelsRequested: len(picked),
		TotalCost:       totalCost,
		Elapsed:         time.Since(start),
	}, nil
}

// pickModels ranks the catalog by a quality/relevance blend and then
// greedily favors models bringing specialty tags the selection does not
// cover yet. Remaining slots fill by rank.
func (e *Engine) pickModels(rc selector.RequestContext, models []catalog.Descriptor) []catalog.Descriptor {
	max := e.cfg.MaxModels
	if max > len(models) {
		max = len(models)
	}

	type scored struct {
		d     catalog.Descriptor
		score float64
	}
	ranked := make([]scored, 0, len(models))
	for _, d := range models {
		ranked = append(ranked, scored{d: d, score: blendScore(rc, d)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].d.ID < ranked[j].d.ID
	})

	picked := make([]catalog.Descriptor, 0, max)
	covered := make(map[string]bool)
	taken := make(map[string]bool)

	take := func(d catalog.Descriptor) {
		picked = append(picked, d)
		taken[d.ID] = true
		for _, tag := range d.Specialties {
			covered[strings.ToLower(tag)] = true
		}
	}

	take(ranked[0].d)

	for _, s := range ranked[1:] {
		if len(picked) == max {
			break
		}
		for _, tag := range s.d.Specialties {
			if !covered[strings.ToLower(tag)] {
				take(s.d)
				break
			}
		}
	}
	for _, s := range ranked {
		if len(picked) == max {
			break
		}
		if !taken[s.d.ID] {
			take(s.d)
		}
	}
	return picked
}

// blendScore favors quality, then context relevance, then channel
// savings when the caller is budget-constrained.
func blendScore(rc selector.RequestContext, d catalog.Descriptor) float64 {
	relevance := 0.0
	if rc.TaskType != "" && d.HasSpecialty(string(rc.TaskType)) {
		relevance += 0.5
	}
	if rc.Language != "" && d.SpeaksLanguage(rc.Language) {
		relevance += 0.25
	}
	if rc.Urgency == selector.UrgencyRealtime && d.LatencyTier == catalog.TierFast {
		relevance += 0.25
	}

	if !rc.BudgetConstrained {
		return 0.6*d.Quality + 0.4*relevance
	}

	efficiency := 0.0
	if direct := d.DirectCostFor(1000, 1000); direct > 0 {
		efficiency = (direct - d.CostFor(1000, 1000)) / direct
		if efficiency < 0 {
			efficiency = 0
		}
	}
	return 0.5*d.Quality + 0.3*relevance + 0.2*efficiency
}

// strategyFor maps request context to a merge strategy. Realtime always
// takes the cheapest merge; competitive needs enough lanes to be worth
// its extra scoring passes.
func strategyFor(rc selector.RequestContext, modelCount int) Strategy {
	switch {
	case rc.Urgency == selector.UrgencyRealtime:
		return StrategyConsensus
	case rc.Complexity == selector.ComplexityHigh && modelCount >= 4:
		return StrategyCompetitive
	case rc.TaskType == selector.TaskExecutive:
		return StrategyExpertise
	case rc.TaskType == selector.TaskSales || rc.TaskType == selector.TaskMonitoring:
		return StrategyHierarchical
	default:
		return StrategyConsensus
	}
}
