package selector

import (
	"log/slog"
	"math"
	"sort"

	"github.com/nvbach/ai-orchestrator/internal/catalog"
)

// Candidate is one scored model. Candidates double as the fallback
// order: index 0 is the primary attempt.
type Candidate struct {
	Model         catalog.Descriptor
	EstimatedCost float64
	CostScore     float64
	QualityScore  float64
	Efficiency    float64
	Score         float64
}

type Selector struct {
	cfg    Config
	logger *slog.Logger
}

type Option func(*Selector)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) { s.logger = logger }
}

func New(cfg Config, opts ...Option) *Selector {
	s := &Selector{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rank filters and scores the given models, best first. A preferred
// model that survives filtering is pinned to the front regardless of
// score. Returns NoEligibleModelError when nothing survives.
func (s *Selector) Rank(rc RequestContext, models []catalog.Descriptor, estimatedTokens int, utilization float64) ([]Candidate, error) {
	return s.rank(rc, models, estimatedTokens, StrategyFor(utilization, rc))
}

// RankQuality orders by adjusted quality alone, ignoring budget
// pressure. Used when cost optimization is disabled.
func (s *Selector) RankQuality(rc RequestContext, models []catalog.Descriptor, estimatedTokens int) ([]Candidate, error) {
	return s.rank(rc, models, estimatedTokens, Strategy{Name: "quality-only", QualityWeight: 1})
}

func (s *Selector) rank(rc RequestContext, models []catalog.Descriptor, estimatedTokens int, strategy Strategy) ([]Candidate, error) {
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}

	candidates := make([]Candidate, 0, len(models))
	for _, d := range models {
		if estimatedTokens+s.cfg.AssumedCompletionTokens > d.ContextWindow {
			continue
		}
		candidates = append(candidates, s.Evaluate(rc, d, estimatedTokens, strategy))
	}

	if len(candidates) == 0 {
		return nil, &NoEligibleModelError{EstimatedTokens: estimatedTokens}
	}

	sortCandidates(candidates)

	if rc.PreferredModel != "" {
		for i, c := range candidates {
			if c.Model.ID == rc.PreferredModel {
				pinned := candidates[i]
				copy(candidates[1:i+1], candidates[:i])
				candidates[0] = pinned
				break
			}
		}
	}

	s.logger.Debug("ranked models",
		"strategy", strategy.Name,
		"primary", candidates[0].Model.ID,
		"candidates", len(candidates))

	return candidates, nil
}

// Select returns only the winning model.
func (s *Selector) Select(rc RequestContext, models []catalog.Descriptor, estimatedTokens int, utilization float64) (Candidate, error) {
	ranked, err := s.Rank(rc, models, estimatedTokens, utilization)
	if err != nil {
		return Candidate{}, err
	}
	return ranked[0], nil
}

// Evaluate scores a single model under the given strategy.
func (s *Selector) Evaluate(rc RequestContext, d catalog.Descriptor, estimatedTokens int, strategy Strategy) Candidate {
	estCost := d.CostFor(estimatedTokens, s.cfg.AssumedCompletionTokens)

	costScore := 0.0
	if s.cfg.CostCeiling > 0 {
		ratio := estCost / s.cfg.CostCeiling
		if ratio > 1 {
			ratio = 1
		}
		costScore = 1 - ratio
	}

	quality := s.AdjustedQuality(rc, d)

	efficiency := 0.0
	if direct := d.DirectCostFor(estimatedTokens, s.cfg.AssumedCompletionTokens); direct > 0 {
		efficiency = (direct - estCost) / direct
		if efficiency < 0 {
			efficiency = 0
		} else if efficiency > 1 {
			efficiency = 1
		}
	}

	return Candidate{
		Model:         d,
		EstimatedCost: estCost,
		CostScore:     costScore,
		QualityScore:  quality,
		Efficiency:    efficiency,
		Score: strategy.CostWeight*costScore +
			strategy.QualityWeight*quality +
			strategy.EfficiencyWeight*efficiency,
	}
}

// sortCandidates orders by score descending, breaking near-ties by
// cheapest estimated cost. The stable sort keeps catalog order for
// full ties.
func sortCandidates(cs []Candidate) {
	const epsilon = 1e-9
	sort.SliceStable(cs, func(i, j int) bool {
		if math.Abs(cs[i].Score-cs[j].Score) > epsilon {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].EstimatedCost < cs[j].EstimatedCost
	})
}

// AdjustedQuality is the model's base quality plus context-match
// bonuses, capped at 1.0.
func (s *Selector) AdjustedQuality(rc RequestContext, d catalog.Descriptor) float64 {
	quality := d.Quality
	if rc.TaskType != "" && d.HasSpecialty(string(rc.TaskType)) {
		quality += taskAffinityBonus
	}
	if rc.Language != "" && d.SpeaksLanguage(rc.Language) {
		quality += languageAffinityBonus
	}
	if rc.Urgency == UrgencyRealtime && d.LatencyTier == catalog.TierFast {
		quality += urgencyAffinityBonus
	}
	if quality > 1 {
		quality = 1
	}
	return quality
}
