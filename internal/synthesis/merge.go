package synthesis

import (
	"sort"
	"strings"
	"unicode"
)

// merge combines the surviving insights under the given strategy and
// returns the merged content with its agreement score. The output is a
// pure function of the insight list and the strategy.
func (e *Engine) merge(s Strategy, insights []Insight) (string, float64) {
	switch s {
	case StrategyExpertise:
		return mergeExpertise(insights)
	case StrategyHierarchical:
		return mergeHierarchical(insights)
	case StrategyCompetitive:
		return e.mergeCompetitive(insights)
	default:
		return mergeConsensus(insights)
	}
}

// mergeConsensus keeps the answer with the highest mean agreement with
// the other lanes. The score is the mean pairwise agreement of the
// whole set.
func mergeConsensus(insights []Insight) (string, float64) {
	rep := representative(insights)
	return rep.Content, meanPairwiseSimilarity(insights)
}

// mergeExpertise leads with the highest-quality lane and scores the
// rest's agreement with it, weighted by their own quality.
func mergeExpertise(insights []Insight) (string, float64) {
	lead := insights[0]
	for _, in := range insights[1:] {
		if in.QualityScore > lead.QualityScore ||
			(in.QualityScore == lead.QualityScore && in.Model < lead.Model) {
			lead = in
		}
	}
	if len(insights) == 1 {
		return lead.Content, 1.0
	}

	leadTokens := tokenSet(lead.Content)
	var weighted, weights float64
	for _, in := range insights {
		if in.Model == lead.Model {
			continue
		}
		weighted += in.QualityScore * jaccard(leadTokens, tokenSet(in.Content))
		weights += in.QualityScore
	}
	if weights == 0 {
		return lead.Content, 0
	}
	return lead.Content, weighted / weights
}

// mergeHierarchical takes the first lane (the top selection pick) as
// primary; the remaining lanes only validate it.
func mergeHierarchical(insights []Insight) (string, float64) {
	primary := insights[0]
	if len(insights) == 1 {
		return primary.Content, 1.0
	}
	primaryTokens := tokenSet(primary.Content)
	sum := 0.0
	for _, in := range insights[1:] {
		sum += jaccard(primaryTokens, tokenSet(in.Content))
	}
	return primary.Content, sum / float64(len(insights)-1)
}

// mergeCompetitive runs every other merge, grades each output, and
// keeps the winner.
func (e *Engine) mergeCompetitive(insights []Insight) (string, float64) {
	type entry struct {
		strategy Strategy
		content  string
		score    float64
		overall  float64
	}
	entries := []entry{}
	for _, s := range []Strategy{StrategyConsensus, StrategyExpertise, StrategyHierarchical} {
		content, score := e.merge(s, insights)
		entries = append(entries, entry{
			strategy: s,
			content:  content,
			score:    score,
			overall:  assessQuality(content, insights).Overall,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].overall != entries[j].overall {
			return entries[i].overall > entries[j].overall
		}
		return entries[i].score > entries[j].score
	})
	winner := entries[0]
	e.logger.Debug("competitive merge decided",
		"winner", winner.strategy, "overall", winner.overall)
	return winner.content, winner.score
}

// representative is the insight with the highest mean similarity to the
// others. Ties fall to the higher-quality lane, then the lexically
// smaller model id so the outcome is stable.
func representative(insights []Insight) Insight {
	if len(insights) == 1 {
		return insights[0]
	}

	tokens := make([]map[string]struct{}, len(insights))
	for i, in := range insights {
		tokens[i] = tokenSet(in.Content)
	}

	best := 0
	bestSim := -1.0
	for i := range insights {
		sum := 0.0
		for j := range insights {
			if i == j {
				continue
			}
			sum += jaccard(tokens[i], tokens[j])
		}
		sim := sum / float64(len(insights)-1)
		switch {
		case sim > bestSim:
			best, bestSim = i, sim
		case sim == bestSim:
			if insights[i].QualityScore > insights[best].QualityScore ||
				(insights[i].QualityScore == insights[best].QualityScore &&
					insights[i].Model < insights[best].Model) {
				best = i
			}
		}
	}
	return insights[best]
}

// meanPairwiseSimilarity approximates inter-model agreement. A single
// survivor trivially agrees with itself.
func meanPairwiseSimilarity(insights []Insight) float64 {
	if len(insights) < 2 {
		return 1.0
	}
	tokens := make([]map[string]struct{}, len(insights))
	for i, in := range insights {
		tokens[i] = tokenSet(in.Content)
	}
	sum, pairs := 0.0, 0
	for i := 0; i < len(insights); i++ {
		for j := i + 1; j < len(insights); j++ {
			sum += jaccard(tokens[i], tokens[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// tokenSet lowercases and splits on non-alphanumeric runes. Words under
// three runes carry no signal and are dropped.
func tokenSet(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
