package synthesis

import (
	"strings"
)

// Component weights of the overall synthesis grade.
const (
	weightCompleteness = 0.25
	weightAccuracy     = 0.35
	weightInsight      = 0.25
	weightClarity      = 0.15
)

// assessQuality grades merged content against the insights it was
// built from. Accuracy is approximated by inter-model agreement; the
// other components are lexical heuristics over the output itself.
func assessQuality(content string, insights []Insight) Quality {
	q := Quality{
		Completeness: completeness(content, insights),
		Accuracy:     meanPairwiseSimilarity(insights),
		InsightValue: insightValue(content, insights),
		Clarity:      clarity(content),
	}
	q.Overall = weightCompleteness*q.Completeness +
		weightAccuracy*q.Accuracy +
		weightInsight*q.InsightValue +
		weightClarity*q.Clarity
	return q
}

// completeness is the share of the lanes' combined vocabulary that the
// merged content covers.
func completeness(content string, insights []Insight) float64 {
	union := make(map[string]struct{})
	for _, in := range insights {
		for w := range tokenSet(in.Content) {
			union[w] = struct{}{}
		}
	}
	if len(union) == 0 {
		return 0
	}
	covered := 0
	for w := range tokenSet(content) {
		if _, ok := union[w]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(union))
}

// insightValue blends the lanes' model quality with the lexical variety
// of the output. Repetitive output scores low even from strong models.
func insightValue(content string, insights []Insight) float64 {
	meanQuality := 0.0
	for _, in := range insights {
		meanQuality += in.QualityScore
	}
	meanQuality /= float64(len(insights))

	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	variety := float64(len(distinct)) / float64(len(words))

	return 0.5*meanQuality + 0.5*variety
}

// clarity rewards a mean sentence length inside the 8..30 word band
// and degrades linearly outside it.
func clarity(content string) float64 {
	sentences := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	total, count := 0, 0
	for _, s := range sentences {
		words := len(strings.Fields(s))
		if words == 0 {
			continue
		}
		total += words
		count++
	}
	if count == 0 {
		return 0
	}
	mean := float64(total) / float64(count)
	switch {
	case mean < 8:
		return mean / 8
	case mean > 30:
		return 30 / mean
	default:
		return 1
	}
}
