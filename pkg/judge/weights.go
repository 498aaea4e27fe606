package judge

import "github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"

// Derive computes overall_score, base_score, and recognition_score from
// dimension scores using w, a weighted sum normalised by the weight mass
// actually present in scores (a dimension the judge omitted contributes
// neither numerator nor denominator, rather than being treated as zero).
// The formula itself lives entirely in w — this function never hardcodes
// a dimension name or weight, per spec.md §9.
func Derive(scores []evalmodel.DimensionScore, w WeightDescriptor) Scores {
	return Scores{
		OverallScore:     overallAverage(scores, w.Weight),
		BaseScore:        restrictedAverage(scores, w.Weight, w.BaseDimensions),
		RecognitionScore: restrictedAverage(scores, w.Weight, w.RecognitionDimensions),
	}
}

// overallAverage weights every scored dimension that carries a nonzero
// weight. Returns nil only if none do.
func overallAverage(scores []evalmodel.DimensionScore, weight map[string]float64) *float64 {
	var numerator, denominator float64
	for _, s := range scores {
		w, ok := weight[s.Dimension]
		if !ok || w == 0 {
			continue
		}
		numerator += w * s.Score
		denominator += w
	}
	return average(numerator, denominator)
}

// restrictedAverage weights only the named subset. An unconfigured
// subset (nil/empty names) means this derived score is not computed at
// all, not "fall back to everything."
func restrictedAverage(scores []evalmodel.DimensionScore, weight map[string]float64, names []string) *float64 {
	if len(names) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	var numerator, denominator float64
	for _, s := range scores {
		if !allowed[s.Dimension] {
			continue
		}
		w, ok := weight[s.Dimension]
		if !ok || w == 0 {
			continue
		}
		numerator += w * s.Score
		denominator += w
	}
	return average(numerator, denominator)
}

func average(numerator, denominator float64) *float64 {
	if denominator == 0 {
		return nil
	}
	result := numerator / denominator
	return &result
}
