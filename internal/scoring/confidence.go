package scoring

import "github.com/cloo-solutions/deepresearch/internal/domain"

// fullConfidenceSources is the source count at which the multiplier saturates.
const fullConfidenceSources = 10.0

// JobConfidence is the job-level aggregate produced by the scoring stage.
type JobConfidence struct {
	Score             float64
	HasContradictions bool
	SourceCount       int
	ClaimCount        int
}

// JobConfidenceCalculator aggregates claim confidences into a job score.
type JobConfidenceCalculator struct{}

// NewJobConfidenceCalculator creates a calculator.
func NewJobConfidenceCalculator() *JobConfidenceCalculator {
	return &JobConfidenceCalculator{}
}

// CalculateJobConfidence returns the mean claim confidence scaled by
// SourceCountMultiplier. Zero claims yield zero confidence.
func (c *JobConfidenceCalculator) CalculateJobConfidence(claims []domain.Claim, sourceCount int) JobConfidence {
	out := JobConfidence{SourceCount: sourceCount, ClaimCount: len(claims)}
	if len(claims) == 0 {
		return out
	}

	sum := 0.0
	for _, claim := range claims {
		sum += claim.ConfidenceScore
		if claim.ContradictionFlag {
			out.HasContradictions = true
		}
	}
	mean := sum / float64(len(claims))
	out.Score = Clamp(mean*SourceCountMultiplier(sourceCount), 0, 1)
	return out
}

// SourceCountMultiplier is min(n/10, 1); negative counts yield 0.
func SourceCountMultiplier(n int) float64 {
	if n <= 0 {
		return 0
	}
	m := float64(n) / fullConfidenceSources
	if m > 1.0 {
		return 1.0
	}
	return m
}
