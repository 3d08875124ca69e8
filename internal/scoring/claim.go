package scoring

import "github.com/cloo-solutions/deepresearch/internal/domain"

const (
	corroborationBonus   = 0.05
	contradictionPenalty = 0.15
)

// ClaimScorer scores extracted claims against their scored sources.
type ClaimScorer struct{}

// NewClaimScorer creates a claim scorer.
func NewClaimScorer() *ClaimScorer {
	return &ClaimScorer{}
}

// ScoreClaim builds a scored claim. Support strength is the mean composite of
// the supporting sources; every supporting source adds a corroboration bonus
// capped at 1.0, then every contradicting source subtracts a fixed penalty.
func (c *ClaimScorer) ScoreClaim(text string, supporting, contradicting []domain.Source) domain.Claim {
	support := 0.0
	if len(supporting) > 0 {
		for _, s := range supporting {
			support += s.CompositeScore
		}
		support /= float64(len(supporting))
	}

	boosted := support + corroborationBonus*float64(len(supporting))
	if boosted > 1.0 {
		boosted = 1.0
	}

	return domain.Claim{
		Text:                 text,
		SupportingSources:    supporting,
		ContradictingSources: contradicting,
		SupportStrength:      support,
		ContradictionFlag:    len(contradicting) > 0,
		ConfidenceScore:      Clamp(boosted-contradictionPenalty*float64(len(contradicting)), 0, 1),
	}
}
