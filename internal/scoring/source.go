// Package scoring implements the deterministic credibility and confidence
// scoring used by the research pipeline. Everything here is pure: no I/O, no
// shared state beyond an injectable clock.
package scoring

import (
	"math"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
)

const (
	defaultDomainAuthority = 50.0
	recencyDecayDays       = 180.0
	unknownRecency         = 0.5

	weightDomainAuthority = 0.25
	weightRecency         = 0.20
	weightRelevance       = 0.35
	weightCredibility     = 0.20
)

var tierScores = map[domain.CredibilityTier]float64{
	domain.TierPrimarySource: 1.0,
	domain.TierAuthoritative: 0.85,
	domain.TierSecondary:     0.65,
	domain.TierUnverified:    0.3,
	domain.TierFlagged:       0.0,
}

// SourceInput carries the raw signals for one source.
type SourceInput struct {
	// DomainAuthority is on a 0-100 scale; nil means unknown.
	DomainAuthority *float64
	PublishedAt     *time.Time
	RelevanceScore  float64
	CredibilityTier domain.CredibilityTier
}

// SourceScore holds the normalized sub-scores and the weighted composite.
type SourceScore struct {
	DomainAuthority float64
	Recency         float64
	Relevance       float64
	Credibility     float64
	Composite       float64
}

// SourceScorer scores individual sources.
type SourceScorer struct {
	Now func() time.Time
}

// NewSourceScorer creates a scorer using the wall clock.
func NewSourceScorer() *SourceScorer {
	return &SourceScorer{Now: time.Now}
}

// ScoreSource computes the four normalized sub-scores and their composite.
func (s *SourceScorer) ScoreSource(in SourceInput) SourceScore {
	da := defaultDomainAuthority
	if in.DomainAuthority != nil && !math.IsNaN(*in.DomainAuthority) {
		da = *in.DomainAuthority
	}
	da = Clamp(da, 0, 100) / 100

	score := SourceScore{
		DomainAuthority: da,
		Recency:         s.recency(in.PublishedAt),
		Relevance:       Clamp(in.RelevanceScore, 0, 1),
		Credibility:     TierScore(in.CredibilityTier),
	}
	score.Composite = Clamp(
		score.DomainAuthority*weightDomainAuthority+
			score.Recency*weightRecency+
			score.Relevance*weightRelevance+
			score.Credibility*weightCredibility,
		0, 1)
	return score
}

// Apply scores src in place from its own fields.
func (s *SourceScorer) Apply(src *domain.Source) {
	score := s.ScoreSource(SourceInput{
		DomainAuthority: src.DomainAuthority,
		PublishedAt:     src.PublishedAt,
		RelevanceScore:  src.RelevanceScore,
		CredibilityTier: src.CredibilityTier,
	})
	src.RecencyScore = score.Recency
	src.RelevanceScore = score.Relevance
	src.CredibilityScore = score.Credibility
	src.CompositeScore = score.Composite
	if !src.CredibilityTier.IsValid() {
		src.CredibilityTier = domain.TierUnverified
	}
}

func (s *SourceScorer) recency(publishedAt *time.Time) float64 {
	if publishedAt == nil || publishedAt.IsZero() {
		return unknownRecency
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	days := now().Sub(*publishedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / recencyDecayDays)
}

// TierScore maps a credibility tier to its trust weight. Unknown tiers are
// treated as UNVERIFIED.
func TierScore(tier domain.CredibilityTier) float64 {
	if v, ok := tierScores[tier]; ok {
		return v
	}
	return tierScores[domain.TierUnverified]
}

// Clamp bounds v to [lo, hi]. NaN clamps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
