package domain

import (
	"fmt"
	"time"
)

// RetrievalMethod identifies the channel a piece of evidence came from
type RetrievalMethod string

const (
	RetrievalMethodRAG RetrievalMethod = "rag"
	RetrievalMethodWeb RetrievalMethod = "web"
)

// CredibilityTier is a categorical trust label for a source
type CredibilityTier string

const (
	TierPrimarySource CredibilityTier = "PRIMARY_SOURCE"
	TierAuthoritative CredibilityTier = "AUTHORITATIVE"
	TierSecondary     CredibilityTier = "SECONDARY"
	TierUnverified    CredibilityTier = "UNVERIFIED"
	TierFlagged       CredibilityTier = "FLAGGED"
)

// IsValid reports whether t is a known tier.
func (t CredibilityTier) IsValid() bool {
	switch t {
	case TierPrimarySource, TierAuthoritative, TierSecondary, TierUnverified, TierFlagged:
		return true
	}
	return false
}

// Source is one retrieved evidence item, enriched by scoring and persisted as
// provenance for the job.
type Source struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	Text            string          `json:"text"`
	URL             string          `json:"url,omitempty"`
	Title           string          `json:"title,omitempty"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`

	// Retrieval signals
	RRFScore     float64  `json:"rrf_score"`
	ChannelScore *float64 `json:"channel_score,omitempty"`

	// Scoring signals; DomainAuthority is on the 0-100 input scale
	DomainAuthority  *float64        `json:"domain_authority,omitempty"`
	CredibilityTier  CredibilityTier `json:"credibility_tier"`
	RecencyScore     float64         `json:"recency_score"`
	RelevanceScore   float64         `json:"relevance_score"`
	CredibilityScore float64         `json:"credibility_score"`
	CompositeScore   float64         `json:"composite_score"`

	CreatedAt time.Time `json:"created_at"`
}

// ValidateSource validates a Source instance
func ValidateSource(s *Source) error {
	if s == nil {
		return fmt.Errorf("source cannot be nil")
	}
	if s.Text == "" {
		return ErrMissingSourceText
	}
	if s.RetrievalMethod != RetrievalMethodRAG && s.RetrievalMethod != RetrievalMethodWeb {
		return fmt.Errorf("source RetrievalMethod is invalid: %s", s.RetrievalMethod)
	}
	if s.CredibilityTier != "" && !s.CredibilityTier.IsValid() {
		return ErrInvalidCredTier
	}
	if s.CompositeScore < 0 || s.CompositeScore > 1 {
		return fmt.Errorf("source CompositeScore must be within [0,1]")
	}
	return nil
}

// Claim is an extracted statement with the sources that support or contradict it.
type Claim struct {
	Text                 string   `json:"text"`
	SupportingSources    []Source `json:"supporting_sources"`
	ContradictingSources []Source `json:"contradicting_sources"`
	SupportStrength      float64  `json:"support_strength"`
	ContradictionFlag    bool     `json:"contradiction_flag"`
	ConfidenceScore      float64  `json:"confidence_score"`
}

// TokenUsage tallies model tokens consumed by a job.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ResearchResult is the immutable outcome of a completed job.
type ResearchResult struct {
	ID             string   `json:"id"`
	JobID          string   `json:"job_id"`
	Synthesis      string   `json:"synthesis"`
	SynthesisError string   `json:"synthesis_error,omitempty"`
	Sources        []Source `json:"sources"`
	Claims         []Claim  `json:"claims"`
	// Evidence maps each sub-question to the IDs of the sources it surfaced.
	Evidence   map[string][]string `json:"evidence"`
	TokenUsage TokenUsage          `json:"token_usage"`
	ReportKey  string              `json:"report_key,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}
