package domain

import "time"

// KnowledgeHit is one ranked chunk returned by the internal knowledge index.
type KnowledgeHit struct {
	ID       string
	Text     string
	Metadata KnowledgeMetadata
	Score    float64
}

// KnowledgeMetadata holds the provenance stored alongside an indexed chunk.
type KnowledgeMetadata struct {
	Title           string          `json:"title,omitempty"`
	URL             string          `json:"url,omitempty"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	DomainAuthority *float64        `json:"domain_authority,omitempty"`
	CredibilityTier CredibilityTier `json:"credibility_tier,omitempty"`
}

// WebHit is one result returned by the external web-search channel.
type WebHit struct {
	Title       string
	URL         string
	Snippet     string
	PublishedAt *time.Time
}
