package scoring

import (
	"net/url"
	"strings"

	"github.com/cloo-solutions/deepresearch/internal/domain"
)

// Authority values assigned by host classification, on the 0-100 input scale.
const (
	authorityPrimary       = 90.0
	authorityAuthoritative = 80.0
	authorityUnverified    = 50.0
	authorityFlagged       = 10.0
)

var authoritativeSuffixes = []string{".gov", ".edu", ".int", ".mil"}

// ClassifierConfig lists host overrides for web source classification.
type ClassifierConfig struct {
	PrimaryDomains       []string
	AuthoritativeDomains []string
	FlaggedDomains       []string
}

// Classification is the tier and authority inferred for a URL.
type Classification struct {
	Tier            domain.CredibilityTier
	DomainAuthority float64
}

// Classifier assigns credibility tiers to web sources by host.
type Classifier struct {
	primary       map[string]bool
	authoritative map[string]bool
	flagged       map[string]bool
}

// NewClassifier builds a classifier from host lists. Hosts match exactly or
// as a parent domain ("nih.gov" matches "www.ncbi.nih.gov").
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{
		primary:       hostSet(cfg.PrimaryDomains),
		authoritative: hostSet(cfg.AuthoritativeDomains),
		flagged:       hostSet(cfg.FlaggedDomains),
	}
}

// Classify returns the tier and domain authority for rawURL.
func (c *Classifier) Classify(rawURL string) Classification {
	host := hostOf(rawURL)
	if host == "" {
		return Classification{Tier: domain.TierUnverified, DomainAuthority: authorityUnverified}
	}

	switch {
	case matchesHost(c.flagged, host):
		return Classification{Tier: domain.TierFlagged, DomainAuthority: authorityFlagged}
	case matchesHost(c.primary, host):
		return Classification{Tier: domain.TierPrimarySource, DomainAuthority: authorityPrimary}
	case matchesHost(c.authoritative, host):
		return Classification{Tier: domain.TierAuthoritative, DomainAuthority: authorityAuthoritative}
	}

	for _, suffix := range authoritativeSuffixes {
		if strings.HasSuffix(host, suffix) {
			return Classification{Tier: domain.TierAuthoritative, DomainAuthority: authorityAuthoritative}
		}
	}
	return Classification{Tier: domain.TierUnverified, DomainAuthority: authorityUnverified}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

func hostSet(hosts []string) map[string]bool {
	set := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
		if h != "" {
			set[h] = true
		}
	}
	return set
}

func matchesHost(set map[string]bool, host string) bool {
	for h := host; h != ""; {
		if set[h] {
			return true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		h = h[idx+1:]
	}
	return false
}
