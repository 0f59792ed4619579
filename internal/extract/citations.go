package extract

import (
	"net/url"
	"strings"

	"github.com/geolens/geo-audit/internal/model"
)

// authoritativeDomains are domain fragments treated as authoritative sources.
var authoritativeDomains = []string{
	".gov",
	".edu",
	"wikipedia.org",
	"scholar.google.com",
	"researchgate.net",
	"ieee.org",
	"acm.org",
	"nature.com",
	"science.org",
}

// marketplacePlatforms are domains that often embed a brand name without
// being the brand's own site. Brand-in-domain matching skips these.
var marketplacePlatforms = []string{
	"amazon", "walmart", "target", "shopify", "etsy",
	"facebook", "twitter", "linkedin", "instagram",
	"youtube", "tiktok", "reddit", "medium", "wordpress",
}

// CitationClassifier buckets cited URLs into official, authoritative, or
// third-party sources for one target brand.
type CitationClassifier struct {
	brand        string // lowercased, spaces stripped for domain matching
	targetDomain string // www-stripped host of the declared website
}

// NewCitationClassifier builds a classifier for the given brand and its
// declared website URL (may be empty).
func NewCitationClassifier(brand, website string) *CitationClassifier {
	c := &CitationClassifier{
		brand: strings.ReplaceAll(strings.ToLower(strings.TrimSpace(brand)), " ", ""),
	}
	if website != "" {
		if u, err := url.Parse(strings.TrimSpace(website)); err == nil {
			c.targetDomain = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		}
	}
	return c
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Classify returns the citation type for a single URL.
func (c *CitationClassifier) Classify(rawURL string) model.CitationType {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return model.CitationUnknown
	}

	if c.isOfficial(rawURL) {
		return model.CitationOfficial
	}
	if isAuthoritative(rawURL) {
		return model.CitationAuthoritative
	}
	return model.CitationThirdParty
}

func (c *CitationClassifier) isOfficial(rawURL string) bool {
	domain := extractDomain(rawURL)
	if domain == "" {
		return false
	}

	if c.targetDomain != "" && domain == c.targetDomain {
		return true
	}

	// Brand name embedded in the domain, unless it is a marketplace or
	// social platform page about the brand.
	if c.brand != "" && strings.Contains(domain, c.brand) {
		for _, platform := range marketplacePlatforms {
			if strings.Contains(domain, platform) {
				return false
			}
		}
		return true
	}
	return false
}

func isAuthoritative(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, domain := range authoritativeDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// ClassifyAll resolves unknown citation types in place and returns the
// official and authoritative counts.
func (c *CitationClassifier) ClassifyAll(citations []model.Citation) (official, authoritative int) {
	for i := range citations {
		if citations[i].Type == model.CitationUnknown || citations[i].Type == "" {
			citations[i].Type = c.Classify(citations[i].URL)
		}
		switch citations[i].Type {
		case model.CitationOfficial:
			official++
		case model.CitationAuthoritative:
			authoritative++
		}
	}
	return official, authoritative
}
