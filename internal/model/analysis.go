package model

// Sentiment is the tone a response takes toward a brand.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ValidSentiment reports whether s is one of the three allowed tokens.
func ValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// ExtractionStatus tags the quality of a probe's structured extraction.
type ExtractionStatus string

const (
	// ExtractionOK means the structured extraction passed validation.
	ExtractionOK ExtractionStatus = "ok"
	// ExtractionRepaired means the structured output was unusable and the
	// deterministic text-scan fallback recovered a mention.
	ExtractionRepaired ExtractionStatus = "repaired"
	// ExtractionDiscarded means neither path produced usable data; the probe
	// is excluded from scoring but counted in audit metadata.
	ExtractionDiscarded ExtractionStatus = "discarded"
)

// BrandMention is one brand surfaced by a single probe response.
type BrandMention struct {
	BrandName     string    `json:"brand_name"`
	Mentioned     bool      `json:"mentioned"`
	Ranking       *int      `json:"ranking,omitempty"` // position in a recommendation list, 1-based
	Sentiment     Sentiment `json:"sentiment,omitempty"`
	MentionText   string    `json:"mention_text,omitempty"`
	IsTargetBrand bool      `json:"is_target_brand"`
}

// ProbeResult is the structured distillation of one ProbeResponse.
// Produced exactly once per successfully dispatched probe.
type ProbeResult struct {
	Spec                       ProbeSpec        `json:"spec"`
	BrandMentions              []BrandMention   `json:"brand_mentions,omitempty"`
	TotalMentions              int              `json:"total_mentions"`
	HasTargetBrand             bool             `json:"has_target_brand"`
	TargetBrandRanking         *int             `json:"target_brand_ranking,omitempty"`
	TargetBrandSentiment       Sentiment        `json:"target_brand_sentiment,omitempty"`
	OfficialCitationCount      int              `json:"official_citation_count"`
	AuthoritativeCitationCount int              `json:"authoritative_citation_count"`
	CheckedClaims              int              `json:"checked_claims"`
	HallucinatedClaims         int              `json:"hallucinated_claims"`
	ExtractionStatus           ExtractionStatus `json:"extraction_status"`
}

// Usable reports whether the result should feed the scorer.
func (r ProbeResult) Usable() bool {
	return r.ExtractionStatus != ExtractionDiscarded
}
