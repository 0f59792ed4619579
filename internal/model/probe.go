package model

import "time"

// ProbeType classifies the question template a probe is built from.
type ProbeType string

const (
	// ProbeTypeDirectRecommendation asks for the best products in a category.
	ProbeTypeDirectRecommendation ProbeType = "direct_recommendation"
	// ProbeTypeAttributeComparison asks to compare the target brand against competitors.
	ProbeTypeAttributeComparison ProbeType = "attribute_comparison"
	// ProbeTypeSolutionBased asks for tools that solve a pain point.
	ProbeTypeSolutionBased ProbeType = "solution_based"
)

// ProbeSpec is one cell of the audit test matrix:
// {keyword x provider x sampling variant}. Immutable once generated.
type ProbeSpec struct {
	ID          string    `json:"id"`
	AuditID     string    `json:"audit_id"`
	Keyword     string    `json:"keyword"`
	Provider    string    `json:"provider"`
	ProbeType   ProbeType `json:"probe_type"`
	Query       string    `json:"query"`
	Temperature float64   `json:"temperature"`
	SampleIndex int       `json:"sample_index"`
}

// CitationType classifies where a cited link points.
type CitationType string

const (
	CitationOfficial      CitationType = "official"
	CitationAuthoritative CitationType = "authoritative"
	CitationThirdParty    CitationType = "third_party"
	CitationUnknown       CitationType = "unknown"
)

// Citation is a reference link embedded in a provider response.
type Citation struct {
	URL   string       `json:"url"`
	Title string       `json:"title,omitempty"`
	Type  CitationType `json:"type"`
}

// ProviderReply is what a provider adapter returns for a single query,
// before the dispatcher stamps spec and timing onto it.
type ProviderReply struct {
	Text         string
	Citations    []Citation
	InputTokens  int64
	OutputTokens int64
}

// ProbeResponse is the raw output of one successfully dispatched probe.
type ProbeResponse struct {
	Spec         ProbeSpec  `json:"spec"`
	Text         string     `json:"text"`
	Citations    []Citation `json:"citations,omitempty"`
	InputTokens  int64      `json:"input_tokens,omitempty"`
	OutputTokens int64      `json:"output_tokens,omitempty"`
	LatencyMS    int64      `json:"latency_ms"`
	ReceivedAt   time.Time  `json:"received_at"`
}

// DispatchFailure records a probe that never produced a usable response.
// Non-fatal to the audit; kept for diagnostics.
type DispatchFailure struct {
	Spec      ProbeSpec `json:"spec"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Permanent bool      `json:"permanent"` // auth/malformed-request errors are not retried
}
