package model

import "time"

// Weights holds the relative contribution of each scoring dimension.
// They must sum to 1.0.
type Weights struct {
	ShareOfModel float64 `json:"share_of_model" yaml:"share_of_model"`
	Citation     float64 `json:"citation" yaml:"citation"`
	Ranking      float64 `json:"ranking" yaml:"ranking"`
	Accuracy     float64 `json:"accuracy" yaml:"accuracy"`
}

// DefaultWeights is the standard dimension weighting.
func DefaultWeights() Weights {
	return Weights{ShareOfModel: 0.4, Citation: 0.3, Ranking: 0.2, Accuracy: 0.1}
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.ShareOfModel + w.Citation + w.Ranking + w.Accuracy
}

// ScoreBreakdown carries the per-dimension scores and their supporting counts.
// All *Score fields are on a 0-100 scale.
type ScoreBreakdown struct {
	SOMScore      float64 `json:"som_score"`
	SOMPercentage float64 `json:"som_percentage"` // share of usable probes mentioning the target

	CitationScore          float64 `json:"citation_score"`
	OfficialCitations      int     `json:"official_citations"`
	AuthoritativeCitations int     `json:"authoritative_citations"`

	RankingScore   float64  `json:"ranking_score"`
	AverageRanking *float64 `json:"average_ranking,omitempty"`
	Top3Count      int      `json:"top3_count"`

	AccuracyScore      float64 `json:"accuracy_score"`
	AccuracyVerified   bool    `json:"accuracy_verified"` // false when no ground truth was supplied
	HallucinationCount int     `json:"hallucination_count"`
}

// ConfidenceInterval bounds the share-of-model estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// GeoScore is the final audit verdict.
type GeoScore struct {
	OverallScore       float64             `json:"overall_score"`
	Breakdown          ScoreBreakdown      `json:"breakdown"`
	Weights            Weights             `json:"weights"`
	ConfidenceInterval *ConfidenceInterval `json:"confidence_interval,omitempty"`
	TestCount          int                 `json:"test_count"` // usable probes that fed the score
	ProvidersTested    []string            `json:"providers_tested"`
	KeywordsTested     []string            `json:"keywords_tested"`
	InsufficientData   bool                `json:"insufficient_data"`
	ComputedAt         time.Time           `json:"computed_at"`
}
