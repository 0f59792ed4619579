package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geo-audit/internal/model"
)

func intPtr(v int) *int { return &v }

func mentionedResult(provider, keyword string, ranking *int) model.ProbeResult {
	return model.ProbeResult{
		Spec:               model.ProbeSpec{Provider: provider, Keyword: keyword},
		HasTargetBrand:     true,
		TargetBrandRanking: ranking,
		ExtractionStatus:   model.ExtractionOK,
	}
}

func absentResult(provider, keyword string) model.ProbeResult {
	return model.ProbeResult{
		Spec:             model.ProbeSpec{Provider: provider, Keyword: keyword},
		ExtractionStatus: model.ExtractionOK,
	}
}

func TestScore_EmptyInput(t *testing.T) {
	s := New(DefaultConfig())

	score := s.Score(nil)
	assert.Zero(t, score.OverallScore)
	assert.Zero(t, score.TestCount)
	assert.True(t, score.InsufficientData)
	require.NotNil(t, score.ConfidenceInterval)
	assert.Zero(t, score.ConfidenceInterval.Lower)
	assert.Zero(t, score.ConfidenceInterval.Upper)
	assert.False(t, score.ComputedAt.IsZero())
}

func TestScore_AllDiscardedIsInsufficient(t *testing.T) {
	s := New(DefaultConfig())

	score := s.Score([]model.ProbeResult{
		{Spec: model.ProbeSpec{Provider: "openai"}, ExtractionStatus: model.ExtractionDiscarded},
		{Spec: model.ProbeSpec{Provider: "gemini"}, ExtractionStatus: model.ExtractionDiscarded},
	})
	assert.True(t, score.InsufficientData)
	assert.Zero(t, score.TestCount)
	assert.Zero(t, score.OverallScore)
}

// Three providers x two keywords, one sample each: target mentioned in 4 of
// 6 probes, two official and one authoritative citation, ranks 1 and 3 among
// ranked mentions, no ground truth.
func TestScore_WorkedScenario(t *testing.T) {
	s := New(DefaultConfig())

	r1 := mentionedResult("openai", "crm software", intPtr(1))
	r1.OfficialCitationCount = 1
	r2 := mentionedResult("gemini", "crm software", intPtr(3))
	r2.OfficialCitationCount = 1
	r3 := mentionedResult("perplexity", "crm software", nil)
	r3.AuthoritativeCitationCount = 1
	r4 := mentionedResult("openai", "email tools", nil)

	results := []model.ProbeResult{
		r1, r2, r3, r4,
		absentResult("gemini", "email tools"),
		absentResult("perplexity", "email tools"),
	}

	score := s.Score(results)
	b := score.Breakdown

	assert.Equal(t, 6, score.TestCount)
	assert.InDelta(t, 66.7, b.SOMScore, 0.05)
	assert.InDelta(t, 25.0, b.CitationScore, 0.001) // 2 official x10 + 1 authoritative x5
	assert.Equal(t, 2, b.OfficialCitations)
	assert.Equal(t, 1, b.AuthoritativeCitations)

	require.NotNil(t, b.AverageRanking)
	assert.InDelta(t, 2.0, *b.AverageRanking, 0.001)
	assert.Equal(t, 2, b.Top3Count)
	// (100 + 80 + 20 + 20) / 4 mentions
	assert.InDelta(t, 55.0, b.RankingScore, 0.001)

	assert.False(t, b.AccuracyVerified)
	assert.InDelta(t, 70.0, b.AccuracyScore, 0.001)

	w := score.Weights
	expected := w.ShareOfModel*b.SOMScore + w.Citation*b.CitationScore +
		w.Ranking*b.RankingScore + w.Accuracy*b.AccuracyScore
	assert.InDelta(t, expected, score.OverallScore, 0.001)

	require.NotNil(t, score.ConfidenceInterval)
	assert.LessOrEqual(t, score.ConfidenceInterval.Lower, score.OverallScore)
	assert.GreaterOrEqual(t, score.ConfidenceInterval.Upper, score.OverallScore)

	assert.Equal(t, []string{"gemini", "openai", "perplexity"}, score.ProvidersTested)
	assert.Equal(t, []string{"crm software", "email tools"}, score.KeywordsTested)
}

func TestScore_RankingLadder(t *testing.T) {
	tests := []struct {
		rank int
		want float64
	}{
		{1, 100}, {2, 90}, {3, 80}, {4, 60}, {5, 60},
		{6, 40}, {10, 40}, {11, 0}, {25, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, rankingCredit(tt.rank), 0.001, "rank %d", tt.rank)
	}
}

func TestScore_UnrankedMentionCredit(t *testing.T) {
	s := New(DefaultConfig())

	score := s.Score([]model.ProbeResult{mentionedResult("openai", "crm software", nil)})
	assert.InDelta(t, 20.0, score.Breakdown.RankingScore, 0.001)
	assert.Nil(t, score.Breakdown.AverageRanking)
}

func TestScore_NoMentionsZeroRanking(t *testing.T) {
	s := New(DefaultConfig())

	score := s.Score([]model.ProbeResult{
		absentResult("openai", "crm software"),
		absentResult("gemini", "crm software"),
	})
	assert.Zero(t, score.Breakdown.RankingScore)
	assert.Zero(t, score.Breakdown.SOMScore)
	assert.False(t, score.InsufficientData)
}

func TestScore_CitationScoreCapped(t *testing.T) {
	s := New(DefaultConfig())

	r := mentionedResult("openai", "crm software", intPtr(1))
	r.OfficialCitationCount = 15
	r.AuthoritativeCitationCount = 8

	score := s.Score([]model.ProbeResult{r})
	assert.InDelta(t, 100.0, score.Breakdown.CitationScore, 0.001)
}

func TestScore_AccuracyVerified(t *testing.T) {
	s := New(DefaultConfig())

	r := mentionedResult("openai", "crm software", intPtr(1))
	r.CheckedClaims = 4
	r.HallucinatedClaims = 1

	score := s.Score([]model.ProbeResult{r})
	assert.True(t, score.Breakdown.AccuracyVerified)
	assert.InDelta(t, 75.0, score.Breakdown.AccuracyScore, 0.001)
	assert.Equal(t, 1, score.Breakdown.HallucinationCount)
}

func TestScore_DiscardedResultsExcluded(t *testing.T) {
	s := New(DefaultConfig())

	discarded := mentionedResult("grok", "crm software", intPtr(1))
	discarded.ExtractionStatus = model.ExtractionDiscarded

	score := s.Score([]model.ProbeResult{
		mentionedResult("openai", "crm software", intPtr(1)),
		absentResult("gemini", "crm software"),
		discarded,
	})
	assert.Equal(t, 2, score.TestCount)
	assert.InDelta(t, 50.0, score.Breakdown.SOMScore, 0.001)
	assert.NotContains(t, score.ProvidersTested, "grok")
}

func TestScore_SubScoresWithinRange(t *testing.T) {
	s := New(DefaultConfig())

	results := []model.ProbeResult{
		mentionedResult("openai", "a", intPtr(1)),
		mentionedResult("gemini", "a", intPtr(2)),
		absentResult("perplexity", "b"),
	}
	score := s.Score(results)

	for name, v := range map[string]float64{
		"som":      score.Breakdown.SOMScore,
		"citation": score.Breakdown.CitationScore,
		"ranking":  score.Breakdown.RankingScore,
		"accuracy": score.Breakdown.AccuracyScore,
		"overall":  score.OverallScore,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 100.0, name)
	}
	assert.InDelta(t, 1.0, score.Weights.Sum(), 0.001)
}

func TestScore_CustomWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = model.Weights{ShareOfModel: 1.0}
	s := New(cfg)

	score := s.Score([]model.ProbeResult{
		mentionedResult("openai", "a", nil),
		absentResult("gemini", "a"),
	})
	assert.InDelta(t, 50.0, score.OverallScore, 0.001)
}
