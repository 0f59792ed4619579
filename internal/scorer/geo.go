// Package scorer converts structured probe results into the final GEO score:
// a weighted blend of share-of-model, citation, ranking, and accuracy
// dimensions with a Wilson confidence interval on the mention proportion.
package scorer

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/geolens/geo-audit/internal/model"
)

// Config tunes score computation.
type Config struct {
	Weights model.Weights

	// UnrankedMentionCredit is the ranking-dimension credit for a mention
	// that never appeared in an ordered list. Being named at all beats
	// being absent, so this sits above zero.
	UnrankedMentionCredit float64

	// NeutralAccuracy is the accuracy score used when no ground truth was
	// available to verify against.
	NeutralAccuracy float64

	// MinSampleForCI is the probe count below which the confidence interval
	// switches to continuity-corrected bounds.
	MinSampleForCI int
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:               model.DefaultWeights(),
		UnrankedMentionCredit: 20,
		NeutralAccuracy:       70,
		MinSampleForCI:        5,
	}
}

func (c Config) withDefaults() Config {
	if c.Weights.Sum() == 0 {
		c.Weights = model.DefaultWeights()
	}
	if c.UnrankedMentionCredit == 0 {
		c.UnrankedMentionCredit = 20
	}
	if c.NeutralAccuracy == 0 {
		c.NeutralAccuracy = 70
	}
	if c.MinSampleForCI == 0 {
		c.MinSampleForCI = 5
	}
	return c
}

// Scorer computes GeoScores. Safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// rankingCredit maps a 1-based list position to a 0-100 credit.
func rankingCredit(rank int) float64 {
	switch {
	case rank == 1:
		return 100
	case rank == 2:
		return 90
	case rank == 3:
		return 80
	case rank <= 5:
		return 60
	case rank <= 10:
		return 40
	default:
		return 0
	}
}

// Score computes the GeoScore over a set of probe results. Discarded results
// are skipped. The function never fails: empty or all-discarded input yields
// an all-zero score flagged InsufficientData.
func (s *Scorer) Score(results []model.ProbeResult) model.GeoScore {
	usable := make([]model.ProbeResult, 0, len(results))
	for _, r := range results {
		if r.Usable() {
			usable = append(usable, r)
		}
	}

	score := model.GeoScore{
		Weights:    s.cfg.Weights,
		TestCount:  len(usable),
		ComputedAt: time.Now().UTC(),
	}

	if len(usable) == 0 {
		score.InsufficientData = true
		score.ConfidenceInterval = &model.ConfidenceInterval{}
		score.Breakdown.AccuracyScore = 0
		return score
	}

	mentioned := 0
	official := 0
	authoritative := 0
	checkedClaims := 0
	hallucinatedClaims := 0
	var rankSum float64
	var rankedCount, top3 int
	var rankingCreditSum float64
	var rankingContribs int

	providerSet := map[string]struct{}{}
	keywordSet := map[string]struct{}{}

	for _, r := range usable {
		providerSet[r.Spec.Provider] = struct{}{}
		keywordSet[r.Spec.Keyword] = struct{}{}

		official += r.OfficialCitationCount
		authoritative += r.AuthoritativeCitationCount
		checkedClaims += r.CheckedClaims
		hallucinatedClaims += r.HallucinatedClaims

		if !r.HasTargetBrand {
			continue
		}
		mentioned++
		if r.TargetBrandRanking != nil {
			rank := *r.TargetBrandRanking
			rankSum += float64(rank)
			rankedCount++
			if rank <= 3 {
				top3++
			}
			rankingCreditSum += rankingCredit(rank)
		} else {
			rankingCreditSum += s.cfg.UnrankedMentionCredit
		}
		rankingContribs++
	}

	b := &score.Breakdown

	// Share of model.
	b.SOMPercentage = float64(mentioned) / float64(len(usable)) * 100
	b.SOMScore = clampScore(b.SOMPercentage)

	// Citations: official sources count double the authoritative weight.
	b.OfficialCitations = official
	b.AuthoritativeCitations = authoritative
	b.CitationScore = math.Min(100, float64(official)*10+float64(authoritative)*5)

	// Ranking.
	if rankingContribs > 0 {
		b.RankingScore = clampScore(rankingCreditSum / float64(rankingContribs))
	}
	if rankedCount > 0 {
		avg := rankSum / float64(rankedCount)
		b.AverageRanking = &avg
	}
	b.Top3Count = top3

	// Accuracy.
	b.HallucinationCount = hallucinatedClaims
	if checkedClaims > 0 {
		b.AccuracyVerified = true
		b.AccuracyScore = clampScore(100 - 100*float64(hallucinatedClaims)/float64(checkedClaims))
	} else {
		b.AccuracyScore = s.cfg.NeutralAccuracy
	}

	w := s.cfg.Weights
	score.OverallScore = clampScore(
		w.ShareOfModel*b.SOMScore +
			w.Citation*b.CitationScore +
			w.Ranking*b.RankingScore +
			w.Accuracy*b.AccuracyScore)

	// Wilson interval on the mention proportion, scaled into overall-score
	// units through the share-of-model weight. The non-SOM dimensions are
	// deterministic given the results, so only the SOM term varies.
	continuity := len(usable) < s.cfg.MinSampleForCI
	lower, upper := wilson(mentioned, len(usable), z95, continuity)
	deterministic := score.OverallScore - w.ShareOfModel*b.SOMScore
	score.ConfidenceInterval = &model.ConfidenceInterval{
		Lower: clampScore(deterministic + w.ShareOfModel*lower*100),
		Upper: clampScore(deterministic + w.ShareOfModel*upper*100),
	}

	score.ProvidersTested = sortedKeys(providerSet)
	score.KeywordsTested = sortedKeys(keywordSet)

	zap.L().Debug("geo score computed",
		zap.Float64("overall", score.OverallScore),
		zap.Float64("som", b.SOMScore),
		zap.Float64("citation", b.CitationScore),
		zap.Float64("ranking", b.RankingScore),
		zap.Float64("accuracy", b.AccuracyScore),
		zap.Int("test_count", score.TestCount))
	return score
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
