package extract

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/geolens/geo-audit/internal/model"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// brandPattern compiles a word-boundary, case-insensitive matcher for one
// brand name. Multi-word names tolerate arbitrary whitespace between words.
func brandPattern(brand string) (*regexp.Regexp, error) {
	words := strings.Fields(brand)
	if len(words) == 0 {
		return nil, fmt.Errorf("empty brand name")
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)\b` + strings.Join(quoted, `\s+`) + `\b`)
}

// repair is the deterministic fallback when model extraction fails: scan the
// raw text for the target brand (and its aliases) and harvest any URLs as
// citations. A repaired result carries the mention flag only; ranking and
// sentiment are unknowable without the model.
func (e *Extractor) repair(resp model.ProbeResponse) model.ProbeResult {
	result := model.ProbeResult{
		Spec:                 resp.Spec,
		TargetBrandSentiment: model.SentimentNeutral,
		ExtractionStatus:     model.ExtractionRepaired,
	}

	text := resp.Text
	if len(text) > e.cfg.MaxTextLength {
		text = text[:e.cfg.MaxTextLength]
	}

	mentioned := false
	for _, alias := range e.target.aliases() {
		re, err := brandPattern(alias)
		if err != nil {
			continue
		}
		if loc := re.FindStringIndex(text); loc != nil {
			mentioned = true
			result.BrandMentions = append(result.BrandMentions, model.BrandMention{
				BrandName:     e.target.Brand,
				Mentioned:     true,
				Sentiment:     model.SentimentNeutral,
				MentionText:   surroundingText(text, loc[0], loc[1]),
				IsTargetBrand: true,
			})
			break
		}
	}
	result.HasTargetBrand = mentioned
	if mentioned {
		result.TotalMentions = 1
	}

	citations := append([]model.Citation(nil), resp.Citations...)
	scans := e.cfg.RepairMaxScans
	for _, raw := range urlRe.FindAllString(text, scans) {
		citations = append(citations, model.Citation{
			URL:  strings.TrimRight(raw, ".,;"),
			Type: model.CitationUnknown,
		})
	}
	result.OfficialCitationCount, result.AuthoritativeCitationCount = e.classifier.ClassifyAll(citations)

	if !mentioned && len(citations) == 0 {
		result.ExtractionStatus = model.ExtractionDiscarded
		zap.L().Debug("extraction discarded, nothing recoverable",
			zap.String("probe_id", resp.Spec.ID),
			zap.String("provider", resp.Spec.Provider))
		return result
	}

	if e.checker.HasGroundTruth() && mentioned {
		result.CheckedClaims, result.HallucinatedClaims = e.checker.Check(text)
	}

	zap.L().Debug("extraction repaired from raw text",
		zap.String("probe_id", resp.Spec.ID),
		zap.Bool("mentioned", mentioned),
		zap.Int("citations", len(citations)))
	return result
}

// surroundingText returns the sentence-sized window around a match.
func surroundingText(text string, start, end int) string {
	const window = 120
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(text[lo:hi])
}
