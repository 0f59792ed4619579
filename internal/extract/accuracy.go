package extract

import (
	"regexp"
	"strings"
)

// contradictionKeywords flag statements that contradict an active brand's
// existence or availability.
var contradictionKeywords = []string{
	"discontinued",
	"no longer available",
	"shut down",
	"closed down",
	"doesn't exist",
	"not a real",
	"scam",
}

// Malformed price shapes that a model invents rather than quotes:
// three-plus decimal places or six-plus digit dollar amounts.
var (
	malformedPriceRe = regexp.MustCompile(`\$\d+\.\d{3,}`)
	absurdPriceRe    = regexp.MustCompile(`\$\d{6,}`)
	nonWordRe        = regexp.MustCompile(`[^\w\s]`)
	spaceRe          = regexp.MustCompile(`\s+`)
)

// AccuracyChecker verifies a response text against caller-supplied ground
// truth, claim by claim. It is purely lexical; no model calls.
type AccuracyChecker struct {
	groundTruth map[string]string
}

// NewAccuracyChecker builds a checker over a flat ground-truth map. A nil or
// empty map produces a checker that only scans for contradiction patterns.
func NewAccuracyChecker(groundTruth map[string]string) *AccuracyChecker {
	return &AccuracyChecker{groundTruth: groundTruth}
}

func normalizeForMatch(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRe.ReplaceAllString(s, " ")
	return spaceRe.ReplaceAllString(s, " ")
}

// HasGroundTruth reports whether any claims were supplied for verification.
func (a *AccuracyChecker) HasGroundTruth() bool {
	return len(a.groundTruth) > 0
}

// Check scans the response text and returns how many claims were checked and
// how many of those look hallucinated. A ground-truth claim counts as checked
// only when the response engages with it (the claim's key or value surfaces
// in the text); a checked claim whose true value is absent is a
// hallucination. Contradiction keywords and malformed prices each count as
// one checked, one hallucinated.
func (a *AccuracyChecker) Check(text string) (checked, hallucinated int) {
	if strings.TrimSpace(text) == "" {
		return 0, 0
	}
	norm := normalizeForMatch(text)
	lower := strings.ToLower(text)

	for key, value := range a.groundTruth {
		normValue := normalizeForMatch(value)
		normKey := normalizeForMatch(key)
		switch {
		case normValue != "" && strings.Contains(norm, normValue):
			checked++
		case normKey != "" && strings.Contains(norm, normKey):
			// Topic discussed but the true value is missing.
			checked++
			hallucinated++
		}
	}

	for _, kw := range contradictionKeywords {
		if strings.Contains(lower, kw) {
			checked++
			hallucinated++
			break
		}
	}

	if malformedPriceRe.MatchString(text) || absurdPriceRe.MatchString(text) {
		checked++
		hallucinated++
	}

	return checked, hallucinated
}
