package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/geolens/geo-audit/internal/model"
)

// probeTemplates maps each probe type to its question template. Placeholders
// are filled per keyword from the audit request.
var probeTemplates = map[model.ProbeType]string{
	model.ProbeTypeDirectRecommendation: "What are the best %s currently on the market?",
	model.ProbeTypeAttributeComparison:  "Compare the pros and cons of %s and %s.",
	model.ProbeTypeSolutionBased:        "How to solve %s? What are some recommended tools or solutions?",
}

// probeTypeOrder fixes the rotation of templates across sample indices so the
// generated matrix is deterministic for a given request.
var probeTypeOrder = []model.ProbeType{
	model.ProbeTypeDirectRecommendation,
	model.ProbeTypeAttributeComparison,
	model.ProbeTypeSolutionBased,
}

// sampleTemperatures is the temperature ladder applied across sample indices.
// Varying temperature between samples surfaces answer variance that a single
// deterministic query would hide.
var sampleTemperatures = []float64{0.3, 0.7, 1.0}

// BuildQuery renders the probe query for one keyword and probe type.
func BuildQuery(probeType model.ProbeType, keyword string, req model.AuditRequest) string {
	switch probeType {
	case model.ProbeTypeAttributeComparison:
		competitors := "other brands"
		if len(req.Competitors) > 0 {
			competitors = strings.Join(req.Competitors, ", ")
		}
		return fmt.Sprintf(probeTemplates[probeType], competitors, req.TargetBrand)
	case model.ProbeTypeSolutionBased:
		return fmt.Sprintf(probeTemplates[probeType], keyword)
	default:
		return fmt.Sprintf(probeTemplates[model.ProbeTypeDirectRecommendation], keyword)
	}
}

// BuildSpecs pre-generates the full immutable probe matrix
// {keyword x provider x sample} for one audit. Each sample index walks the
// template rotation and the temperature ladder in lockstep.
func BuildSpecs(auditID string, req model.AuditRequest, providers []string, samplesPerKeyword int) []model.ProbeSpec {
	if samplesPerKeyword <= 0 {
		samplesPerKeyword = 1
	}

	specs := make([]model.ProbeSpec, 0, len(req.Keywords)*len(providers)*samplesPerKeyword)
	for _, keyword := range req.Keywords {
		for _, provider := range providers {
			for sample := 0; sample < samplesPerKeyword; sample++ {
				probeType := probeTypeOrder[sample%len(probeTypeOrder)]
				specs = append(specs, model.ProbeSpec{
					ID:          uuid.New().String(),
					AuditID:     auditID,
					Keyword:     keyword,
					Provider:    provider,
					ProbeType:   probeType,
					Query:       BuildQuery(probeType, keyword, req),
					Temperature: sampleTemperatures[sample%len(sampleTemperatures)],
					SampleIndex: sample,
				})
			}
		}
	}
	return specs
}
