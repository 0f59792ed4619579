// Package strategy defines the optimization-strategy collaborator. The core
// audit flow never calls it; callers that want narrative recommendations on
// top of a score plug a Generator in.
package strategy

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/pkg/anthropic"
)

// Generator produces an optimization strategy for a scored brand.
type Generator interface {
	Generate(ctx context.Context, score model.GeoScore, brand string) (string, error)
}

const strategySystemPrompt = `You are a Generative Engine Optimization consultant.
Given a brand's visibility score across AI answer engines, write a short,
concrete optimization strategy: what is dragging the score down, and the
three highest-leverage actions to improve it. Plain prose, no markdown.`

const strategyPromptTemplate = `Brand: %s
Overall GEO score: %.1f / 100
Share of model: %.1f
Citation score: %.1f
Ranking score: %.1f
Accuracy score: %.1f (verified: %t)
Probes analyzed: %d across providers %v

Write the optimization strategy.`

// ClaudeGenerator generates strategies with an Anthropic model.
type ClaudeGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeGenerator returns a Generator backed by the given model.
func NewClaudeGenerator(client anthropic.Client, model string) *ClaudeGenerator {
	return &ClaudeGenerator{client: client, model: model, maxTokens: 1024}
}

func (g *ClaudeGenerator) Generate(ctx context.Context, score model.GeoScore, brand string) (string, error) {
	if score.InsufficientData {
		return "", eris.New("strategy: score has insufficient data")
	}

	prompt := fmt.Sprintf(strategyPromptTemplate,
		brand,
		score.OverallScore,
		score.Breakdown.SOMScore,
		score.Breakdown.CitationScore,
		score.Breakdown.RankingScore,
		score.Breakdown.AccuracyScore,
		score.Breakdown.AccuracyVerified,
		score.TestCount,
		score.ProvidersTested,
	)

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(strategySystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", eris.Wrap(err, "strategy: generate")
	}
	text := resp.Text()
	if text == "" {
		return "", eris.New("strategy: model returned empty response")
	}
	return text, nil
}
