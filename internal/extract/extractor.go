// Package extract turns raw answer-engine text into structured brand-mention
// facts. The primary path asks a small model for JSON; when that fails
// validation, a deterministic text scan repairs what it can.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/pkg/anthropic"
)

// maxSaneRanking rejects rankings the extraction model invents; answer
// engines rarely enumerate more than a few dozen items.
const maxSaneRanking = 50

const extractionSystemPrompt = `You are a professional data extraction assistant. You read an AI answer engine's response and extract brand mention facts. Always respond with valid JSON only, no additional text, no markdown fences.`

const extractionPromptTemplate = `Extract brand mention information from the following AI answer.

Original query: %q
Target brand: %q
Keyword: %q

AI answer:
%s

Return JSON with exactly this structure:
{
  "target_brand": {
    "is_mentioned": true or false,
    "ranking": integer position in the recommendation list, or null,
    "sentiment": "positive" | "neutral" | "negative", or null,
    "mention_text": "the sentence mentioning the target brand", or null
  },
  "all_brands": [
    {
      "brand_name": "name",
      "ranking": integer or null,
      "sentiment": "positive" | "neutral" | "negative",
      "mention_text": "sentence"
    }
  ],
  "total_brands_count": integer
}

Rules:
- Match the target brand tolerantly: minor spelling or suffix differences still count.
- ranking is the position in an ordered recommendation list, 1 for first. Use null when the answer has no ordered list.
- sentiment must be judged from the text; default to "neutral" when unclear.
- When the target brand is not mentioned, set is_mentioned to false and the other target fields to null.`

// Target describes the brand under audit for a batch of extractions.
type Target struct {
	Brand       string
	BrandAlias  string // short form, e.g. request BrandName vs full TargetBrand
	Website     string
	GroundTruth map[string]string
}

func (t Target) aliases() []string {
	out := []string{t.Brand}
	if t.BrandAlias != "" && !strings.EqualFold(t.BrandAlias, t.Brand) {
		out = append(out, t.BrandAlias)
	}
	return out
}

// Config tunes the extractor.
type Config struct {
	Model          string
	MaxTokens      int
	MaxTextLength  int
	RepairMaxScans int
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 20000
	}
	if c.RepairMaxScans <= 0 {
		c.RepairMaxScans = 20
	}
	return c
}

// Extractor converts probe responses into ProbeResults for one audit.
type Extractor struct {
	client     anthropic.Client
	cfg        Config
	target     Target
	system     []anthropic.SystemBlock
	classifier *CitationClassifier
	checker    *AccuracyChecker

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// New creates an extractor bound to one audit's target brand.
func New(client anthropic.Client, target Target, cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{
		client:     client,
		cfg:        cfg,
		target:     target,
		system:     anthropic.BuildCachedSystemBlocks(extractionSystemPrompt),
		classifier: NewCitationClassifier(target.Brand, target.Website),
		checker:    NewAccuracyChecker(target.GroundTruth),
	}
}

// extractionPayload mirrors the JSON the extraction model must emit.
// TargetBrand is a pointer so that JSON missing the required envelope
// entirely (a refusal wrapped in JSON, a salvaged fragment of truncated
// output) is distinguishable from an explicit is_mentioned=false.
type extractionPayload struct {
	TargetBrand *struct {
		IsMentioned bool    `json:"is_mentioned"`
		Ranking     *int    `json:"ranking"`
		Sentiment   *string `json:"sentiment"`
		MentionText *string `json:"mention_text"`
	} `json:"target_brand"`
	AllBrands []struct {
		BrandName   string  `json:"brand_name"`
		Ranking     *int    `json:"ranking"`
		Sentiment   *string `json:"sentiment"`
		MentionText *string `json:"mention_text"`
	} `json:"all_brands"`
	TotalBrandsCount int `json:"total_brands_count"`
}

// Extract never returns an error: model or validation failures fall through
// to the deterministic repair path, and an unrecoverable response comes back
// with ExtractionStatus discarded.
func (e *Extractor) Extract(ctx context.Context, resp model.ProbeResponse) model.ProbeResult {
	payload, usage, err := e.extractWithModel(ctx, resp)
	if err != nil {
		zap.L().Warn("model extraction failed, attempting repair",
			zap.String("probe_id", resp.Spec.ID),
			zap.String("provider", resp.Spec.Provider),
			zap.Error(err))
		return e.repair(resp)
	}
	if usage != nil {
		e.mu.Lock()
		e.usage.InputTokens += usage.InputTokens
		e.usage.OutputTokens += usage.OutputTokens
		e.usage.CacheCreationInputTokens += usage.CacheCreationInputTokens
		e.usage.CacheReadInputTokens += usage.CacheReadInputTokens
		e.mu.Unlock()
	}

	result, err := e.buildResult(resp, payload)
	if err != nil {
		zap.L().Warn("extraction payload failed validation, attempting repair",
			zap.String("probe_id", resp.Spec.ID),
			zap.Error(err))
		return e.repair(resp)
	}
	return result
}

// TotalUsage returns the accumulated extraction token usage so far.
func (e *Extractor) TotalUsage() anthropic.TokenUsage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// Model returns the extraction model in use.
func (e *Extractor) Model() string {
	return e.cfg.Model
}

func (e *Extractor) extractWithModel(ctx context.Context, resp model.ProbeResponse) (*extractionPayload, *anthropic.TokenUsage, error) {
	text := resp.Text
	if len(text) > e.cfg.MaxTextLength {
		text = text[:e.cfg.MaxTextLength]
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, eris.New("extract: empty response text")
	}

	temperature := 0.0
	prompt := buildExtractionPrompt(resp.Spec.Query, e.target.Brand, resp.Spec.Keyword, text)
	msgResp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   int64(e.cfg.MaxTokens),
		System:      e.system,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: create message")
	}

	cleaned := cleanJSON(msgResp.Text())
	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, nil, eris.Wrap(err, "extract: parse extraction JSON")
	}
	return &payload, &msgResp.Usage, nil
}

func buildExtractionPrompt(query, targetBrand, keyword, text string) string {
	return fmt.Sprintf(extractionPromptTemplate, query, targetBrand, keyword, text)
}

// buildResult validates the payload and assembles a ProbeResult.
func (e *Extractor) buildResult(resp model.ProbeResponse, payload *extractionPayload) (model.ProbeResult, error) {
	result := model.ProbeResult{
		Spec:             resp.Spec,
		ExtractionStatus: model.ExtractionOK,
	}

	if payload.TargetBrand == nil {
		return result, eris.New("extract: payload missing target_brand")
	}

	ranking, err := validateRanking(payload.TargetBrand.Ranking)
	if err != nil {
		return result, err
	}

	for _, b := range payload.AllBrands {
		if strings.TrimSpace(b.BrandName) == "" {
			continue
		}
		r, err := validateRanking(b.Ranking)
		if err != nil {
			return result, err
		}
		mention := model.BrandMention{
			BrandName:     b.BrandName,
			Mentioned:     true,
			Ranking:       r,
			Sentiment:     normalizeSentiment(b.Sentiment),
			IsTargetBrand: strings.EqualFold(b.BrandName, e.target.Brand),
		}
		if b.MentionText != nil {
			mention.MentionText = *b.MentionText
		}
		result.BrandMentions = append(result.BrandMentions, mention)
	}

	result.TotalMentions = payload.TotalBrandsCount
	if result.TotalMentions < len(result.BrandMentions) {
		result.TotalMentions = len(result.BrandMentions)
	}

	result.HasTargetBrand = payload.TargetBrand.IsMentioned
	if result.HasTargetBrand {
		result.TargetBrandRanking = ranking
		result.TargetBrandSentiment = normalizeSentiment(payload.TargetBrand.Sentiment)

		if !hasTargetMention(result.BrandMentions) {
			mention := model.BrandMention{
				BrandName:     e.target.Brand,
				Mentioned:     true,
				Ranking:       ranking,
				Sentiment:     result.TargetBrandSentiment,
				IsTargetBrand: true,
			}
			if payload.TargetBrand.MentionText != nil {
				mention.MentionText = *payload.TargetBrand.MentionText
			}
			result.BrandMentions = append(result.BrandMentions, mention)
			result.TotalMentions++
		}
	} else {
		result.TargetBrandSentiment = model.SentimentNeutral
	}

	citations := append([]model.Citation(nil), resp.Citations...)
	result.OfficialCitationCount, result.AuthoritativeCitationCount = e.classifier.ClassifyAll(citations)

	if e.checker.HasGroundTruth() && result.HasTargetBrand {
		result.CheckedClaims, result.HallucinatedClaims = e.checker.Check(resp.Text)
	}

	return result, nil
}

func hasTargetMention(mentions []model.BrandMention) bool {
	for _, m := range mentions {
		if m.IsTargetBrand {
			return true
		}
	}
	return false
}

func validateRanking(r *int) (*int, error) {
	if r == nil {
		return nil, nil
	}
	if *r < 1 || *r > maxSaneRanking {
		return nil, eris.Errorf("extract: ranking %d out of range", *r)
	}
	v := *r
	return &v, nil
}

func normalizeSentiment(s *string) model.Sentiment {
	if s == nil {
		return model.SentimentNeutral
	}
	candidate := model.Sentiment(strings.ToLower(strings.TrimSpace(*s)))
	if model.ValidSentiment(candidate) {
		return candidate
	}
	return model.SentimentNeutral
}

// cleanJSON strips markdown fences and isolates the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
