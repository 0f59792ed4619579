package dispatch

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/resilience"
	"github.com/geolens/geo-audit/pkg/anthropic"
	"github.com/geolens/geo-audit/pkg/gemini"
	"github.com/geolens/geo-audit/pkg/grok"
	"github.com/geolens/geo-audit/pkg/openai"
	"github.com/geolens/geo-audit/pkg/perplexity"
)

// Provider is one answer engine the dispatcher can probe. Adapters translate
// provider-specific wire errors into the shared resilience taxonomy so the
// retry and circuit-breaker layers can treat all engines uniformly.
type Provider interface {
	Name() string
	Query(ctx context.Context, prompt string, temperature float64) (*model.ProviderReply, error)
}

const defaultMaxTokens = 1024

// translateStatus maps an HTTP status to the shared error taxonomy.
// 401/403 are permanent credential failures; 408/429/5xx are retryable.
func translateStatus(provider string, statusCode int, err error) error {
	if statusCode == 401 || statusCode == 403 {
		return resilience.NewAuthError(provider, statusCode)
	}
	if resilience.IsTransientHTTPStatus(statusCode) {
		return resilience.NewTransientError(err, statusCode)
	}
	return err
}

// OpenAIProvider probes the OpenAI chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Query(ctx context.Context, prompt string, temperature float64) (*model.ProviderReply, error) {
	maxTokens := defaultMaxTokens
	resp, err := p.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages:    []openai.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, translateStatus(p.Name(), apiErr.StatusCode, err)
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: empty choices")
	}
	return &model.ProviderReply{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

// ClaudeProvider probes the Anthropic messages API.
type ClaudeProvider struct {
	client anthropic.Client
	model  string
}

func NewClaudeProvider(client anthropic.Client, modelName string) *ClaudeProvider {
	return &ClaudeProvider{client: client, model: modelName}
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) Query(ctx context.Context, prompt string, temperature float64) (*model.ProviderReply, error) {
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   defaultMaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return nil, translateStatus(p.Name(), apiErr.StatusCode, err)
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	return &model.ProviderReply{
		Text:         resp.Text(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// GeminiProvider probes the Google Gemini generateContent API.
type GeminiProvider struct {
	client gemini.Client
}

func NewGeminiProvider(client gemini.Client) *GeminiProvider {
	return &GeminiProvider{client: client}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Query(ctx context.Context, prompt string, temperature float64) (*model.ProviderReply, error) {
	maxTokens := defaultMaxTokens
	resp, err := p.client.GenerateContent(ctx, gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: prompt}}}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: &maxTokens,
		},
	})
	if err != nil {
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) {
			return nil, translateStatus(p.Name(), apiErr.StatusCode, err)
		}
		return nil, resilience.NewTransientError(err, 0)
	}

	reply := &model.ProviderReply{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		reply.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		reply.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			reply.Citations = append(reply.Citations, model.Citation{
				URL:   chunk.Web.URI,
				Title: chunk.Web.Title,
				Type:  model.CitationUnknown,
			})
		}
	}
	return reply, nil
}

// PerplexityProvider probes the Perplexity chat completions API. Perplexity
// answers are web-grounded, so the cited source URLs come back with the text.
type PerplexityProvider struct {
	client perplexity.Client
}

func NewPerplexityProvider(client perplexity.Client) *PerplexityProvider {
	return &PerplexityProvider{client: client}
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

func (p *PerplexityProvider) Query(ctx context.Context, prompt string, temperature float64) (*model.ProviderReply, error) {
	maxTokens := defaultMaxTokens
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages:    []perplexity.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		var apiErr *perplexity.APIError
		if errors.As(err, &apiErr) {
			return nil, translateStatus(p.Name(), apiErr.StatusCode, err)
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("perplexity: empty choices")
	}

	reply := &model.ProviderReply{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	// search_results carries titles; the bare citations list is the fallback.
	if len(resp.SearchResults) > 0 {
		for _, sr := range resp.SearchResults {
			reply.Citations = append(reply.Citations, model.Citation{
				URL:   sr.URL,
				Title: sr.Title,
				Type:  model.CitationUnknown,
			})
		}
	} else {
		for _, u := range resp.Citations {
			reply.Citations = append(reply.Citations, model.Citation{URL: u, Type: model.CitationUnknown})
		}
	}
	return reply, nil
}

// GrokProvider probes the xAI chat completions API with live search enabled.
type GrokProvider struct {
	client grok.Client
}

func NewGrokProvider(client grok.Client) *GrokProvider {
	return &GrokProvider{client: client}
}

func (p *GrokProvider) Name() string { return "grok" }

func (p *GrokProvider) Query(ctx context.Context, prompt string, temperature float64) (*model.ProviderReply, error) {
	maxTokens := defaultMaxTokens
	resp, err := p.client.ChatCompletion(ctx, grok.ChatCompletionRequest{
		Messages:     []grok.Message{{Role: "user", Content: prompt}},
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
		SearchParams: &grok.SearchParams{Mode: "auto", ReturnCitations: true},
	})
	if err != nil {
		var apiErr *grok.APIError
		if errors.As(err, &apiErr) {
			return nil, translateStatus(p.Name(), apiErr.StatusCode, err)
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("grok: empty choices")
	}

	reply := &model.ProviderReply{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	for _, u := range resp.Citations {
		reply.Citations = append(reply.Citations, model.Citation{URL: u, Type: model.CitationUnknown})
	}
	return reply, nil
}
