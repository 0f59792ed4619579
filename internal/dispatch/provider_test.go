package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/resilience"
	"github.com/geolens/geo-audit/pkg/anthropic"
	"github.com/geolens/geo-audit/pkg/gemini"
	"github.com/geolens/geo-audit/pkg/grok"
	"github.com/geolens/geo-audit/pkg/openai"
	"github.com/geolens/geo-audit/pkg/perplexity"
)

func TestOpenAIProvider_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Acme leads the category."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 30}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(openai.NewClient("test-key", openai.WithBaseURL(srv.URL)))
	reply, err := p.Query(context.Background(), "What are the best crm software currently on the market?", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Acme leads the category.", reply.Text)
	assert.Equal(t, int64(12), reply.InputTokens)
	assert.Equal(t, int64(30), reply.OutputTokens)
	assert.Empty(t, reply.Citations)
}

func TestOpenAIProvider_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid api key"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(openai.NewClient("bad-key", openai.WithBaseURL(srv.URL)))
	_, err := p.Query(context.Background(), "prompt", 0.7)
	require.Error(t, err)
	assert.True(t, resilience.IsAuthError(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestOpenAIProvider_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(openai.NewClient("test-key", openai.WithBaseURL(srv.URL)))
	_, err := p.Query(context.Background(), "prompt", 0.7)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsAuthError(err))
}

func TestPerplexityProvider_Citations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "pplx-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Acme is widely recommended."}}],
			"search_results": [
				{"title": "Acme Official Site", "url": "https://acme.com/products"},
				{"title": "CRM Roundup", "url": "https://example.org/crm"}
			],
			"usage": {"prompt_tokens": 10, "completion_tokens": 25}
		}`))
	}))
	defer srv.Close()

	p := NewPerplexityProvider(perplexity.NewClient("test-key", perplexity.WithBaseURL(srv.URL)))
	reply, err := p.Query(context.Background(), "prompt", 0.7)
	require.NoError(t, err)
	require.Len(t, reply.Citations, 2)
	assert.Equal(t, "https://acme.com/products", reply.Citations[0].URL)
	assert.Equal(t, "Acme Official Site", reply.Citations[0].Title)
	assert.Equal(t, model.CitationUnknown, reply.Citations[0].Type)
}

func TestPerplexityProvider_BareCitationsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "pplx-2",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Answer."}}],
			"citations": ["https://example.com/a", "https://example.com/b"],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1}
		}`))
	}))
	defer srv.Close()

	p := NewPerplexityProvider(perplexity.NewClient("test-key", perplexity.WithBaseURL(srv.URL)))
	reply, err := p.Query(context.Background(), "prompt", 0.7)
	require.NoError(t, err)
	require.Len(t, reply.Citations, 2)
	assert.Equal(t, "https://example.com/a", reply.Citations[0].URL)
	assert.Empty(t, reply.Citations[0].Title)
}

func TestGrokProvider_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "grok-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Acme ranks first."}}],
			"citations": ["https://acme.com"],
			"usage": {"prompt_tokens": 8, "completion_tokens": 16}
		}`))
	}))
	defer srv.Close()

	p := NewGrokProvider(grok.NewClient("test-key", grok.WithBaseURL(srv.URL)))
	reply, err := p.Query(context.Background(), "prompt", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Acme ranks first.", reply.Text)
	require.Len(t, reply.Citations, 1)
	assert.Equal(t, "https://acme.com", reply.Citations[0].URL)
}

func TestGeminiProvider_GroundingCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "Acme is a solid choice."}]},
				"groundingMetadata": {"groundingChunks": [
					{"web": {"uri": "https://en.wikipedia.org/wiki/Acme", "title": "Acme - Wikipedia"}}
				]}
			}],
			"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 20}
		}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(gemini.NewClient("test-key", gemini.WithBaseURL(srv.URL)))
	reply, err := p.Query(context.Background(), "prompt", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Acme is a solid choice.", reply.Text)
	assert.Equal(t, int64(5), reply.InputTokens)
	require.Len(t, reply.Citations, 1)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Acme", reply.Citations[0].URL)
}

func TestGeminiProvider_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewGeminiProvider(gemini.NewClient("test-key", gemini.WithBaseURL(srv.URL)))
	_, err := p.Query(context.Background(), "prompt", 0.7)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

// fakeAnthropicClient avoids standing up the real SDK transport.
type fakeAnthropicClient struct {
	resp *anthropic.MessageResponse
	err  error
}

func (f *fakeAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestClaudeProvider_Query(t *testing.T) {
	client := &fakeAnthropicClient{resp: &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "Acme stands out."}},
		Usage:   anthropic.TokenUsage{InputTokens: 9, OutputTokens: 18},
	}}

	p := NewClaudeProvider(client, "claude-sonnet-4-5-20250929")
	reply, err := p.Query(context.Background(), "prompt", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Acme stands out.", reply.Text)
	assert.Equal(t, int64(9), reply.InputTokens)
	assert.Equal(t, int64(18), reply.OutputTokens)
}

func TestProviderNames(t *testing.T) {
	assert.Equal(t, "openai", (&OpenAIProvider{}).Name())
	assert.Equal(t, "claude", (&ClaudeProvider{}).Name())
	assert.Equal(t, "gemini", (&GeminiProvider{}).Name())
	assert.Equal(t, "perplexity", (&PerplexityProvider{}).Name())
	assert.Equal(t, "grok", (&GrokProvider{}).Name())
}
