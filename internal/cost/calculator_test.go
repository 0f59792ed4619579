package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"sonnet": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		OpenAI:     map[string]ModelRate{"gpt-4o": {Input: 2.50, Output: 10.00}},
		Gemini:     map[string]ModelRate{"gemini-2.0-flash": {Input: 0.10, Output: 0.40}},
		Grok:       map[string]ModelRate{"grok-3": {Input: 3.00, Output: 15.00}},
		Perplexity: PerplexityRate{Input: 1.00, Output: 1.00, PerRequest: 0.005},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name                            string
		model                           string
		input, output, cacheW, cacheR   int64
		want                            float64
	}{
		{name: "haiku basic", model: "haiku", input: 1_000_000, output: 1_000_000, want: 4.80},
		{name: "sonnet basic", model: "sonnet", input: 2_000_000, output: 500_000, want: 13.50},
		{name: "cache write", model: "haiku", cacheW: 1_000_000, want: 1.00},
		{name: "cache read", model: "haiku", cacheR: 1_000_000, want: 0.08},
		{name: "unknown model", model: "nope", input: 1_000_000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Claude(tt.model, tt.input, tt.output, tt.cacheW, tt.cacheR)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name          string
		provider      string
		model         string
		input, output int64
		want          float64
	}{
		{name: "openai", provider: "openai", model: "gpt-4o", input: 1_000_000, output: 100_000, want: 3.50},
		{name: "gemini", provider: "gemini", model: "gemini-2.0-flash", input: 1_000_000, output: 1_000_000, want: 0.50},
		{name: "grok", provider: "grok", model: "grok-3", input: 100_000, output: 100_000, want: 1.80},
		{name: "claude via probe", provider: "claude", model: "sonnet", input: 1_000_000, output: 0, want: 3.00},
		{name: "perplexity includes request fee", provider: "perplexity", model: "", input: 1_000_000, output: 0, want: 1.005},
		{name: "unknown provider", provider: "mystery", model: "x", input: 1_000_000, want: 0},
		{name: "unknown openai model", provider: "openai", model: "gpt-99", input: 1_000_000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Probe(tt.provider, tt.model, tt.input, tt.output)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()
	assert.NotEmpty(t, rates.Anthropic)
	assert.NotEmpty(t, rates.OpenAI)
	assert.NotEmpty(t, rates.Gemini)
	assert.NotEmpty(t, rates.Grok)
	assert.Greater(t, rates.Perplexity.PerRequest, 0.0)
}
