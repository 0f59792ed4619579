// Package cost estimates API spend for probe and extraction calls across the
// answer-engine providers.
package cost

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityRate holds Perplexity pricing: token rates plus a flat
// per-request search fee.
type PerplexityRate struct {
	Input      float64 `yaml:"input" mapstructure:"input"`
	Output     float64 `yaml:"output" mapstructure:"output"`
	PerRequest float64 `yaml:"per_request" mapstructure:"per_request"`
}

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
	Gemini     map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Grok       map[string]ModelRate `yaml:"grok" mapstructure:"grok"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

func tokenCost(rate ModelRate, input, output int64) float64 {
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Claude computes the cost for a Claude API call, including prompt cache
// write and read traffic.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	cost := tokenCost(rate, input, output)
	cost += (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	cost += (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul
	return cost
}

// Probe computes the cost of one answer-engine probe. Unknown providers and
// models cost 0 rather than failing the audit.
func (c *Calculator) Probe(provider, model string, input, output int64) float64 {
	switch provider {
	case "claude":
		return c.Claude(model, input, output, 0, 0)
	case "openai":
		if rate, ok := c.rates.OpenAI[model]; ok {
			return tokenCost(rate, input, output)
		}
	case "gemini":
		if rate, ok := c.rates.Gemini[model]; ok {
			return tokenCost(rate, input, output)
		}
	case "grok":
		if rate, ok := c.rates.Grok[model]; ok {
			return tokenCost(rate, input, output)
		}
	case "perplexity":
		r := c.rates.Perplexity
		return (float64(input)/1e6)*r.Input + (float64(output)/1e6)*r.Output + r.PerRequest
	}
	return 0
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o":      {Input: 2.50, Output: 10.00},
			"gpt-4o-mini": {Input: 0.15, Output: 0.60},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
		},
		Grok: map[string]ModelRate{
			"grok-3": {Input: 3.00, Output: 15.00},
		},
		Perplexity: PerplexityRate{Input: 1.00, Output: 1.00, PerRequest: 0.005},
	}
}
