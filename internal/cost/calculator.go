package cost

import "github.com/sells-group/conftool-helper/internal/model"

// Provider names accepted by Calculator.Estimate.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for oracle usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return rate.price(input, output, cacheWrite, cacheRead)
}

// Gemini computes the cost for a Gemini API call. Cached tokens are a subset
// of the prompt tokens reported by the API and are billed at the cache rate.
func (c *Calculator) Gemini(model string, input, output, cached int) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	if cached > input {
		cached = input
	}
	return rate.price(input-cached, output, 0, cached)
}

// Estimate prices usage reported by the named provider. Unknown providers
// and models cost 0.
func (c *Calculator) Estimate(provider, modelID string, usage model.TokenUsage) float64 {
	switch provider {
	case ProviderAnthropic:
		return c.Claude(modelID, usage.InputTokens, usage.OutputTokens, usage.CacheCreationTokens, usage.CacheReadTokens)
	case ProviderGemini:
		return c.Gemini(modelID, usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens)
	default:
		return 0
	}
}

func (r ModelRate) price(input, output, cacheWrite, cacheRead int) float64 {
	inCost := (float64(input) / 1e6) * r.Input
	outCost := (float64(output) / 1e6) * r.Output
	cwCost := (float64(cacheWrite) / 1e6) * r.Input * r.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * r.Input * r.CacheReadMul
	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {
				Input: 0.30, Output: 2.50,
				CacheReadMul: 0.25,
			},
			"gemini-2.5-pro": {
				Input: 1.25, Output: 10.00,
				CacheReadMul: 0.25,
			},
		},
	}
}
