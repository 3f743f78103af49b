package usage

import (
	"maps"
	"strings"
)

// FallbackModel keys the rate applied to models without their own entry.
const FallbackModel = "*"

// Pricing maps a model name to a blended USD rate per one million tokens.
// Completions report a single token total, so input and output are not priced
// separately.
type Pricing map[string]float64

// DefaultPricing returns blended list prices for the default models.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-sonnet-4-20250514": 9.0,
		"claude-3-5-sonnet":        9.0,
		"claude-3-haiku":           0.75,
		"gpt-4-turbo-preview":      20.0,
		"gpt-4o":                   6.25,
		"gpt-4o-mini":              0.375,
		"gemini-2.0-flash":         0.25,
		"gemini-1.5-pro":           3.125,
		FallbackModel:              9.0,
	}
}

// WithOverrides returns a copy of p with overrides applied on top.
func (p Pricing) WithOverrides(overrides map[string]float64) Pricing {
	out := maps.Clone(p)
	if out == nil {
		out = Pricing{}
	}
	for model, rate := range overrides {
		out[strings.TrimSpace(model)] = rate
	}
	return out
}

// Cost returns the USD cost of tokens on model. Unknown models use the
// fallback rate, or zero when none is configured.
func (p Pricing) Cost(model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	rate, ok := p[model]
	if !ok {
		rate = p[FallbackModel]
	}
	return float64(tokens) / 1_000_000 * rate
}
