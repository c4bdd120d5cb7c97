package cost

// Rates holds per-model oracle pricing, keyed by model id.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for oracle usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Models missing
// from rates fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	merged := DefaultRates()
	for model, r := range rates.Models {
		merged.Models[model] = r
	}
	return &Calculator{rates: merged}
}

// Tokens computes the cost in USD for a single completion. Returns 0 for
// unknown models.
func (c *Calculator) Tokens(model string, input, output int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	return inCost + outCost
}

// Known reports whether pricing exists for model.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates.Models[model]
	return ok
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
			"gpt-4o":                     {Input: 2.50, Output: 10.00},
			"gpt-4.1-mini":               {Input: 0.40, Output: 1.60},
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
